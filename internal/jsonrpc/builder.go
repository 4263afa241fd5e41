package jsonrpc

import (
	"github.com/google/uuid"

	"github.com/plcweb/console/internal/validation"
)

// IDGenerator produces correlation ids that are unique within a session.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates random UUID strings.
type UUIDGenerator struct{}

// Generate returns a new random UUID.
func (UUIDGenerator) Generate() string {
	return uuid.New().String()
}

// GeneratorFunc adapts a function to IDGenerator.
type GeneratorFunc func() string

// Generate calls f.
func (f GeneratorFunc) Generate() string {
	return f()
}

// Builder constructs requests with a fixed protocol version and an id source.
type Builder struct {
	version       string
	ids           IDGenerator
	performChecks bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithVersion overrides the jsonrpc member.
func WithVersion(version string) BuilderOption {
	return func(b *Builder) { b.version = version }
}

// WithIDGenerator sets the correlation id source.
func WithIDGenerator(ids IDGenerator) BuilderOption {
	return func(b *Builder) { b.ids = ids }
}

// WithChecks enables or disables parameter validation in the typed builders.
func WithChecks(enabled bool) BuilderOption {
	return func(b *Builder) { b.performChecks = enabled }
}

// NewBuilder returns a Builder using Version, UUID ids and validation enabled.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		version:       Version,
		ids:           UUIDGenerator{},
		performChecks: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PerformChecks reports whether the typed builders validate their arguments.
func (b *Builder) PerformChecks() bool {
	return b.performChecks
}

// Build creates a request for method. A copy of params is stripped of absent
// values; an empty id is replaced by a generated one.
func (b *Builder) Build(method string, params *Params, id string) (*Request, error) {
	if err := validation.CheckRequired("method", method, true); err != nil {
		return nil, err
	}
	if id == "" {
		id = b.ids.Generate()
	}
	req := &Request{
		Version: b.version,
		ID:      id,
		Method:  method,
		Params:  params.Clone(),
	}
	req.StripNulls()
	return req, nil
}

// NextID returns a fresh correlation id.
func (b *Builder) NextID() string {
	return b.ids.Generate()
}
