// Package plcsim is an in-memory stand-in for the controller's web server. It
// speaks the JSON-RPC API on /api/jsonrpc, serves ticket transfers on /api/ticket,
// enforces the request size ceiling and records every request for inspection.
package plcsim

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/plcweb/console/internal/logging"
	"github.com/plcweb/console/internal/protocol"
)

// Config describes the simulated controller.
type Config struct {
	// Users maps user names to passwords. Defaults to admin/admin.
	Users map[string]string
	// APIVersion is reported by Api.Version. Defaults to 1.0.
	APIVersion float64
	// MaxRequestSize overrides the ceiling derived from APIVersion.
	MaxRequestSize int
	// Variables seeds the PLC program variables.
	Variables map[string]interface{}
	// Files seeds the file system.
	Files map[string][]byte
	// Secret signs session tokens. A random secret is used when empty.
	Secret []byte
	// TokenTTL bounds session lifetime. Defaults to 30 minutes.
	TokenTTL       time.Duration
	AllowedOrigins []string
	Logger         *logging.Logger
}

// RecordedRequest describes one HTTP request received by the simulator.
type RecordedRequest struct {
	Path      string
	Methods   []string
	IDs       []string
	Batch     bool
	AuthToken string
	Size      int
	Status    int
	Time      time.Time
}

// Server is the simulated controller. It implements http.Handler.
type Server struct {
	cfg    Config
	router chi.Router
	log    *logging.Logger

	mu         sync.Mutex
	users      map[string]string
	variables  map[string]json.RawMessage
	files      map[string][]byte
	webApps    map[string]*webApp
	tickets    map[string]*ticket
	revoked    map[string]bool
	requests   []RecordedRequest
	systemTime time.Time
	utcOffset  string
	timeRule   json.RawMessage
}

type webApp struct {
	Name      string
	State     string
	Resources map[string]*webResource
}

type webResource struct {
	Name         string
	MediaType    string
	LastModified string
	Visibility   string
	ETag         string
	Data         []byte
}

// New creates a simulator with cfg.
func New(cfg Config) *Server {
	if cfg.Users == nil {
		cfg.Users = map[string]string{"admin": "admin"}
	}
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 1.0
	}
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = protocol.MaxRequestSizeFor(cfg.APIVersion)
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte(uuid.NewString())
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 30 * time.Minute
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetSimLogger()
	}

	s := &Server{
		cfg:        cfg,
		log:        cfg.Logger,
		users:      make(map[string]string, len(cfg.Users)),
		variables:  make(map[string]json.RawMessage, len(cfg.Variables)),
		files:      make(map[string][]byte, len(cfg.Files)),
		webApps:    make(map[string]*webApp),
		tickets:    make(map[string]*ticket),
		revoked:    make(map[string]bool),
		systemTime: time.Now().UTC(),
	}
	for user, password := range cfg.Users {
		s.users[user] = password
	}
	for name, value := range cfg.Variables {
		raw, err := json.Marshal(value)
		if err != nil {
			s.log.Warn("Skipping unencodable variable", "var", name, "error", err.Error())
			continue
		}
		s.variables[name] = raw
	}
	for name, data := range cfg.Files {
		s.files[name] = append([]byte(nil), data...)
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", protocol.AuthHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Post(protocol.EndpointRPC, s.handleRPC)
	r.Post(protocol.EndpointTicket, s.handleTicket)
	s.router = r

	return s
}

// ServeHTTP dispatches to the simulator's router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// MaxRequestSize returns the enforced request size ceiling.
func (s *Server) MaxRequestSize() int {
	return s.cfg.MaxRequestSize
}

// Requests returns a copy of the recorded requests.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// RequestCount returns how many HTTP requests were received.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Reset clears the request log.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// Variable returns the stored value of a program variable.
func (s *Server) Variable(name string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[name]
	return v, ok
}

// File returns the stored content of a file resource.
func (s *Server) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	return data, ok
}

// Password returns the current password of user.
func (s *Server) Password(user string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pw, ok := s.users[user]
	return pw, ok
}

func (s *Server) record(rec RecordedRequest) {
	rec.Time = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, rec)
}
