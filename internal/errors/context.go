// Package errors turns the library's typed errors into contextual errors with
// a category, severity and recovery suggestions for the command line and the
// interactive shell.
package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/plcweb/console/internal/logging"
)

// ErrorType categorizes different types of errors for appropriate handling
type ErrorType string

const (
	ErrorTypeConnection     ErrorType = "connection"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeConfiguration  ErrorType = "configuration"
	ErrorTypeProtocol       ErrorType = "protocol"
	ErrorTypeRPC            ErrorType = "rpc"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeCancelled      ErrorType = "cancelled"
	ErrorTypeBulk           ErrorType = "bulk"
	ErrorTypeTransfer       ErrorType = "transfer"
	ErrorTypeRuntime        ErrorType = "runtime"
)

// ErrorSeverity indicates the impact level of an error
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ContextualError provides enhanced error information with diagnostic context
type ContextualError struct {
	Type        ErrorType              `json:"type"`
	Severity    ErrorSeverity          `json:"severity"`
	Message     string                 `json:"message"`
	UserMessage string                 `json:"userMessage,omitempty"`
	Code        string                 `json:"code,omitempty"`
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	StackTrace  []string               `json:"stackTrace,omitempty"`
	Cause       error                  `json:"-"`
	Recoverable bool                   `json:"recoverable"`
	Suggestions []string               `json:"suggestions,omitempty"`
}

func (e *ContextualError) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Type, e.Message)
}

func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *ContextualError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// GetSuggestions returns recovery hints, falling back to defaults for the error type.
func (e *ContextualError) GetSuggestions() []string {
	if len(e.Suggestions) > 0 {
		return e.Suggestions
	}
	switch e.Type {
	case ErrorTypeConnection:
		return []string{"Check that the controller is reachable", "Run 'plcweb probe' to test the connection"}
	case ErrorTypeAuthentication:
		return []string{"Log in again with :relogin", "Check the profile's user and password"}
	case ErrorTypeConfiguration:
		return []string{"Inspect profiles with 'plcweb profile list'"}
	case ErrorTypeCancelled:
		return nil
	default:
		return []string{"Retry the operation"}
	}
}

// ErrorBuilder provides a fluent interface for creating contextual errors
type ErrorBuilder struct {
	err          *ContextualError
	logger       *logging.Logger
	captureStack bool
}

// NewErrorBuilder creates a new error builder with default settings
func NewErrorBuilder(errorType ErrorType, component string) *ErrorBuilder {
	return &ErrorBuilder{
		err: &ContextualError{
			Type:        errorType,
			Severity:    SeverityMedium,
			Component:   component,
			Context:     make(map[string]interface{}),
			Timestamp:   time.Now(),
			Recoverable: true,
		},
		logger: logging.GetGlobalLogger().WithComponent(component),
	}
}

func (eb *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	eb.err.Severity = severity
	return eb
}

func (eb *ErrorBuilder) WithMessage(message string) *ErrorBuilder {
	eb.err.Message = message
	return eb
}

func (eb *ErrorBuilder) WithUserMessage(userMessage string) *ErrorBuilder {
	eb.err.UserMessage = userMessage
	return eb
}

func (eb *ErrorBuilder) WithCode(code string) *ErrorBuilder {
	eb.err.Code = code
	return eb
}

func (eb *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	eb.err.Operation = operation
	return eb
}

func (eb *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	eb.err.Cause = cause
	return eb
}

func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.err.Context[key] = value
	return eb
}

func (eb *ErrorBuilder) WithRecoverable(recoverable bool) *ErrorBuilder {
	eb.err.Recoverable = recoverable
	return eb
}

func (eb *ErrorBuilder) WithSuggestions(suggestions ...string) *ErrorBuilder {
	eb.err.Suggestions = append(eb.err.Suggestions, suggestions...)
	return eb
}

// WithLogger replaces the logger Build reports to.
func (eb *ErrorBuilder) WithLogger(logger *logging.Logger) *ErrorBuilder {
	eb.logger = logger
	return eb
}

// WithStackTrace captures the caller's stack when Build runs.
func (eb *ErrorBuilder) WithStackTrace() *ErrorBuilder {
	eb.captureStack = true
	return eb
}

// Build creates the contextual error and logs it at a level matching its severity.
func (eb *ErrorBuilder) Build() *ContextualError {
	if eb.captureStack {
		eb.err.StackTrace = captureStackTrace(2)
	}

	fields := map[string]interface{}{
		"error_type":  string(eb.err.Type),
		"severity":    string(eb.err.Severity),
		"recoverable": eb.err.Recoverable,
	}
	if eb.err.Operation != "" {
		fields["operation"] = eb.err.Operation
	}
	if eb.err.Code != "" {
		fields["error_code"] = eb.err.Code
	}
	for k, v := range eb.err.Context {
		fields["ctx_"+k] = v
	}

	msg := eb.err.Message
	if eb.err.Cause != nil && !strings.Contains(msg, eb.err.Cause.Error()) {
		msg = fmt.Sprintf("%s: %v", msg, eb.err.Cause)
	}

	logger := eb.logger.WithFields(fields)
	switch eb.err.Severity {
	case SeverityCritical, SeverityHigh:
		logger.Error(msg)
	case SeverityMedium:
		logger.Warn(msg)
	default:
		logger.Debug(msg)
	}
	return eb.err
}

func captureStackTrace(skip int) []string {
	var traces []string
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		funcName := "unknown"
		if fn := runtime.FuncForPC(pc); fn != nil {
			funcName = fn.Name()
		}
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		traces = append(traces, fmt.Sprintf("%s:%d %s", file, line, funcName))
	}
	return traces
}
