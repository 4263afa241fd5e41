package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/plcweb/console/internal/auth"
	"github.com/plcweb/console/internal/protocol"
	"github.com/plcweb/console/internal/validation"
)

// RPC error codes that point at the session rather than the request.
const (
	rpcPermissionDenied = 2
	rpcLoginFailed      = 100
)

// Handler classifies library errors into contextual errors.
type Handler struct {
	component string
}

// NewHandler creates a handler that attributes errors to component.
func NewHandler(component string) *Handler {
	return &Handler{component: component}
}

// Classify wraps err using the package's default handler.
func Classify(err error) *ContextualError {
	return NewHandler("console").Process(err, "")
}

// Process classifies err, which occurred during operation. It returns nil for
// a nil error and returns a ContextualError unchanged.
func (h *Handler) Process(err error, operation string) *ContextualError {
	if err == nil {
		return nil
	}
	var existing *ContextualError
	if stderrors.As(err, &existing) {
		return existing
	}

	b := h.builder(err).WithCause(err).WithOperation(operation)
	if b.err.Message == "" {
		b.WithMessage(err.Error())
	}
	return b.Build()
}

func (h *Handler) builder(err error) *ErrorBuilder {
	var (
		cancelled  *protocol.CancelledError
		transport  *protocol.TransportError
		rpcErr     *protocol.RpcError
		protoErr   *protocol.ProtocolError
		argErr     *protocol.ArgumentError
		impossible *protocol.ChunkingImpossibleError
		consistent *protocol.InternalConsistencyError
		bulkErr    *protocol.BulkRequestError
		transfer   *protocol.TicketTransferError
		upload     *protocol.TicketUploadError
		valErr     *validation.ValidationError
	)

	switch {
	case stderrors.As(err, &cancelled):
		return NewErrorBuilder(ErrorTypeCancelled, h.component).
			WithSeverity(SeverityLow).
			WithUserMessage("Operation cancelled")

	case stderrors.As(err, &bulkErr):
		return NewErrorBuilder(ErrorTypeBulk, h.component).
			WithSeverity(SeverityHigh).
			WithUserMessage(fmt.Sprintf("Chunk %d of %d failed; %d requests succeeded before the failure",
				bulkErr.ChunkIndex+1, bulkErr.ChunkCount, len(bulkErr.Successes))).
			WithContext("chunk", bulkErr.ChunkIndex).
			WithContext("failures", len(bulkErr.Failures)).
			WithSuggestions("Fix the failed requests and resend the remaining chunks")

	case stderrors.As(err, &upload), stderrors.As(err, &transfer):
		b := NewErrorBuilder(ErrorTypeTransfer, h.component).
			WithSeverity(SeverityHigh).
			WithSuggestions("Tickets expire; request a new one and retry the transfer")
		if transfer != nil && transfer.StatusCode != 0 {
			b.WithCode(fmt.Sprintf("HTTP_%d", transfer.StatusCode))
		}
		return b

	case stderrors.As(err, &rpcErr):
		b := NewErrorBuilder(ErrorTypeRPC, h.component).
			WithSeverity(SeverityMedium).
			WithCode(fmt.Sprintf("RPC_%d", rpcErr.Code)).
			WithUserMessage(fmt.Sprintf("The controller rejected %s: %s", methodOr(rpcErr.Method), rpcErr.Message))
		if rpcErr.Code == rpcPermissionDenied || rpcErr.Code == rpcLoginFailed {
			b.err.Type = ErrorTypeAuthentication
			b.WithSeverity(SeverityHigh)
		}
		return b

	case stderrors.As(err, &transport):
		b := NewErrorBuilder(ErrorTypeConnection, h.component).
			WithSeverity(SeverityHigh).
			WithRecoverable(transport.IsRetryable()).
			WithContext("url", transport.URL)
		if code := transport.StatusCode(); code != 0 {
			b.WithCode(fmt.Sprintf("HTTP_%d", code))
			if code == 413 {
				b.WithSuggestions("The request exceeds the controller's size limit; send it with 'plcweb bulk'")
			}
		}
		return b

	case stderrors.As(err, &protoErr):
		return NewErrorBuilder(ErrorTypeProtocol, h.component).
			WithSeverity(SeverityHigh).
			WithUserMessage("The controller sent a response that is not valid JSON-RPC").
			WithSuggestions("Check that the address points at the controller's web server")

	case stderrors.As(err, &impossible):
		return NewErrorBuilder(ErrorTypeValidation, h.component).
			WithRecoverable(false).
			WithContext("request", impossible.RequestID).
			WithSuggestions("Split the value across several requests")

	case stderrors.As(err, &consistent):
		return NewErrorBuilder(ErrorTypeRuntime, h.component).
			WithSeverity(SeverityCritical).
			WithRecoverable(false)

	case stderrors.As(err, &valErr):
		return NewErrorBuilder(ErrorTypeValidation, h.component).
			WithCode(string(valErr.Code)).
			WithContext("field", valErr.Field)

	case stderrors.As(err, &argErr):
		return NewErrorBuilder(ErrorTypeValidation, h.component).
			WithContext("argument", argErr.Argument)

	case stderrors.Is(err, auth.ErrNoCredentials):
		return NewErrorBuilder(ErrorTypeAuthentication, h.component).
			WithSuggestions("Log in with :login first")

	default:
		return NewErrorBuilder(ErrorTypeRuntime, h.component)
	}
}

func methodOr(method string) string {
	if method == "" {
		return "the request"
	}
	return method
}
