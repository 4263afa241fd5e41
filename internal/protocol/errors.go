package protocol

import (
	"fmt"
	"time"

	"github.com/plcweb/console/internal/jsonrpc"
)

// HTTPErrorDetails provides detailed information about HTTP-level errors
type HTTPErrorDetails struct {
	StatusCode  int               `json:"statusCode"`
	StatusText  string            `json:"statusText"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
}

// TransportError reports a failure to complete the HTTP exchange: a network error
// or a non-2xx status.
type TransportError struct {
	Op          string            `json:"op"`
	URL         string            `json:"url"`
	HTTPDetails *HTTPErrorDetails `json:"httpDetails,omitempty"`
	Err         error             `json:"-"`
	Timestamp   time.Time         `json:"timestamp"`
}

func (e *TransportError) Error() string {
	if e.HTTPDetails != nil {
		return fmt.Sprintf("%s %s: HTTP %d %s", e.Op, e.URL, e.HTTPDetails.StatusCode, e.HTTPDetails.StatusText)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status, or 0 for network failures.
func (e *TransportError) StatusCode() int {
	if e.HTTPDetails == nil {
		return 0
	}
	return e.HTTPDetails.StatusCode
}

// IsRetryable determines if the error condition might be resolved by retrying.
// The client never retries on its own.
func (e *TransportError) IsRetryable() bool {
	if e.HTTPDetails == nil {
		return true
	}
	code := e.HTTPDetails.StatusCode
	return code == 429 || code >= 500
}

// RpcError is a protocol-level error reported by the controller. Code and
// Message are preserved exactly as received.
type RpcError struct {
	ID      string `json:"id"`
	Method  string `json:"method,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    []byte `json:"data,omitempty"`
}

func (e *RpcError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("%s failed with rpc error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Is matches another *RpcError with the same code, or any *RpcError when the
// target code is zero.
func (e *RpcError) Is(target error) bool {
	t, ok := target.(*RpcError)
	if !ok {
		return false
	}
	return t.Code == 0 || t.Code == e.Code
}

func newRpcError(method string, resp *jsonrpc.Response) *RpcError {
	return &RpcError{
		ID:      resp.ID,
		Method:  method,
		Code:    resp.Error.Code,
		Message: resp.Error.Message,
		Data:    resp.Error.Data,
	}
}

// CancelledError reports that the caller's context ended the operation.
// It unwraps to context.Canceled or context.DeadlineExceeded.
type CancelledError struct {
	Op  string
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", e.Op, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// ProtocolError reports a 2xx response whose body is not a valid JSON-RPC response.
type ProtocolError struct {
	Op      string
	Message string
	Body    string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ArgumentError reports an invalid batch detected before any network activity.
type ArgumentError struct {
	Argument string
	Message  string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Argument, e.Message)
}

// ChunkingImpossibleError reports a request that does not fit into a chunk on its own.
type ChunkingImpossibleError struct {
	RequestID string
	Method    string
	Size      int
	Limit     int
}

func (e *ChunkingImpossibleError) Error() string {
	return fmt.Sprintf("request %s (%s) needs %d bytes, exceeding the request size limit of %d bytes",
		e.RequestID, e.Method, e.Size, e.Limit)
}

// InternalConsistencyError reports that the chunk plan does not add up to the
// full batch serialization. Nothing is sent when it occurs.
type InternalConsistencyError struct {
	Expected int
	Actual   int
	Chunks   int
}

func (e *InternalConsistencyError) Error() string {
	return fmt.Sprintf("chunk plan inconsistent: %d chunks account for %d bytes, batch has %d",
		e.Chunks, e.Actual, e.Expected)
}

// BulkRequestError reports a chunk in which at least one request failed.
// Successes holds every successful response received so far in batch order,
// including the failed chunk's successes. Failures holds the failed chunk's
// error responses. Later chunks were not sent.
type BulkRequestError struct {
	Successes  []jsonrpc.Response
	Failures   []jsonrpc.Response
	ChunkIndex int
	ChunkCount int
}

func (e *BulkRequestError) Error() string {
	msg := fmt.Sprintf("bulk request failed in chunk %d of %d: %d failed, %d succeeded",
		e.ChunkIndex+1, e.ChunkCount, len(e.Failures), len(e.Successes))
	if len(e.Failures) > 0 && e.Failures[0].Error != nil {
		first := e.Failures[0]
		msg += fmt.Sprintf(" (first failure %s: %d %s)", first.ID, first.Error.Code, first.Error.Message)
	}
	return msg
}

// RpcErrors converts the failures into RpcError values.
func (e *BulkRequestError) RpcErrors() []*RpcError {
	errs := make([]*RpcError, 0, len(e.Failures))
	for i := range e.Failures {
		if e.Failures[i].Error != nil {
			errs = append(errs, newRpcError("", &e.Failures[i]))
		}
	}
	return errs
}

// TicketTransferError reports a failed ticket download.
type TicketTransferError struct {
	TicketID   string
	StatusCode int
	Err        error
}

func (e *TicketTransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ticket %s transfer failed with HTTP %d", e.TicketID, e.StatusCode)
	}
	return fmt.Sprintf("ticket %s transfer failed: %v", e.TicketID, e.Err)
}

func (e *TicketTransferError) Unwrap() error { return e.Err }

// TicketUploadError reports a failed ticket upload. Err holds the underlying cause.
type TicketUploadError struct {
	TicketID string
	Err      error
}

func (e *TicketUploadError) Error() string {
	return fmt.Sprintf("ticket %s upload failed: %v", e.TicketID, e.Err)
}

func (e *TicketUploadError) Unwrap() error { return e.Err }
