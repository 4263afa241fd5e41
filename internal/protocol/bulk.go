package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/plcweb/console/internal/jsonrpc"
)

// Chunk is a contiguous run of a batch serialized as one JSON array.
type Chunk struct {
	Start int // index of the first request in the batch
	End   int // index after the last request
	Body  []byte
}

// Len returns the number of requests in the chunk.
func (ch Chunk) Len() int {
	return ch.End - ch.Start
}

// PlanChunks strips absent parameters from every request and splits the batch
// into chunks whose bodies stay below limit. A batch whose full serialization is
// already below limit yields exactly one chunk. No network activity takes place.
func PlanChunks(reqs []*jsonrpc.Request, limit int) ([]Chunk, error) {
	if err := checkBatch(reqs); err != nil {
		return nil, err
	}
	if limit <= 2 {
		return nil, &ArgumentError{Argument: "limit", Message: fmt.Sprintf("request size limit %d is too small", limit)}
	}

	full, err := jsonrpc.MarshalBatch(reqs)
	if err != nil {
		return nil, err
	}
	if len(full) < limit {
		return []Chunk{{Start: 0, End: len(reqs), Body: full}}, nil
	}

	var (
		chunks  []Chunk
		current bytes.Buffer
		start   int
		bodyLen int // length of current once closed with ']'
	)
	seal := func(end int) {
		body := make([]byte, 0, current.Len()+1)
		body = append(body, current.Bytes()...)
		body = append(body, ']')
		chunks = append(chunks, Chunk{Start: start, End: end, Body: body})
	}

	for i, req := range reqs {
		elem, err := req.Marshal()
		if err != nil {
			return nil, err
		}
		if len(elem)+2 > limit {
			return nil, &ChunkingImpossibleError{RequestID: req.ID, Method: req.Method, Size: len(elem) + 2, Limit: limit}
		}
		if i > start && bodyLen+1+len(elem) < limit {
			current.WriteByte(',')
			current.Write(elem)
			bodyLen += 1 + len(elem)
			continue
		}
		if i > start {
			seal(i)
			start = i
		}
		current.Reset()
		current.WriteByte('[')
		current.Write(elem)
		bodyLen = len(elem) + 2
	}
	seal(len(reqs))

	if err := verifyChunks(chunks, len(full)); err != nil {
		return nil, err
	}
	return chunks, nil
}

// verifyChunks checks that the chunk elements plus the commas dropped at chunk
// boundaries add up to the element bytes of the full batch.
func verifyChunks(chunks []Chunk, fullLen int) error {
	elements := 0
	for _, ch := range chunks {
		elements += len(ch.Body) - 2
	}
	actual := elements + len(chunks) - 1
	if actual != fullLen-2 {
		return &InternalConsistencyError{Expected: fullLen, Actual: actual + 2, Chunks: len(chunks)}
	}
	return nil
}

func checkBatch(reqs []*jsonrpc.Request) error {
	if len(reqs) == 0 {
		return &ArgumentError{Argument: "requests", Message: "batch is empty"}
	}
	seen := make(map[string]int, len(reqs))
	for i, req := range reqs {
		if req == nil {
			return &ArgumentError{Argument: "requests", Message: fmt.Sprintf("request %d is nil", i)}
		}
		if req.ID == "" {
			return &ArgumentError{Argument: "requests", Message: fmt.Sprintf("request %d (%s) has no correlation id", i, req.Method)}
		}
		if j, ok := seen[req.ID]; ok {
			return &ArgumentError{Argument: "requests", Message: fmt.Sprintf("duplicate correlation id %q at positions %d and %d", req.ID, j, i)}
		}
		seen[req.ID] = i
	}
	return nil
}

// BulkResponse is the merged result of a bulk call.
type BulkResponse struct {
	Responses []jsonrpc.Response // successful responses in batch order
	Chunks    int
}

// ChunkEvent reports progress of a bulk call. It is emitted before each chunk
// is sent and again, with Done set, once its outcome is known.
type ChunkEvent struct {
	Index    int
	Count    int
	Start    int
	End      int
	Bytes    int
	Done     bool
	Err      error
	Requests int // total requests in the batch
}

// BulkOption configures SendBulk.
type BulkOption func(*bulkConfig)

type bulkConfig struct {
	observers []func(ChunkEvent)
}

// WithChunkObserver registers a progress callback. It runs on the calling goroutine.
func WithChunkObserver(fn func(ChunkEvent)) BulkOption {
	return func(cfg *bulkConfig) {
		if fn != nil {
			cfg.observers = append(cfg.observers, fn)
		}
	}
}

func (cfg *bulkConfig) notify(ev ChunkEvent) {
	for _, fn := range cfg.observers {
		fn(ev)
	}
}

// SendBulk sends a batch, split into chunks that respect MaxRequestSize.
// Chunks are sent in order. The first chunk containing an error response stops
// the call with *BulkRequestError; chunks already acknowledged are not rolled back.
func (c *Client) SendBulk(ctx context.Context, reqs []*jsonrpc.Request, opts ...BulkOption) (*BulkResponse, error) {
	cfg := &bulkConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	chunks, err := PlanChunks(reqs, c.MaxRequestSize())
	if err != nil {
		return nil, err
	}

	results := make([]jsonrpc.Response, 0, len(reqs))
	for i, ch := range chunks {
		ev := ChunkEvent{
			Index:    i,
			Count:    len(chunks),
			Start:    ch.Start,
			End:      ch.End,
			Bytes:    len(ch.Body),
			Requests: len(reqs),
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &CancelledError{Op: "bulk", Err: ctxErr}
		}

		cfg.notify(ev)
		c.logger.LogChunk(i, len(chunks), ch.Len(), len(ch.Body))

		ordered, err := c.sendChunk(ctx, reqs[ch.Start:ch.End], ch, i, len(chunks))
		ev.Done = true
		if err != nil {
			if bulkErr, ok := err.(*BulkRequestError); ok {
				bulkErr.Successes = append(results, bulkErr.Successes...)
			}
			ev.Err = err
			cfg.notify(ev)
			return nil, err
		}
		results = append(results, ordered...)
		cfg.notify(ev)
	}

	return &BulkResponse{Responses: results, Chunks: len(chunks)}, nil
}

func (c *Client) sendChunk(ctx context.Context, reqs []*jsonrpc.Request, ch Chunk, index, count int) ([]jsonrpc.Response, error) {
	var body bytes.Buffer
	_, err := c.do(ctx, exchange{
		info: SendInfo{
			Kind:       ExchangeChunk,
			Method:     "batch",
			RequestID:  reqs[0].ID,
			Endpoint:   EndpointRPC,
			ChunkIndex: index,
			ChunkCount: count,
			BytesSent:  len(ch.Body),
		},
		path:        EndpointRPC,
		contentType: ContentTypeJSON,
		accept:      ContentTypeJSON,
		body:        ch.Body,
	}, func(r io.Reader) (int64, error) {
		return body.ReadFrom(r)
	})
	if err != nil {
		return nil, err
	}

	responses, err := jsonrpc.ParseBatch(body.Bytes())
	if err != nil {
		return nil, &ProtocolError{Op: "bulk", Message: "malformed batch response", Body: truncate(body.Bytes()), Err: err}
	}

	successes, failures, missing := correlate(reqs, responses)
	if len(failures) > 0 {
		return nil, &BulkRequestError{
			Successes:  successes,
			Failures:   failures,
			ChunkIndex: index,
			ChunkCount: count,
		}
	}
	if missing != "" {
		return nil, &ProtocolError{Op: "bulk", Message: fmt.Sprintf("no response for request %q in chunk %d", missing, index+1)}
	}
	return successes, nil
}

// correlate orders responses by the batch order of their requests. Error
// responses that match no request, such as a rejection of the whole array,
// are appended to failures. missing names the first request without a response.
func correlate(reqs []*jsonrpc.Request, responses []jsonrpc.Response) (successes, failures []jsonrpc.Response, missing string) {
	byID := make(map[string]int, len(responses))
	for i := range responses {
		if _, ok := byID[responses[i].ID]; !ok {
			byID[responses[i].ID] = i
		}
	}

	matched := make(map[int]bool, len(responses))
	for _, req := range reqs {
		i, ok := byID[req.ID]
		if !ok {
			if missing == "" {
				missing = req.ID
			}
			continue
		}
		matched[i] = true
		if responses[i].IsError() {
			failures = append(failures, responses[i])
		} else {
			successes = append(successes, responses[i])
		}
	}
	for i := range responses {
		if !matched[i] && responses[i].IsError() {
			failures = append(failures, responses[i])
		}
	}
	return successes, failures, missing
}
