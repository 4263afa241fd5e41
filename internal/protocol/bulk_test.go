package protocol_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/plcsim"
	"github.com/plcweb/console/internal/protocol"
)

// padded builds a public request whose serialization grows with pad.
func padded(t *testing.T, id string, pad int) *jsonrpc.Request {
	t.Helper()
	params := jsonrpc.NewParams().Set("pad", strings.Repeat("x", pad)).Set("absent", nil)
	req, err := jsonrpc.NewBuilder().Build(jsonrpc.MethodPing, params, id)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func batch(t *testing.T, n, pad int) []*jsonrpc.Request {
	t.Helper()
	reqs := make([]*jsonrpc.Request, n)
	for i := range reqs {
		reqs[i] = padded(t, fmt.Sprintf("r%02d", i), pad+i*7)
	}
	return reqs
}

func size(t *testing.T, req *jsonrpc.Request) int {
	t.Helper()
	b, err := req.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return len(b)
}

func ids(responses []jsonrpc.Response) string {
	out := make([]string, len(responses))
	for i, r := range responses {
		out[i] = r.ID
	}
	return strings.Join(out, ",")
}

func TestPlanChunksSizeInvariant(t *testing.T) {
	for _, limit := range []int{400, 512, 777, 1024, 4096} {
		t.Run(fmt.Sprint(limit), func(t *testing.T) {
			reqs := batch(t, 40, 20)
			full, err := jsonrpc.MarshalBatch(reqs)
			if err != nil {
				t.Fatal(err)
			}

			chunks, err := protocol.PlanChunks(reqs, limit)
			if err != nil {
				t.Fatal(err)
			}

			total := 0
			var joined bytes.Buffer
			next := 0
			for i, ch := range chunks {
				if ch.Start != next || ch.End <= ch.Start {
					t.Fatalf("chunk %d covers [%d,%d), expected start %d", i, ch.Start, ch.End, next)
				}
				next = ch.End
				if ch.Len() > 1 && len(ch.Body) >= limit {
					t.Errorf("chunk %d has %d bytes, limit %d", i, len(ch.Body), limit)
				}
				total += len(ch.Body) - 2
				if i > 0 {
					joined.WriteByte(',')
				}
				joined.Write(ch.Body[1 : len(ch.Body)-1])
			}
			if next != len(reqs) {
				t.Fatalf("chunks cover %d of %d requests", next, len(reqs))
			}
			if total+len(chunks)-1 != len(full)-2 {
				t.Errorf("element bytes %d + %d commas != %d", total, len(chunks)-1, len(full)-2)
			}
			if "["+joined.String()+"]" != string(full) {
				t.Error("chunk elements do not reassemble into the full batch")
			}
			if bytes.Contains(full, []byte("null")) {
				t.Error("absent parameters were serialized")
			}
		})
	}
}

func TestPlanChunksSingleChunkWhenBatchFits(t *testing.T) {
	reqs := batch(t, 3, 10)
	chunks, err := protocol.PlanChunks(reqs, protocol.MaxRequestSizeLow)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Len() != 3 {
		t.Fatalf("expected one chunk of 3, got %+v", chunks)
	}
}

func TestPlanChunksBoundaryFallsBeforeOverflowingRequest(t *testing.T) {
	reqs := batch(t, 5, 100)
	firstThree := 2 + size(t, reqs[0]) + 1 + size(t, reqs[1]) + 1 + size(t, reqs[2])
	limit := firstThree + 1

	if firstThree+1+size(t, reqs[3]) < limit {
		t.Fatal("fixture does not overflow at request 4")
	}

	chunks, err := protocol.PlanChunks(reqs, limit)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Start != 0 || chunks[0].End != 3 || chunks[1].Start != 3 || chunks[1].End != 5 {
		t.Errorf("unexpected boundaries [%d,%d) [%d,%d)", chunks[0].Start, chunks[0].End, chunks[1].Start, chunks[1].End)
	}
	if len(chunks[0].Body) != firstThree {
		t.Errorf("first chunk has %d bytes, want %d", len(chunks[0].Body), firstThree)
	}
}

func TestPlanChunksRejectsInvalidBatches(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := protocol.PlanChunks(nil, 1024)
		var argErr *protocol.ArgumentError
		if !errors.As(err, &argErr) {
			t.Fatalf("expected ArgumentError, got %v", err)
		}
	})
	for n := 2; n <= 5; n++ {
		t.Run(fmt.Sprintf("duplicate ids in %d", n), func(t *testing.T) {
			reqs := batch(t, n, 1)
			reqs[n-1].ID = reqs[0].ID
			_, err := protocol.PlanChunks(reqs, 1024)
			var argErr *protocol.ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("expected ArgumentError, got %v", err)
			}
		})
	}
	t.Run("oversized request", func(t *testing.T) {
		reqs := []*jsonrpc.Request{padded(t, "a", 10), padded(t, "b", 2000), padded(t, "c", 10)}
		_, err := protocol.PlanChunks(reqs, 1024)
		var impossible *protocol.ChunkingImpossibleError
		if !errors.As(err, &impossible) {
			t.Fatalf("expected ChunkingImpossibleError, got %v", err)
		}
		if impossible.RequestID != "b" || impossible.Limit != 1024 {
			t.Errorf("unexpected error %+v", impossible)
		}
	})
}

func TestSendBulkSingleChunk(t *testing.T) {
	sim, ts := newSim(t, plcsim.Config{})
	client := newClient(t, ts.URL)

	resp, err := client.SendBulk(context.Background(), batch(t, 3, 5))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Chunks != 1 || sim.RequestCount() != 1 {
		t.Errorf("chunks=%d http calls=%d", resp.Chunks, sim.RequestCount())
	}
	if got := ids(resp.Responses); got != "r00,r01,r02" {
		t.Errorf("order %s", got)
	}
}

func TestSendBulkPreservesOrderAcrossChunks(t *testing.T) {
	sim, ts := newSim(t, plcsim.Config{})
	client := newClient(t, ts.URL)
	client.SetMaxRequestSize(600)

	reqs := batch(t, 12, 60)
	var events []protocol.ChunkEvent
	resp, err := client.SendBulk(context.Background(), reqs, protocol.WithChunkObserver(func(ev protocol.ChunkEvent) {
		events = append(events, ev)
	}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Chunks < 2 {
		t.Fatalf("expected several chunks, got %d", resp.Chunks)
	}

	want := make([]string, len(reqs))
	for i, r := range reqs {
		want[i] = r.ID
	}
	if got := ids(resp.Responses); got != strings.Join(want, ",") {
		t.Errorf("order %s", got)
	}

	recs := sim.Requests()
	if len(recs) != resp.Chunks {
		t.Fatalf("%d http calls for %d chunks", len(recs), resp.Chunks)
	}
	var sent []string
	for _, rec := range recs {
		if !rec.Batch || rec.Size >= 600 {
			t.Errorf("unexpected chunk %+v", rec)
		}
		sent = append(sent, rec.IDs...)
	}
	if strings.Join(sent, ",") != strings.Join(want, ",") {
		t.Errorf("chunks sent out of order: %v", sent)
	}

	if len(events) != 2*resp.Chunks || !events[len(events)-1].Done {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestSendBulkFailsFastPerChunk(t *testing.T) {
	sim, ts := newSim(t, plcsim.Config{})
	client := newClient(t, ts.URL)
	client.SetMaxRequestSize(600)

	// a protected method without a session fails
	reqs := batch(t, 12, 60)
	failing := 5
	reqs[failing], _ = jsonrpc.NewBuilder().Build(jsonrpc.MethodProgramRead,
		jsonrpc.NewParams().Set("var", strings.Repeat("v", 60)), reqs[failing].ID)

	chunks, err := protocol.PlanChunks(reqs, 600)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 3 || failing < chunks[1].Start || failing >= chunks[1].End {
		t.Fatalf("fixture needs the failing request in the second of 3+ chunks, got %+v", chunks)
	}

	_, err = client.SendBulk(context.Background(), reqs)
	var bulkErr *protocol.BulkRequestError
	if !errors.As(err, &bulkErr) {
		t.Fatalf("expected BulkRequestError, got %v", err)
	}
	if bulkErr.ChunkIndex != 1 {
		t.Errorf("failed chunk %d", bulkErr.ChunkIndex)
	}
	if len(bulkErr.Failures) != 1 || bulkErr.Failures[0].ID != reqs[failing].ID {
		t.Errorf("unexpected failures %+v", bulkErr.Failures)
	}
	wantSuccesses := chunks[1].End - 1
	if len(bulkErr.Successes) != wantSuccesses {
		t.Errorf("%d successes, want %d", len(bulkErr.Successes), wantSuccesses)
	}
	rpcErrs := bulkErr.RpcErrors()
	if len(rpcErrs) != 1 || rpcErrs[0].Code != plcsim.CodePermissionDenied {
		t.Errorf("unexpected rpc errors %+v", rpcErrs)
	}
	if sim.RequestCount() != 2 {
		t.Errorf("later chunks were sent: %d http calls", sim.RequestCount())
	}
}

func TestSendBulkMakesNoCallsForInvalidBatches(t *testing.T) {
	sim, ts := newSim(t, plcsim.Config{})
	client := newClient(t, ts.URL)

	oversized := []*jsonrpc.Request{padded(t, "big", protocol.MaxRequestSizeLow)}
	if _, err := client.SendBulk(context.Background(), oversized); err == nil {
		t.Error("expected oversized request to fail")
	}

	dup := batch(t, 2, 1)
	dup[1].ID = dup[0].ID
	if _, err := client.SendBulk(context.Background(), dup); err == nil {
		t.Error("expected duplicate ids to fail")
	}

	if sim.RequestCount() != 0 {
		t.Errorf("%d http calls made", sim.RequestCount())
	}
}

func TestSendBulkStopsWhenCancelled(t *testing.T) {
	sim, ts := newSim(t, plcsim.Config{})
	client := newClient(t, ts.URL)
	client.SetMaxRequestSize(600)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := client.SendBulk(ctx, batch(t, 12, 60), protocol.WithChunkObserver(func(ev protocol.ChunkEvent) {
		if ev.Done && ev.Index == 0 {
			cancel()
		}
	}))

	var cancelled *protocol.CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
	if sim.RequestCount() != 1 {
		t.Errorf("%d http calls after cancellation", sim.RequestCount())
	}
}

func TestSendBulkServerRejectsOversizedBody(t *testing.T) {
	_, ts := newSim(t, plcsim.Config{MaxRequestSize: 256})
	client := newClient(t, ts.URL)

	_, err := client.SendBulk(context.Background(), batch(t, 4, 100))
	var transportErr *protocol.TransportError
	if !errors.As(err, &transportErr) || transportErr.StatusCode() != 413 {
		t.Fatalf("expected HTTP 413, got %v", err)
	}
}
