package protocol_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/logging"
	"github.com/plcweb/console/internal/plcsim"
	"github.com/plcweb/console/internal/protocol"
)

func quietLogger() *logging.Logger {
	logger, _ := logging.NewLogger(logging.Config{Output: "discard"})
	return logger
}

func newSim(t *testing.T, cfg plcsim.Config) (*plcsim.Server, *httptest.Server) {
	t.Helper()
	cfg.Logger = quietLogger()
	sim := plcsim.New(cfg)
	ts := httptest.NewServer(sim)
	t.Cleanup(ts.Close)
	return sim, ts
}

func newClient(t *testing.T, url string, opts ...protocol.Option) *protocol.Client {
	t.Helper()
	opts = append([]protocol.Option{protocol.WithLogger(quietLogger())}, opts...)
	client, err := protocol.NewClient(url, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func login(t *testing.T, client *protocol.Client, b *jsonrpc.Builder) {
	t.Helper()
	req, err := b.Login("admin", "admin", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := client.Call(context.Background(), req, &result); err != nil {
		t.Fatal(err)
	}
	client.SetToken(result.Token)
}

func TestNewClientNormalizesAddress(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"192.168.0.1", "https://192.168.0.1", false},
		{"http://plc.local:8080/", "http://plc.local:8080", false},
		{"ftp://plc", "", true},
		{"https://", "", true},
	}
	for _, tt := range tests {
		client, err := protocol.NewClient(tt.in, protocol.WithLogger(quietLogger()))
		if tt.wantErr {
			if err == nil {
				t.Errorf("NewClient(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewClient(%q) = %v", tt.in, err)
			continue
		}
		if client.BaseURL() != tt.want {
			t.Errorf("NewClient(%q).BaseURL() = %q, want %q", tt.in, client.BaseURL(), tt.want)
		}
	}
}

func TestCallDecodesResult(t *testing.T) {
	_, ts := newSim(t, plcsim.Config{APIVersion: 2.0})
	client := newClient(t, ts.URL)
	b := jsonrpc.NewBuilder()

	req, _ := b.Version()
	var version float64
	if err := client.Call(context.Background(), req, &version); err != nil {
		t.Fatal(err)
	}
	if version != 2.0 {
		t.Errorf("version = %v", version)
	}

	stats := client.Statistics()
	if stats.TotalRequests != 1 || stats.SuccessfulRequests != 1 || stats.BytesSent == 0 || stats.BytesReceived == 0 {
		t.Errorf("unexpected statistics %+v", stats)
	}
}

func TestSendSurfacesRpcErrorVerbatim(t *testing.T) {
	_, ts := newSim(t, plcsim.Config{})
	client := newClient(t, ts.URL)
	b := jsonrpc.NewBuilder()

	req, _ := b.ProgramRead(`"DB".missing`, "")
	_, err := client.Send(context.Background(), req)

	var rpcErr *protocol.RpcError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RpcError, got %v", err)
	}
	if rpcErr.Code != plcsim.CodePermissionDenied || rpcErr.Message != "Permission denied" {
		t.Errorf("error not preserved: %+v", rpcErr)
	}
	if !errors.Is(err, &protocol.RpcError{Code: plcsim.CodePermissionDenied}) {
		t.Error("errors.Is should match on code")
	}
}

func TestTransportErrorOnHTTPStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer ts.Close()
	client := newClient(t, ts.URL)

	req, _ := jsonrpc.NewBuilder().Ping()
	_, err := client.Send(context.Background(), req)

	var transportErr *protocol.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if transportErr.StatusCode() != http.StatusServiceUnavailable || !transportErr.IsRetryable() {
		t.Errorf("unexpected details %+v", transportErr.HTTPDetails)
	}
	if !strings.Contains(transportErr.HTTPDetails.Body, "maintenance") {
		t.Errorf("body not kept: %q", transportErr.HTTPDetails.Body)
	}
	if client.Statistics().FailedRequests != 1 {
		t.Errorf("failure not counted: %+v", client.Statistics())
	}
}

func TestTransportErrorOnConnectionFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	client := newClient(t, url)
	req, _ := jsonrpc.NewBuilder().Ping()
	_, err := client.Send(context.Background(), req)

	var transportErr *protocol.TransportError
	if !errors.As(err, &transportErr) || transportErr.StatusCode() != 0 {
		t.Fatalf("expected network TransportError, got %v", err)
	}
}

func TestProtocolErrorOnMalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>login</html>"))
	}))
	defer ts.Close()
	client := newClient(t, ts.URL)

	req, _ := jsonrpc.NewBuilder().Ping()
	_, err := client.Send(context.Background(), req)

	var protoErr *protocol.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestCancellationIsDistinctFromTransportFailure(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)
	client := newClient(t, ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := jsonrpc.NewBuilder().Ping()
	_, err := client.Send(ctx, req)

	var cancelled *protocol.CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline cause, got %v", cancelled.Err)
	}
	var transportErr *protocol.TransportError
	if errors.As(err, &transportErr) {
		t.Error("cancellation must not be a TransportError")
	}
}

func TestCancelPendingAbortsInFlightRequests(t *testing.T) {
	started := make(chan struct{}, 3)
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)
	client := newClient(t, ts.URL)
	b := jsonrpc.NewBuilder()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := b.Ping()
			_, errs[i] = client.Send(context.Background(), req)
		}(i)
	}
	for range errs {
		<-started
	}
	client.CancelPending()
	wg.Wait()

	for i, err := range errs {
		var cancelled *protocol.CancelledError
		if !errors.As(err, &cancelled) {
			t.Errorf("request %d: expected CancelledError, got %v", i, err)
		}
	}
}

func TestTokenHeaderLifecycle(t *testing.T) {
	sim, ts := newSim(t, plcsim.Config{Variables: map[string]interface{}{`"DB".x`: 1}})
	client := newClient(t, ts.URL)
	b := jsonrpc.NewBuilder()

	login(t, client, b)
	token := client.Token()
	if token == "" {
		t.Fatal("no token installed")
	}

	req, _ := b.ProgramRead(`"DB".x`, "")
	if _, err := client.Send(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	client.ClearToken()
	req, _ = b.Ping()
	if _, err := client.Send(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	recs := sim.Requests()
	if got := recs[1].AuthToken; got != token {
		t.Errorf("authenticated request carried %q", got)
	}
	if got := recs[2].AuthToken; got != "" {
		t.Errorf("request after clearing carried %q", got)
	}
}

type recordingHook struct {
	mu     sync.Mutex
	starts []protocol.SendInfo
	ends   []error
}

func (h *recordingHook) OnSendStart(ctx context.Context, info protocol.SendInfo) (context.Context, protocol.HookToken) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, info)
	return ctx, len(h.starts)
}

func (h *recordingHook) OnSendEnd(_ context.Context, token protocol.HookToken, info protocol.SendInfo, stats protocol.SendStatistics, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends = append(h.ends, err)
}

func TestHooksObserveEveryExchange(t *testing.T) {
	_, ts := newSim(t, plcsim.Config{})
	hook := &recordingHook{}
	client := newClient(t, ts.URL, protocol.WithHook(hook))
	b := jsonrpc.NewBuilder()

	ping, _ := b.Ping()
	client.Send(context.Background(), ping)
	logout, _ := b.Logout()
	client.Send(context.Background(), logout)

	if len(hook.starts) != 2 || len(hook.ends) != 2 {
		t.Fatalf("starts=%d ends=%d", len(hook.starts), len(hook.ends))
	}
	if hook.starts[0].Method != jsonrpc.MethodPing || hook.starts[0].Kind != protocol.ExchangeSingle {
		t.Errorf("unexpected info %+v", hook.starts[0])
	}
	// RPC errors arrive on a 2xx exchange, so the hook sees transport success
	if hook.ends[1] != nil {
		t.Errorf("unexpected hook error %v", hook.ends[1])
	}
}

func TestMaxRequestSizeTiers(t *testing.T) {
	if protocol.MaxRequestSizeFor(1.0) != protocol.MaxRequestSizeLow {
		t.Error("1.0 should use the low tier")
	}
	if protocol.MaxRequestSizeFor(2.0) != protocol.MaxRequestSizeHigh {
		t.Error("2.0 should use the high tier")
	}
	client := newClient(t, "http://127.0.0.1:1")
	if client.MaxRequestSize() != protocol.MaxRequestSizeLow {
		t.Errorf("default limit %d", client.MaxRequestSize())
	}
}

func TestClientTLS(t *testing.T) {
	logger := quietLogger()
	ts := httptest.NewTLSServer(plcsim.New(plcsim.Config{Logger: logger}))
	defer ts.Close()

	ping := func(client *protocol.Client) error {
		req, _ := jsonrpc.NewBuilder().Ping()
		_, err := client.Send(context.Background(), req)
		return err
	}

	t.Run("self-signed rejected", func(t *testing.T) {
		err := ping(newClient(t, ts.URL))
		var transport *protocol.TransportError
		if !errors.As(err, &transport) {
			t.Fatalf("expected TransportError, got %v", err)
		}
	})

	t.Run("insecure skip verify", func(t *testing.T) {
		if err := ping(newClient(t, ts.URL, protocol.WithInsecureSkipVerify(true))); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("supplied http client", func(t *testing.T) {
		if err := ping(newClient(t, ts.URL, protocol.WithHTTPClient(ts.Client()))); err != nil {
			t.Fatal(err)
		}
	})
}
