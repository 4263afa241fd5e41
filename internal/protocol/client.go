// Package protocol implements HTTP communication with the controller's web server.
// This file provides the transport dispatcher: a client owning one session credential,
// performing single JSON-RPC exchanges and tracking in-flight requests for cancellation.
package protocol

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/logging"
)

// DefaultUserAgent identifies the console on the wire.
const DefaultUserAgent = "plcweb-console/1.0"

// maxErrorBody bounds how much of a non-2xx body is kept for diagnostics.
const maxErrorBody = 4096

// Client is the transport dispatcher for one controller. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *logging.Logger
	hooks      []Hook
	insecure   bool
	timeout    time.Duration
	wrap       []func(http.RoundTripper) http.RoundTripper

	tokenMutex sync.RWMutex
	token      string

	mutex          sync.RWMutex
	maxRequestSize int
	statistics     ConnectionStatistics

	pendingMutex  sync.Mutex
	pending       map[uint64]context.CancelFunc
	nextPendingID uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. WithTimeout and
// WithInsecureSkipVerify do not apply to a client supplied this way.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHook registers a dispatch hook. Hooks run in registration order on start
// and in reverse order on end.
func WithHook(hook Hook) Option {
	return func(c *Client) {
		if hook != nil {
			c.hooks = append(c.hooks, hook)
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) { c.userAgent = userAgent }
}

// WithInsecureSkipVerify disables TLS certificate verification, for controllers
// using self-signed certificates.
func WithInsecureSkipVerify(insecure bool) Option {
	return func(c *Client) { c.insecure = insecure }
}

// WithTimeout sets the HTTP client timeout. Zero means no timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

// WithTransportWrapper decorates the default transport, e.g. to inject
// trace headers. It does not apply to a client set with WithHTTPClient.
func WithTransportWrapper(wrap func(http.RoundTripper) http.RoundTripper) Option {
	return func(c *Client) {
		if wrap != nil {
			c.wrap = append(c.wrap, wrap)
		}
	}
}

// NewClient creates a dispatcher for the controller at baseURL, e.g. "https://192.168.0.1".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	client := &Client{
		baseURL:        base,
		userAgent:      DefaultUserAgent,
		maxRequestSize: MaxRequestSizeLow,
		pending:        make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.logger == nil {
		client.logger = logging.GetProtocolLogger()
	}
	if client.httpClient == nil {
		var transport http.RoundTripper = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			MaxIdleConnsPerHost: 2,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: client.insecure},
		}
		for _, wrap := range client.wrap {
			transport = wrap(transport)
		}
		client.httpClient = &http.Client{Timeout: client.timeout, Transport: transport}
	}

	return client, nil
}

func normalizeBaseURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid controller address %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid controller address %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid controller address %q: missing host", raw)
	}
	return strings.TrimRight(u.Scheme+"://"+u.Host+u.Path, "/"), nil
}

// BaseURL returns the controller address requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken installs the session credential, replacing any previous one.
func (c *Client) SetToken(token string) {
	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	c.token = token
}

// ClearToken removes the session credential.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// Token returns the installed session credential, or "".
func (c *Client) Token() string {
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.token
}

// MaxRequestSize returns the request size ceiling used for bulk chunking.
func (c *Client) MaxRequestSize() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.maxRequestSize
}

// SetMaxRequestSize changes the request size ceiling.
func (c *Client) SetMaxRequestSize(size int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.maxRequestSize = size
}

// Statistics returns a snapshot of the connection statistics.
func (c *Client) Statistics() ConnectionStatistics {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.statistics
}

// Send performs one JSON-RPC exchange and returns the raw response body.
// Error responses fail with *RpcError.
func (c *Client) Send(ctx context.Context, req *jsonrpc.Request) ([]byte, error) {
	_, body, err := c.send(ctx, req)
	return body, err
}

// Call performs one JSON-RPC exchange and decodes the result into out.
// out may be nil when the result is not needed.
func (c *Client) Call(ctx context.Context, req *jsonrpc.Request, out interface{}) error {
	resp, body, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return &ProtocolError{Op: req.Method, Message: "undecodable result", Body: truncate(body), Err: err}
	}
	return nil
}

func (c *Client) send(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, []byte, error) {
	if req == nil {
		return nil, nil, &ArgumentError{Argument: "request", Message: "must not be nil"}
	}
	payload, err := req.Marshal()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode %s: %w", req.Method, err)
	}

	start := time.Now()
	var body bytes.Buffer
	_, err = c.do(ctx, exchange{
		info: SendInfo{
			Kind:      ExchangeSingle,
			Method:    req.Method,
			RequestID: req.ID,
			Endpoint:  EndpointRPC,
			BytesSent: len(payload),
		},
		path:        EndpointRPC,
		contentType: ContentTypeJSON,
		accept:      ContentTypeJSON,
		body:        payload,
	}, func(r io.Reader) (int64, error) {
		return body.ReadFrom(r)
	})
	if err != nil {
		c.logger.LogRPC(req.Method, req.ID, time.Since(start), err)
		return nil, nil, err
	}

	resp, err := jsonrpc.ParseResponse(body.Bytes())
	if err != nil {
		err = &ProtocolError{Op: req.Method, Message: "malformed response", Body: truncate(body.Bytes()), Err: err}
		c.logger.LogRPC(req.Method, req.ID, time.Since(start), err)
		return nil, nil, err
	}
	if resp.IsError() {
		rpcErr := newRpcError(req.Method, resp)
		c.logger.LogRPC(req.Method, req.ID, time.Since(start), rpcErr)
		return nil, nil, rpcErr
	}
	if resp.ID != req.ID {
		err = &ProtocolError{Op: req.Method, Message: fmt.Sprintf("response id %q does not match request id %q", resp.ID, req.ID)}
		c.logger.LogRPC(req.Method, req.ID, time.Since(start), err)
		return nil, nil, err
	}

	c.logger.LogRPC(req.Method, req.ID, time.Since(start), nil)
	return resp, body.Bytes(), nil
}

// exchange describes one HTTP POST to the controller.
type exchange struct {
	info        SendInfo
	path        string
	contentType string
	accept      string
	body        []byte
	reader      io.Reader // streamed body, used when body is nil
	size        int64     // length of reader, -1 when unknown
}

// do executes the exchange and hands a 2xx response body to handle.
// Every failure is classified into CancelledError or TransportError.
func (c *Client) do(ctx context.Context, ex exchange, handle func(io.Reader) (int64, error)) (int64, error) {
	ctx, tokens := c.startHooks(ctx, ex.info)
	ctx, release := c.track(ctx)
	defer release()

	target := c.buildURL(ex.path)
	sent := &countingReader{r: ex.reader}
	if len(ex.body) > 0 {
		sent.r = bytes.NewReader(ex.body)
	}
	var bodyReader io.Reader = http.NoBody
	if sent.r != nil {
		bodyReader = sent
	}

	startTime := time.Now()
	var stats SendStatistics
	received, err := c.execute(ctx, target, ex, bodyReader, &stats, handle)
	stats.Duration = time.Since(startTime)
	stats.BytesReceived = int(received)

	c.updateRequestStatistics(stats.Duration, err == nil, sent.n, received)
	c.logger.LogHTTPRequest(http.MethodPost, ex.path, stats.StatusCode, stats.Duration)
	c.endHooks(ctx, tokens, ex.info, stats, err)
	return received, err
}

func (c *Client) execute(ctx context.Context, target string, ex exchange, body io.Reader, stats *SendStatistics,
	handle func(io.Reader) (int64, error)) (int64, error) {
	op := ex.info.Method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return 0, &TransportError{Op: op, URL: target, Err: err, Timestamp: time.Now()}
	}
	if ex.body != nil {
		req.ContentLength = int64(len(ex.body))
	} else if ex.reader != nil && ex.size >= 0 {
		req.ContentLength = ex.size
	}
	c.setStandardHeaders(req, ex.contentType, ex.accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, c.wrapNetworkError(ctx, op, target, err)
	}
	defer resp.Body.Close()
	stats.StatusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, c.handleHTTPError(op, target, resp)
	}

	counter := &countingReader{r: resp.Body}
	_, err = handle(counter)
	if err != nil {
		return counter.n, c.wrapNetworkError(ctx, op, target, err)
	}
	return counter.n, nil
}

// buildURL constructs the full URL for an endpoint path
func (c *Client) buildURL(path string) string {
	return c.baseURL + path
}

// setStandardHeaders sets common headers and the session credential
func (c *Client) setStandardHeaders(req *http.Request, contentType, accept string) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", contentType)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if token := c.Token(); token != "" {
		req.Header.Set(AuthHeader, token)
	}
}

// wrapNetworkError classifies a failed exchange. Context cancellation and deadline
// expiry take precedence over the network error they caused.
func (c *Client) wrapNetworkError(ctx context.Context, op, target string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &CancelledError{Op: op, Err: ctxErr}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &CancelledError{Op: op, Err: err}
	}
	return &TransportError{Op: op, URL: target, Err: err, Timestamp: time.Now()}
}

// handleHTTPError converts a non-2xx response into a TransportError
func (c *Client) handleHTTPError(op, target string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	details := &HTTPErrorDetails{
		StatusCode:  resp.StatusCode,
		StatusText:  http.StatusText(resp.StatusCode),
		Headers:     make(map[string]string),
		Body:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
	}
	for key, values := range resp.Header {
		if len(values) > 0 && !logging.IsSensitiveKey(key) {
			details.Headers[key] = values[0]
		}
	}
	return &TransportError{
		Op:          op,
		URL:         target,
		HTTPDetails: details,
		Err:         fmt.Errorf("unexpected status %s", resp.Status),
		Timestamp:   time.Now(),
	}
}

// CancelPending aborts every in-flight exchange. Aborted calls fail with CancelledError.
func (c *Client) CancelPending() {
	c.pendingMutex.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.pending))
	for id, cancel := range c.pending {
		cancels = append(cancels, cancel)
		delete(c.pending, id)
	}
	c.pendingMutex.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 {
		c.logger.Debug("Cancelled pending requests", "count", len(cancels))
	}
}

// Close cancels pending exchanges and releases idle connections.
func (c *Client) Close() error {
	c.CancelPending()
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	c.pendingMutex.Lock()
	id := c.nextPendingID
	c.nextPendingID++
	c.pending[id] = cancel
	c.pendingMutex.Unlock()

	return ctx, func() {
		c.pendingMutex.Lock()
		delete(c.pending, id)
		c.pendingMutex.Unlock()
		cancel()
	}
}

func (c *Client) startHooks(ctx context.Context, info SendInfo) (context.Context, []HookToken) {
	if len(c.hooks) == 0 {
		return ctx, nil
	}
	tokens := make([]HookToken, len(c.hooks))
	for i, hook := range c.hooks {
		ctx, tokens[i] = hook.OnSendStart(ctx, info)
	}
	return ctx, tokens
}

func (c *Client) endHooks(ctx context.Context, tokens []HookToken, info SendInfo, stats SendStatistics, err error) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		c.hooks[i].OnSendEnd(ctx, tokens[i], info, stats, err)
	}
}

// updateRequestStatistics updates connection statistics
func (c *Client) updateRequestStatistics(responseTime time.Duration, success bool, sent, received int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stats := &c.statistics
	stats.TotalRequests++
	stats.LastRequestTime = time.Now()
	stats.BytesSent += sent
	stats.BytesReceived += received

	if success {
		stats.SuccessfulRequests++
	} else {
		stats.FailedRequests++
	}

	if stats.TotalRequests == 1 {
		stats.AverageResponseTime = responseTime
	} else {
		// Calculate moving average
		total := stats.AverageResponseTime * time.Duration(stats.TotalRequests-1)
		stats.AverageResponseTime = (total + responseTime) / time.Duration(stats.TotalRequests)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
