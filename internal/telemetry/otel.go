// Package telemetry provides OpenTelemetry instrumentation for the protocol
// client. It implements the protocol.Hook interface to add a client span and
// request metrics around every HTTP exchange with the controller.
//
// Usage:
//
//	hook := telemetry.NewHook(telemetry.DefaultConfig())
//	client, err := protocol.NewClient(addr,
//		protocol.WithHook(hook),
//		protocol.WithTransportWrapper(telemetry.Transport(nil)))
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/plcweb/console/internal/protocol"
)

const instrumentationName = "plcweb"

// Config configures the instrumentation.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	EnableTracing bool
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed exchanges.
	RecordExceptions bool
	// Controller is the rpc.service attribute value, usually the profile name.
	Controller       string
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig enables tracing, metrics and error recording with the global providers.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
		Controller:       "plc",
	}
}

// Hook implements protocol.Hook with OpenTelemetry tracing and metrics.
type Hook struct {
	cfg               Config
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
	bytesCounter      metric.Int64Counter
}

var _ protocol.Hook = (*Hook)(nil)

// NewHook creates the instrumentation hook.
func NewHook(cfg Config) *Hook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}

	h := &Hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.requestCounter, _ = meter.Int64Counter("rpc.client.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of HTTP exchanges with the controller"),
		)
		h.durationHistogram, _ = meter.Float64Histogram("rpc.client.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of HTTP exchanges with the controller"),
		)
		h.bytesCounter, _ = meter.Int64Counter("rpc.client.bytes",
			metric.WithUnit("By"),
			metric.WithDescription("Bytes exchanged with the controller"),
		)
	}
	return h
}

type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnSendStart starts a client span for the exchange.
func (h *Hook) OnSendStart(ctx context.Context, info protocol.SendInfo) (context.Context, protocol.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.service", h.cfg.Controller),
		attribute.String("rpc.method", info.Method),
		attribute.String("plcweb.exchange", info.Kind),
		attribute.String("url.path", info.Endpoint),
		attribute.Int("plcweb.request_bytes", info.BytesSent),
	}
	if info.RequestID != "" {
		attrs = append(attrs, attribute.String("rpc.jsonrpc.request_id", info.RequestID))
	}
	if info.Kind == protocol.ExchangeChunk {
		attrs = append(attrs,
			attribute.Int("plcweb.chunk.index", info.ChunkIndex),
			attribute.Int("plcweb.chunk.count", info.ChunkCount),
		)
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("plcweb/%s", info.Method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnSendEnd records metrics and ends the span.
func (h *Hook) OnSendEnd(ctx context.Context, token protocol.HookToken, info protocol.SendInfo, stats protocol.SendStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = errorType(err)
	}

	if h.cfg.EnableMetrics {
		base := []attribute.KeyValue{
			attribute.String("rpc.service", h.cfg.Controller),
			attribute.String("rpc.method", info.Method),
			attribute.String("plcweb.exchange", info.Kind),
			attribute.String("status", status),
		}
		attrs := metric.WithAttributes(base...)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, attrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), attrs)
		}
		if h.bytesCounter != nil {
			sent := append(append([]attribute.KeyValue(nil), base...), attribute.String("direction", "sent"))
			received := append(append([]attribute.KeyValue(nil), base...), attribute.String("direction", "received"))
			h.bytesCounter.Add(ctx, int64(info.BytesSent), metric.WithAttributes(sent...))
			h.bytesCounter.Add(ctx, int64(stats.BytesReceived), metric.WithAttributes(received...))
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	st.span.SetAttributes(
		attribute.Int("http.response.status_code", stats.StatusCode),
		attribute.Int("plcweb.response_bytes", stats.BytesReceived),
	)
	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			st.span.RecordError(err)
		}
		st.span.SetAttributes(attribute.String("error.type", status))
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}

func errorType(err error) string {
	var (
		cancelled *protocol.CancelledError
		transport *protocol.TransportError
	)
	switch {
	case errors.As(err, &cancelled):
		return "cancelled"
	case errors.As(err, &transport):
		if transport.StatusCode() != 0 {
			return fmt.Sprintf("http_%d", transport.StatusCode())
		}
		return "network"
	default:
		return "error"
	}
}

// Transport returns a transport wrapper that injects the span context of each
// request into its headers using propagator, or the global propagator when nil.
func Transport(propagator propagation.TextMapPropagator) func(http.RoundTripper) http.RoundTripper {
	return func(base http.RoundTripper) http.RoundTripper {
		p := propagator
		if p == nil {
			p = otel.GetTextMapPropagator()
		}
		return &propagatingTransport{base: base, propagator: p}
	}
}

type propagatingTransport struct {
	base       http.RoundTripper
	propagator propagation.TextMapPropagator
}

func (t *propagatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	t.propagator.Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	return t.base.RoundTrip(req)
}

// CloseIdleConnections forwards to the wrapped transport.
func (t *propagatingTransport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}
