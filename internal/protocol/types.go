// Package protocol implements the HTTP transport for the controller's JSON-RPC web API.
// This file defines the wire constants, the connection statistics kept by the client
// and the dispatch hook interface used for observability.
package protocol

import (
	"context"
	"time"
)

// HTTP endpoint paths exposed by the controller's web server
const (
	EndpointRPC    = "/api/jsonrpc"
	EndpointTicket = "/api/ticket"
)

// Header and content type constants
const (
	AuthHeader             = "X-Auth-Token"
	ContentTypeJSON        = "application/json"
	ContentTypeOctetStream = "application/octet-stream"
)

// Request size ceilings enforced by the controller per HTTP message
const (
	MaxRequestSizeLow  = 64 * 1024
	MaxRequestSizeHigh = 128 * 1024

	// HighTierAPIVersion is the first API version that accepts MaxRequestSizeHigh.
	HighTierAPIVersion = 2.0
)

// MaxRequestSizeFor returns the request size ceiling for a reported API version.
func MaxRequestSizeFor(apiVersion float64) int {
	if apiVersion >= HighTierAPIVersion {
		return MaxRequestSizeHigh
	}
	return MaxRequestSizeLow
}

// ConnectionStatistics tracks communication metrics for monitoring and debugging
type ConnectionStatistics struct {
	TotalRequests       int           `json:"totalRequests"`
	SuccessfulRequests  int           `json:"successfulRequests"`
	FailedRequests      int           `json:"failedRequests"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	LastRequestTime     time.Time     `json:"lastRequestTime"`
	BytesSent           int64         `json:"bytesSent"`
	BytesReceived       int64         `json:"bytesReceived"`
}

// Exchange kinds reported to hooks.
const (
	ExchangeSingle = "single"
	ExchangeChunk  = "chunk"
	ExchangeTicket = "ticket"
)

// SendInfo describes one HTTP exchange.
type SendInfo struct {
	Kind       string // ExchangeSingle, ExchangeChunk or ExchangeTicket
	Method     string // RPC method; "batch" for chunks, "upload"/"download" for tickets
	RequestID  string // correlation id or ticket id
	Endpoint   string
	ChunkIndex int
	ChunkCount int
	BytesSent  int
}

// SendStatistics holds the outcome of one exchange.
type SendStatistics struct {
	StatusCode    int
	BytesReceived int
	Duration      time.Duration
}

// Hook provides observability callpoints around every HTTP exchange.
// Implementations must be safe for concurrent use.
type Hook interface {
	OnSendStart(ctx context.Context, info SendInfo) (context.Context, HookToken)
	OnSendEnd(ctx context.Context, token HookToken, info SendInfo, stats SendStatistics, err error)
}

// HookToken is an opaque value returned by OnSendStart and passed back to
// OnSendEnd. Only meaningful to the Hook that created it.
type HookToken interface{}
