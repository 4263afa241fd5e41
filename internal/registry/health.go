// Package registry probes the controllers named by connection profiles and
// keeps a bounded health history per profile.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plcweb/console/internal/config"
	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/logging"
	"github.com/plcweb/console/internal/protocol"
)

// Health states.
const (
	StatusHealthy     = "healthy"
	StatusDegraded    = "degraded"
	StatusUnreachable = "unreachable"
)

// HealthCheckType names one probe within a health check.
type HealthCheckType string

const (
	HealthCheckPing    HealthCheckType = "ping"
	HealthCheckVersion HealthCheckType = "version"
)

// CheckResult represents the result of an individual probe
type CheckResult struct {
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"responseTime"`
	Error        string        `json:"error,omitempty"`
	ErrorType    string        `json:"errorType,omitempty"`
}

// HealthSnapshot captures a point-in-time health assessment of one profile.
type HealthSnapshot struct {
	Profile         string                          `json:"profile"`
	Host            string                          `json:"host"`
	Timestamp       time.Time                       `json:"timestamp"`
	Status          string                          `json:"status"`
	ResponseTime    time.Duration                   `json:"responseTime"`
	APIVersion      float64                         `json:"apiVersion,omitempty"`
	MaxRequestSize  int                             `json:"maxRequestSize,omitempty"`
	Error           string                          `json:"error,omitempty"`
	Checks          map[HealthCheckType]CheckResult `json:"checks"`
	Recommendations []string                        `json:"recommendations,omitempty"`
}

// ClientFactory creates the protocol client used to probe a profile.
type ClientFactory func(profile *config.Profile) (*protocol.Client, error)

// HealthMonitor probes controllers without logging in.
type HealthMonitor struct {
	newClient      ClientFactory
	builder        *jsonrpc.Builder
	logger         *logging.Logger
	concurrency    int
	slowThreshold  time.Duration
	maxHistorySize int

	mutex         sync.RWMutex
	healthHistory map[string][]HealthSnapshot
}

// MonitorOption configures a HealthMonitor.
type MonitorOption func(*HealthMonitor)

// WithClientFactory replaces how probe clients are created.
func WithClientFactory(f ClientFactory) MonitorOption {
	return func(hm *HealthMonitor) { hm.newClient = f }
}

// WithConcurrency bounds the number of simultaneous probes in CheckAll.
func WithConcurrency(n int) MonitorOption {
	return func(hm *HealthMonitor) { hm.concurrency = n }
}

// WithHistorySize bounds the snapshots kept per profile.
func WithHistorySize(n int) MonitorOption {
	return func(hm *HealthMonitor) { hm.maxHistorySize = n }
}

// WithSlowThreshold sets the response time above which a recommendation is added.
func WithSlowThreshold(d time.Duration) MonitorOption {
	return func(hm *HealthMonitor) { hm.slowThreshold = d }
}

// WithMonitorLogger sets the logger.
func WithMonitorLogger(logger *logging.Logger) MonitorOption {
	return func(hm *HealthMonitor) { hm.logger = logger }
}

// NewHealthMonitor creates a monitor. Probe clients are built from the profile
// with DefaultClientFactory unless WithClientFactory is given.
func NewHealthMonitor(opts ...MonitorOption) *HealthMonitor {
	hm := &HealthMonitor{
		builder:        jsonrpc.NewBuilder(),
		logger:         logging.GetRegistryLogger(),
		concurrency:    4,
		slowThreshold:  2 * time.Second,
		maxHistorySize: 100,
		healthHistory:  make(map[string][]HealthSnapshot),
	}
	for _, opt := range opts {
		opt(hm)
	}
	if hm.newClient == nil {
		hm.newClient = DefaultClientFactory(hm.logger)
	}
	return hm
}

// DefaultClientFactory builds clients honoring the profile's TLS and timeout settings.
func DefaultClientFactory(logger *logging.Logger) ClientFactory {
	return func(profile *config.Profile) (*protocol.Client, error) {
		timeout := profile.RequestTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		return protocol.NewClient(profile.Host,
			protocol.WithLogger(logger),
			protocol.WithInsecureSkipVerify(profile.InsecureSkipVerify),
			protocol.WithTimeout(timeout),
		)
	}
}

// Check probes one controller with Api.Ping and Api.Version. Failures are
// reported in the snapshot; the error is non-nil only when ctx ends.
func (hm *HealthMonitor) Check(ctx context.Context, profile *config.Profile) (*HealthSnapshot, error) {
	start := time.Now()
	snapshot := &HealthSnapshot{
		Profile:   profile.Name,
		Host:      profile.Host,
		Timestamp: start,
		Checks:    make(map[HealthCheckType]CheckResult),
	}

	client, err := hm.newClient(profile)
	if err != nil {
		snapshot.Status = StatusUnreachable
		snapshot.Error = err.Error()
		hm.finish(snapshot, start)
		return snapshot, nil
	}
	defer client.Close()

	ping := hm.probe(ctx, client, HealthCheckPing, hm.builder.Ping, nil)
	snapshot.Checks[HealthCheckPing] = ping
	if ctx.Err() != nil {
		return nil, &protocol.CancelledError{Op: "health check", Err: ctx.Err()}
	}
	if ping.Status != StatusHealthy {
		snapshot.Status = StatusUnreachable
		snapshot.Error = ping.Error
		hm.finish(snapshot, start)
		return snapshot, nil
	}

	var version float64
	vr := hm.probe(ctx, client, HealthCheckVersion, hm.builder.Version, &version)
	snapshot.Checks[HealthCheckVersion] = vr
	if ctx.Err() != nil {
		return nil, &protocol.CancelledError{Op: "health check", Err: ctx.Err()}
	}
	if vr.Status == StatusHealthy {
		snapshot.Status = StatusHealthy
		snapshot.APIVersion = version
		snapshot.MaxRequestSize = protocol.MaxRequestSizeFor(version)
	} else {
		snapshot.Status = StatusDegraded
		snapshot.Error = vr.Error
	}
	hm.finish(snapshot, start)
	return snapshot, nil
}

// CheckAll probes profiles concurrently and returns snapshots in input order.
func (hm *HealthMonitor) CheckAll(ctx context.Context, profiles []*config.Profile) ([]*HealthSnapshot, error) {
	results := make([]*HealthSnapshot, len(profiles))
	g, ctx := errgroup.WithContext(ctx)
	if hm.concurrency > 0 {
		g.SetLimit(hm.concurrency)
	}
	for i, profile := range profiles {
		g.Go(func() error {
			snapshot, err := hm.Check(ctx, profile)
			if err != nil {
				return err
			}
			results[i] = snapshot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (hm *HealthMonitor) probe(ctx context.Context, client *protocol.Client, kind HealthCheckType,
	build func() (*jsonrpc.Request, error), out interface{}) CheckResult {
	start := time.Now()
	req, err := build()
	if err == nil {
		err = client.Call(ctx, req, out)
	}
	result := CheckResult{Status: StatusHealthy, ResponseTime: time.Since(start)}
	if err != nil {
		result.Status = StatusDegraded
		result.Error = fmt.Sprintf("%s failed: %v", kind, err)
		result.ErrorType = classifyError(err)
		var transport *protocol.TransportError
		if errors.As(err, &transport) {
			result.Status = StatusUnreachable
		}
	}
	return result
}

func (hm *HealthMonitor) finish(snapshot *HealthSnapshot, start time.Time) {
	snapshot.ResponseTime = time.Since(start)
	if snapshot.Status != StatusUnreachable && hm.slowThreshold > 0 && snapshot.ResponseTime > hm.slowThreshold {
		snapshot.Recommendations = append(snapshot.Recommendations,
			fmt.Sprintf("Response time (%v) exceeds threshold (%v)", snapshot.ResponseTime, hm.slowThreshold))
	}

	var err error
	if snapshot.Error != "" {
		err = errors.New(snapshot.Error)
	}
	hm.logger.LogHealthCheck(snapshot.Profile, snapshot.Status, snapshot.ResponseTime, err)
	hm.recordHealthSnapshot(*snapshot)
}

// GetHealthHistory returns up to limit of the most recent snapshots for
// profile, oldest first. A limit of zero returns all.
func (hm *HealthMonitor) GetHealthHistory(profile string, limit int) []HealthSnapshot {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	history := hm.healthHistory[profile]
	start := 0
	if limit > 0 && len(history) > limit {
		start = len(history) - limit
	}
	result := make([]HealthSnapshot, len(history)-start)
	copy(result, history[start:])
	return result
}

// HealthTrends summarizes recent snapshots of one profile.
type HealthTrends struct {
	Profile             string        `json:"profile"`
	AnalysisPeriod      time.Duration `json:"analysisPeriod"`
	SampleCount         int           `json:"sampleCount"`
	UptimePercentage    float64       `json:"uptimePercentage"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	AvailabilityTrend   string        `json:"availabilityTrend,omitempty"` // "improving", "degrading", "stable"
}

// GetHealthTrends analyzes the snapshots taken within duration.
func (hm *HealthMonitor) GetHealthTrends(profile string, duration time.Duration) (*HealthTrends, error) {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	history, exists := hm.healthHistory[profile]
	if !exists {
		return nil, fmt.Errorf("no health history available for profile '%s'", profile)
	}

	cutoff := time.Now().Add(-duration)
	var recent []HealthSnapshot
	for _, s := range history {
		if s.Timestamp.After(cutoff) {
			recent = append(recent, s)
		}
	}

	trends := &HealthTrends{Profile: profile, AnalysisPeriod: duration, SampleCount: len(recent)}
	if len(recent) == 0 {
		return trends, nil
	}

	var total time.Duration
	for _, s := range recent {
		total += s.ResponseTime
	}
	trends.UptimePercentage = healthyPercent(recent)
	trends.AverageResponseTime = total / time.Duration(len(recent))

	if len(recent) >= 2 {
		first := healthyPercent(recent[:len(recent)/2])
		second := healthyPercent(recent[len(recent)/2:])
		switch {
		case second > first:
			trends.AvailabilityTrend = "improving"
		case second < first:
			trends.AvailabilityTrend = "degrading"
		default:
			trends.AvailabilityTrend = "stable"
		}
	}
	return trends, nil
}

// ClearHealthHistory removes all history for profile.
func (hm *HealthMonitor) ClearHealthHistory(profile string) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()
	delete(hm.healthHistory, profile)
}

func healthyPercent(snapshots []HealthSnapshot) float64 {
	healthy := 0
	for _, s := range snapshots {
		if s.Status == StatusHealthy {
			healthy++
		}
	}
	return float64(healthy) / float64(len(snapshots)) * 100
}

func (hm *HealthMonitor) recordHealthSnapshot(snapshot HealthSnapshot) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	history := append(hm.healthHistory[snapshot.Profile], snapshot)
	if len(history) > hm.maxHistorySize {
		history = history[len(history)-hm.maxHistorySize:]
	}
	hm.healthHistory[snapshot.Profile] = history
}

// classifyError categorizes probe failures for diagnostics.
func classifyError(err error) string {
	var (
		dnsErr    *net.DNSError
		netErr    net.Error
		transport *protocol.TransportError
		rpcErr    *protocol.RpcError
		protoErr  *protocol.ProtocolError
	)
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection_refused"
	case errors.As(err, &dnsErr):
		return "dns_failure"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &transport) && transport.StatusCode() != 0:
		return fmt.Sprintf("http_%d", transport.StatusCode())
	case errors.As(err, &rpcErr):
		return fmt.Sprintf("rpc_%d", rpcErr.Code)
	case errors.As(err, &protoErr):
		return "malformed_response"
	default:
		return "unknown"
	}
}
