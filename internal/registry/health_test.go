package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/plcweb/console/internal/config"
	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/logging"
	"github.com/plcweb/console/internal/plcsim"
)

func quietLogger() *logging.Logger {
	logger, _ := logging.NewLogger(logging.Config{Output: "discard"})
	return logger
}

func newMonitor(opts ...MonitorOption) *HealthMonitor {
	return NewHealthMonitor(append([]MonitorOption{WithMonitorLogger(quietLogger())}, opts...)...)
}

func TestCheckHealthyController(t *testing.T) {
	sim := plcsim.New(plcsim.Config{APIVersion: 2.0, Logger: quietLogger()})
	ts := httptest.NewServer(sim)
	defer ts.Close()

	hm := newMonitor()
	snapshot, err := hm.Check(context.Background(), &config.Profile{Name: "line-1", Host: ts.URL})
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Status != StatusHealthy {
		t.Fatalf("status %s: %s", snapshot.Status, snapshot.Error)
	}
	if snapshot.APIVersion != 2.0 || snapshot.MaxRequestSize != 128*1024 {
		t.Errorf("version %v size %d", snapshot.APIVersion, snapshot.MaxRequestSize)
	}
	if len(snapshot.Checks) != 2 {
		t.Errorf("checks %v", snapshot.Checks)
	}
	for _, rec := range sim.Requests() {
		if rec.AuthToken != "" {
			t.Errorf("probe sent a token for %v", rec.Methods)
		}
	}
}

func TestCheckDegradedWhenVersionFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.Method == jsonrpc.MethodPing {
			json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "pong"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]interface{}{"code": -32601, "message": "Method not found"},
		})
	}))
	defer ts.Close()

	snapshot, err := newMonitor().Check(context.Background(), &config.Profile{Name: "old", Host: ts.URL})
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Status != StatusDegraded {
		t.Fatalf("status %s", snapshot.Status)
	}
	if got := snapshot.Checks[HealthCheckVersion].ErrorType; got != "rpc_-32601" {
		t.Errorf("error type %q", got)
	}
}

func TestCheckUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	snapshot, err := newMonitor().Check(context.Background(), &config.Profile{Name: "gone", Host: url, RequestTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Status != StatusUnreachable {
		t.Fatalf("status %s", snapshot.Status)
	}
	if _, ok := snapshot.Checks[HealthCheckVersion]; ok {
		t.Error("version probed after ping failed")
	}
	if snapshot.Checks[HealthCheckPing].ErrorType != "connection_refused" {
		t.Errorf("error type %q", snapshot.Checks[HealthCheckPing].ErrorType)
	}
}

func TestCheckInvalidHost(t *testing.T) {
	snapshot, err := newMonitor().Check(context.Background(), &config.Profile{Name: "bad", Host: "ftp://plc"})
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Status != StatusUnreachable || snapshot.Error == "" {
		t.Errorf("unexpected snapshot %+v", snapshot)
	}
}

func TestCheckAllKeepsOrderAndHistory(t *testing.T) {
	sim := plcsim.New(plcsim.Config{Logger: quietLogger()})
	ts := httptest.NewServer(sim)
	defer ts.Close()
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	profiles := []*config.Profile{
		{Name: "a", Host: ts.URL},
		{Name: "b", Host: downURL},
		{Name: "c", Host: ts.URL},
	}
	hm := newMonitor(WithConcurrency(2), WithHistorySize(2))
	for i := 0; i < 3; i++ {
		results, err := hm.CheckAll(context.Background(), profiles)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{StatusHealthy, StatusUnreachable, StatusHealthy}
		for j, r := range results {
			if r.Profile != profiles[j].Name || r.Status != want[j] {
				t.Errorf("result %d: %s %s", j, r.Profile, r.Status)
			}
		}
	}

	if got := len(hm.GetHealthHistory("a", 0)); got != 2 {
		t.Errorf("history length %d", got)
	}
	if got := len(hm.GetHealthHistory("a", 1)); got != 1 {
		t.Errorf("limited history length %d", got)
	}

	trends, err := hm.GetHealthTrends("b", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if trends.UptimePercentage != 0 || trends.AvailabilityTrend != "stable" {
		t.Errorf("trends %+v", trends)
	}

	hm.ClearHealthHistory("a")
	if _, err := hm.GetHealthTrends("a", time.Hour); err == nil {
		t.Error("expected error after clearing history")
	}
}

func TestCheckAllCancelled(t *testing.T) {
	sim := plcsim.New(plcsim.Config{Logger: quietLogger()})
	ts := httptest.NewServer(sim)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newMonitor().CheckAll(ctx, []*config.Profile{{Name: "a", Host: ts.URL}}); err == nil {
		t.Error("expected cancellation error")
	}
}
