package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.records))
	for _, r := range h.records {
		out = append(out, r.Message)
	}
	return out
}

func TestRedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: DebugLevel, Format: "json", Writer: &buf, Component: "test"})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("login", "user", "admin", "password", "secret", "token", "abc", "web_app_cookie", "c")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	for _, key := range []string{"password", "token", "web_app_cookie"} {
		if entry[key] != "[REDACTED]" {
			t.Errorf("%s not redacted: %v", key, entry[key])
		}
	}
	if entry["user"] != "admin" || entry["component"] != "test" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	h := &recordingHandler{}
	logger := NewLoggerWithHandler(h, WarnLevel, "")

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	got := strings.Join(h.messages(), ",")
	if got != "warn,error" {
		t.Errorf("logged %s", got)
	}
}

func TestDomainHelpers(t *testing.T) {
	h := &recordingHandler{}
	logger := NewLoggerWithHandler(h, DebugLevel, "")

	logger.LogRPC("Api.Ping", "1", time.Millisecond, nil)
	logger.LogRPC("Api.Ping", "2", time.Millisecond, errors.New("boom"))
	logger.LogChunk(0, 2, 10, 1024)
	logger.LogTicketTransfer("upload", "t", 3, time.Millisecond, nil)
	logger.LogSessionTransition("Unauthenticated", "Authenticating")

	want := []string{"RPC completed", "RPC failed", "Dispatching bulk chunk", "Ticket transfer completed", "Session state change"}
	got := h.messages()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSlogWriterTrimsLines(t *testing.T) {
	h := &recordingHandler{}
	w := NewSlogWriter(NewLoggerWithHandler(h, DebugLevel, ""), slog.LevelError)

	n, err := w.Write([]byte("http: TLS handshake error\n"))
	if err != nil || n != 26 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	w.Write([]byte("  \n"))

	got := h.messages()
	if len(got) != 1 || got[0] != "http: TLS handshake error" {
		t.Errorf("got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"WARN", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFileOutputUsesRotatingWriter(t *testing.T) {
	path := t.TempDir() + "/plcweb.log"
	logger, err := NewLogger(Config{Level: InfoLevel, Output: path})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("written")

	if _, err := NewLogger(Config{Output: t.TempDir() + "/missing/dir/x.log"}); err == nil {
		t.Error("expected error for unwritable path")
	}
}
