package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/plcweb/console/internal/logging"
	"github.com/plcweb/console/internal/plcsim"
)

type fixture struct {
	sim    *plcsim.Server
	url    string
	config string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))

	logger, _ := logging.NewLogger(logging.Config{Output: "discard"})
	sim := plcsim.New(plcsim.Config{
		APIVersion: 2.0,
		Variables:  map[string]interface{}{`"DB".speed`: 42},
		Files:      map[string][]byte{"/logs/run.txt": []byte("line one\nline two\n")},
		Logger:     logger,
	})
	ts := httptest.NewServer(sim)
	t.Cleanup(ts.Close)
	return &fixture{sim: sim, url: ts.URL, config: filepath.Join(dir, "profiles.yaml")}
}

// run executes the root command with the fixture's connection flags prepended.
func (f *fixture) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	base := []string{
		"--config", f.config,
		"--host", f.url,
		"--user", "admin",
		"--password", "admin",
		"--log-file", "discard",
		"--no-color",
	}
	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(append(base, args...))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	err := Execute(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	f := newFixture(t)
	out, _, err := f.run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "plcweb dev") || !strings.Contains(out, "65536/131072") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCallCommand(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "call", "PlcProgram.Read", `{"var": "\"DB\".speed"}`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "42" {
		t.Errorf("unexpected output %q", out)
	}

	methods := []string{}
	for _, r := range f.sim.Requests() {
		methods = append(methods, r.Methods...)
	}
	want := "Api.Version,Api.Login,PlcProgram.Read,Api.Logout"
	if got := strings.Join(methods, ","); got != want {
		t.Errorf("requests %s, want %s", got, want)
	}

	t.Run("rpc error", func(t *testing.T) {
		out, stderr, err := f.run(t, "call", "PlcProgram.Read", `{"var": "missing"}`)
		if !errors.Is(err, errReported) {
			t.Fatalf("expected reported error, got %v", err)
		}
		if out != "" || !strings.Contains(stderr, "Address does not exist") {
			t.Errorf("unexpected output %q (stderr %q)", out, stderr)
		}
	})

	t.Run("bad params", func(t *testing.T) {
		_, stderr, err := f.run(t, "call", "Api.Ping", "{oops")
		if !errors.Is(err, errReported) {
			t.Fatalf("expected reported error, got %v", err)
		}
		if !strings.Contains(stderr, "Error") {
			t.Errorf("no error panel in %q", stderr)
		}
	})
}

func TestBulkCommand(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "calls.txt")
	lines := "# warm up\nApi.Ping\n\nApi.Ping\nPlcProgram.Read {\"var\": \"\\\"DB\\\".speed\"}\n"
	if err := os.WriteFile(path, []byte(lines), 0600); err != nil {
		t.Fatal(err)
	}

	out, _, err := f.run(t, "bulk", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "3 requests succeeded in 1 chunk(s)") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestReadBulkFileErrors(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "calls.txt")
	os.WriteFile(path, []byte("Api.Ping\n{\"no\": \"method\"}\n"), 0600)

	_, stderr, err := f.run(t, "bulk", path)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(stderr, "line 2") {
		t.Errorf("line number missing from %q", stderr)
	}
}

func TestDownloadAndUploadCommands(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	gz := filepath.Join(dir, "run.txt.gz")
	if _, _, err := f.run(t, "download", "/logs/run.txt", "--gzip", "-o", gz); err != nil {
		t.Fatal(err)
	}
	file, err := os.Open(gz)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	zr, err := gzip.NewReader(file)
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line one\nline two\n" {
		t.Errorf("downloaded %q", data)
	}
	if zr.Name != "/logs/run.txt" {
		t.Errorf("gzip name %q", zr.Name)
	}

	src := filepath.Join(dir, "recipe.csv")
	os.WriteFile(src, []byte("a,b\n1,2\n"), 0600)
	if _, _, err := f.run(t, "upload", "/recipes/recipe.csv", src); err != nil {
		t.Fatal(err)
	}
	out, _, err := f.run(t, "download", "/recipes/recipe.csv", "-o", "-", "--gzip=false")
	if err != nil {
		t.Fatal(err)
	}
	if out != "a,b\n1,2\n" {
		t.Errorf("round trip %q", out)
	}
}

// failingFile accepts writes but fails to close, like a full disk flushing on close.
type failingFile struct{ bytes.Buffer }

func (f *failingFile) Close() error { return errors.New("disk full") }

func TestDownloadReportsCloseError(t *testing.T) {
	f := newFixture(t)
	file := &failingFile{}
	orig := createFile
	createFile = func(string) (io.WriteCloser, error) { return file, nil }
	t.Cleanup(func() { createFile = orig })

	out := filepath.Join(t.TempDir(), "run.txt")
	_, stderr, err := f.run(t, "download", "/logs/run.txt", "-o", out, "--gzip=false")
	if !errors.Is(err, errReported) {
		t.Fatalf("expected reported error, got %v", err)
	}
	if !strings.Contains(stderr, "disk full") || strings.Contains(stderr, "Downloaded") {
		t.Errorf("close failure not reported: %q", stderr)
	}
	if file.String() != "line one\nline two\n" {
		t.Errorf("written %q", file.String())
	}
}

func TestProfileCommands(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "profile", "add", "line-1", "--theme", "monokai")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Saved profile line-1") {
		t.Errorf("unexpected output %q", out)
	}

	out, _, err = f.run(t, "profile", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "line-1") || !strings.Contains(out, f.url) {
		t.Errorf("profile missing from list %q", out)
	}

	data, err := os.ReadFile(f.config)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "password: admin") {
		t.Error("password stored in clear text")
	}

	if _, _, err := f.run(t, "profile", "remove", "line-1"); err != nil {
		t.Fatal(err)
	}
	out, _, _ = f.run(t, "profile", "list")
	if strings.Contains(out, "line-1") {
		t.Errorf("profile not removed: %q", out)
	}
}

func TestProbeCommand(t *testing.T) {
	f := newFixture(t)
	out, _, err := f.run(t, "probe", "--repeat", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "env") || !strings.Contains(out, "healthy") || !strings.Contains(out, "131072") {
		t.Errorf("unexpected output %q", out)
	}
	if f.sim.RequestCount() != 2 {
		t.Errorf("%d requests, want ping and version only", f.sim.RequestCount())
	}

	t.Run("repeat", func(t *testing.T) {
		out, _, err := f.run(t, "probe", "--repeat", "2", "--interval", "1ms")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "env: 100% available over 2 checks") {
			t.Errorf("no availability summary in %q", out)
		}
	})
}

func TestPasswdCommand(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.run(t, "passwd", "--new", "s3cret!"); err != nil {
		t.Fatal(err)
	}
	out, _, err := f.run(t, "--password", "s3cret!", "call", "Api.Ping")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) == "" {
		t.Error("no ping result")
	}
}
