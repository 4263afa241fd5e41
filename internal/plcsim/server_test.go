package plcsim

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/plcweb/console/internal/logging"
	"github.com/plcweb/console/internal/protocol"
)

func newTestServer(cfg Config) *Server {
	cfg.Logger, _ = logging.NewLogger(logging.Config{Output: "discard"})
	return New(cfg)
}

func post(t *testing.T, s *Server, token, body string) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, protocol.EndpointRPC, strings.NewReader(body))
	req.Header.Set("Content-Type", protocol.ContentTypeJSON)
	if token != "" {
		req.Header.Set(protocol.AuthHeader, token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid response %s: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(resp map[string]interface{}) int {
	e, ok := resp["error"].(map[string]interface{})
	if !ok {
		return 0
	}
	return int(e["code"].(float64))
}

func TestLoginLogoutRevokesToken(t *testing.T) {
	s := newTestServer(Config{Variables: map[string]interface{}{"x": 42}})

	resp := post(t, s, "", `{"jsonrpc":"2.0","id":"1","method":"Api.Login","params":{"user":"admin","password":"admin","include_web_application_cookie":true}}`)
	result := resp["result"].(map[string]interface{})
	token := result["token"].(string)
	if token == "" || result["web_application_cookie"] == nil {
		t.Fatalf("unexpected login result %v", result)
	}

	read := `{"jsonrpc":"2.0","id":"2","method":"PlcProgram.Read","params":{"var":"x"}}`
	if resp := post(t, s, token, read); resp["result"].(float64) != 42 {
		t.Errorf("read returned %v", resp)
	}

	post(t, s, token, `{"jsonrpc":"2.0","id":"3","method":"Api.Logout"}`)
	if code := errorCode(post(t, s, token, read)); code != CodePermissionDenied {
		t.Errorf("revoked token accepted, code %d", code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(Config{})
	resp := post(t, s, "", `{"jsonrpc":"2.0","id":"1","method":"Api.Login","params":{"user":"admin","password":"nope"}}`)
	if code := errorCode(resp); code != CodeLoginFailed {
		t.Errorf("code %d", code)
	}
}

func TestRejectsOversizedRequests(t *testing.T) {
	s := newTestServer(Config{MaxRequestSize: 64})
	body := `{"jsonrpc":"2.0","id":"1","method":"Api.Ping","params":{"pad":"` + strings.Repeat("x", 64) + `"}}`
	req := httptest.NewRequest(http.MethodPost, protocol.EndpointRPC, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status %d", rec.Code)
	}
	if recs := s.Requests(); len(recs) != 1 || recs[0].Status != http.StatusRequestEntityTooLarge {
		t.Errorf("unexpected log %+v", recs)
	}
}

func TestBatchResponsesKeepIDs(t *testing.T) {
	s := newTestServer(Config{})
	body := `[{"jsonrpc":"2.0","id":"a","method":"Api.Ping"},{"jsonrpc":"2.0","id":"b","method":"Nope.Nope"}]`
	req := httptest.NewRequest(http.MethodPost, protocol.EndpointRPC, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var out []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0]["id"] != "a" || out[1]["id"] != "b" {
		t.Fatalf("unexpected batch %v", out)
	}
	if errorCode(out[1]) != CodeMethodNotFound {
		t.Errorf("unexpected error %v", out[1])
	}

	recs := s.Requests()
	if !recs[0].Batch || strings.Join(recs[0].Methods, ",") != "Api.Ping,Nope.Nope" {
		t.Errorf("unexpected record %+v", recs[0])
	}
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(Config{Users: map[string]string{"op": "old", "Anonymous": ""}})

	same := `{"jsonrpc":"2.0","id":"1","method":"Api.ChangePassword","params":{"username":"op","password":"old","new_password":"old"}}`
	if code := errorCode(post(t, s, "", same)); code != CodeNewPasswordSame {
		t.Errorf("code %d", code)
	}
	anon := `{"jsonrpc":"2.0","id":"2","method":"Api.ChangePassword","params":{"username":"Anonymous","password":"","new_password":"x"}}`
	if code := errorCode(post(t, s, "", anon)); code != CodeNotAccepted {
		t.Errorf("code %d", code)
	}
	ok := `{"jsonrpc":"2.0","id":"3","method":"Api.ChangePassword","params":{"username":"op","password":"old","new_password":"new"}}`
	post(t, s, "", ok)
	if pw, _ := s.Password("op"); pw != "new" {
		t.Errorf("password %q", pw)
	}
}

func TestTicketEndpointEchoesUploads(t *testing.T) {
	s := newTestServer(Config{})
	s.mu.Lock()
	id := s.newTicket("/f", true, nil, nil)
	s.mu.Unlock()

	target := protocol.EndpointTicket + "?id=" + id
	up := httptest.NewRecorder()
	s.ServeHTTP(up, httptest.NewRequest(http.MethodPost, target, bytes.NewReader([]byte("data"))))
	if up.Code != http.StatusOK {
		t.Fatalf("upload status %d", up.Code)
	}

	down := httptest.NewRecorder()
	s.ServeHTTP(down, httptest.NewRequest(http.MethodPost, target, nil))
	if down.Body.String() != "data" {
		t.Errorf("download returned %q", down.Body.String())
	}

	missing := httptest.NewRecorder()
	s.ServeHTTP(missing, httptest.NewRequest(http.MethodPost, protocol.EndpointTicket+"?id=nope", nil))
	if missing.Code != http.StatusNotFound {
		t.Errorf("status %d", missing.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(Config{AllowedOrigins: []string{"https://hmi.local"}})
	req := httptest.NewRequest(http.MethodOptions, protocol.EndpointRPC, nil)
	req.Header.Set("Origin", "https://hmi.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", protocol.AuthHeader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://hmi.local" {
		t.Errorf("allow origin %q", got)
	}
}
