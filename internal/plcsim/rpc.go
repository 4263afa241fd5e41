package plcsim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/protocol"
	"github.com/plcweb/console/internal/validation"
)

// Error codes returned by the simulator.
const (
	CodeParseError          = -32700
	CodeInvalidRequest      = -32600
	CodeMethodNotFound      = -32601
	CodeInvalidParams       = -32602
	CodePermissionDenied    = 2
	CodeLoginFailed         = 100
	CodeNotAccepted         = 102
	CodeNewPasswordSame     = 103
	CodeAddressDoesNotExist = 200
	CodeInvalidTicket       = 300
	CodeResourceNotFound    = 400
	CodeResourceExists      = 401
	CodeInvalidName         = 402
	CodeTimestampOutOfRange = 500
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcRequest struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func errorf(code int, format string, args ...interface{}) *rpcError {
	return &rpcError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// call is the per-request context handed to method handlers.
type call struct {
	token string
	user  string // authenticated user, "" when anonymous
}

type methodHandler func(s *Server, c *call, params json.RawMessage) (interface{}, *rpcError)

var methods = map[string]struct {
	handler methodHandler
	public  bool
}{
	jsonrpc.MethodLogin:                {(*Server).login, true},
	jsonrpc.MethodLogout:               {(*Server).logout, false},
	jsonrpc.MethodVersion:              {(*Server).version, true},
	jsonrpc.MethodPing:                 {(*Server).ping, true},
	jsonrpc.MethodChangePassword:       {(*Server).changePassword, true},
	jsonrpc.MethodBrowseTickets:        {(*Server).browseTickets, false},
	jsonrpc.MethodCloseTicket:          {(*Server).closeTicket, false},
	jsonrpc.MethodFilesCreate:          {(*Server).filesCreate, false},
	jsonrpc.MethodFilesDownload:        {(*Server).filesDownload, false},
	jsonrpc.MethodFilesDelete:          {(*Server).filesDelete, false},
	jsonrpc.MethodWebAppCreate:         {(*Server).webAppCreate, false},
	jsonrpc.MethodWebAppCreateResource: {(*Server).webAppCreateResource, false},
	jsonrpc.MethodSetSystemTime:        {(*Server).setSystemTime, false},
	jsonrpc.MethodSetTimeSettings:      {(*Server).setTimeSettings, false},
	jsonrpc.MethodProgramRead:          {(*Server).programRead, false},
	jsonrpc.MethodProgramWrite:         {(*Server).programWrite, false},
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxRequestSize
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)+1))
	rec := RecordedRequest{
		Path:      protocol.EndpointRPC,
		AuthToken: r.Header.Get(protocol.AuthHeader),
		Size:      len(body),
	}
	if err != nil {
		rec.Status = http.StatusBadRequest
		s.record(rec)
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	if len(body) > limit {
		rec.Status = http.StatusRequestEntityTooLarge
		s.record(rec)
		s.log.Warn("Rejecting oversized request", "limit", limit)
		http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
		return
	}

	c := s.authenticate(rec.AuthToken)
	trimmed := bytes.TrimSpace(body)

	var out interface{}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		rec.Batch = true
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			out = rpcResponse{Version: jsonrpc.Version, Error: errorf(CodeParseError, "Parse error")}
		} else if len(raw) == 0 {
			out = rpcResponse{Version: jsonrpc.Version, Error: errorf(CodeInvalidRequest, "Invalid Request")}
		} else {
			responses := make([]rpcResponse, 0, len(raw))
			for _, item := range raw {
				resp, method, id := s.dispatch(c, item)
				rec.Methods = append(rec.Methods, method)
				rec.IDs = append(rec.IDs, id)
				responses = append(responses, resp)
			}
			out = responses
		}
	} else {
		resp, method, id := s.dispatch(c, trimmed)
		rec.Methods = []string{method}
		rec.IDs = []string{id}
		out = resp
	}

	rec.Status = http.StatusOK
	s.record(rec)

	w.Header().Set("Content-Type", protocol.ContentTypeJSON)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Error("Failed to write response", "error", err.Error())
	}
}

// dispatch runs one request. It returns the response plus the method name and
// id for the request log.
func (s *Server) dispatch(c *call, raw json.RawMessage) (rpcResponse, string, string) {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return rpcResponse{Version: jsonrpc.Version, Error: errorf(CodeParseError, "Parse error")}, "", ""
	}
	var id string
	_ = json.Unmarshal(req.ID, &id)
	resp := rpcResponse{Version: jsonrpc.Version, ID: req.ID}

	if req.Version != jsonrpc.Version || req.Method == "" {
		resp.Error = errorf(CodeInvalidRequest, "Invalid Request")
		return resp, req.Method, id
	}
	m, ok := methods[req.Method]
	if !ok {
		resp.Error = errorf(CodeMethodNotFound, "Method not found")
		return resp, req.Method, id
	}
	if !m.public && c.user == "" {
		resp.Error = errorf(CodePermissionDenied, "Permission denied")
		return resp, req.Method, id
	}

	result, rpcErr := m.handler(s, c, req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	s.log.Debug("Handled request", "method", req.Method, "id", id, "failed", rpcErr != nil)
	return resp, req.Method, id
}

func decodeParams(params json.RawMessage, out interface{}) *rpcError {
	if len(params) == 0 {
		return errorf(CodeInvalidParams, "Invalid params")
	}
	if err := json.Unmarshal(params, out); err != nil {
		return errorf(CodeInvalidParams, "Invalid params")
	}
	return nil
}

func (s *Server) login(c *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		User          string `json:"user"`
		Password      string `json:"password"`
		IncludeCookie bool   `json:"include_web_application_cookie"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	password, ok := s.users[p.User]
	s.mu.Unlock()
	if !ok || password != p.Password {
		return nil, errorf(CodeLoginFailed, "Login failed")
	}

	token, err := s.issueToken(p.User)
	if err != nil {
		return nil, errorf(CodeLoginFailed, "Login failed")
	}
	result := map[string]interface{}{"token": token}
	if p.IncludeCookie {
		result["web_application_cookie"] = uuid.NewString()
	}
	return result, nil
}

func (s *Server) logout(c *call, _ json.RawMessage) (interface{}, *rpcError) {
	s.revoke(c.token)
	return true, nil
}

func (s *Server) version(_ *call, _ json.RawMessage) (interface{}, *rpcError) {
	return s.cfg.APIVersion, nil
}

func (s *Server) ping(_ *call, _ json.RawMessage) (interface{}, *rpcError) {
	return uuid.NewString(), nil
}

func (s *Server) changePassword(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if validation.CheckPasswordChangeAllowed(p.Username, true) != nil {
		return nil, errorf(CodeNotAccepted, "Not accepted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[p.Username]
	if !ok || current != p.Password {
		return nil, errorf(CodeLoginFailed, "Login failed")
	}
	if p.NewPassword == p.Password {
		return nil, errorf(CodeNewPasswordSame, "New password matches old password")
	}
	s.users[p.Username] = p.NewPassword
	return true, nil
}

func (s *Server) setSystemTime(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Timestamp string `json:"timestamp"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return nil, errorf(CodeInvalidParams, "Invalid params")
	}
	if validation.CheckTimestamp("timestamp", ts, true) != nil {
		return nil, errorf(CodeTimestampOutOfRange, "Timestamp out of range")
	}
	s.mu.Lock()
	s.systemTime = ts
	s.mu.Unlock()
	return true, nil
}

func (s *Server) setTimeSettings(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		UTCOffset string          `json:"utc_offset"`
		Rule      json.RawMessage `json:"rule"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.UTCOffset == "" {
		return nil, errorf(CodeInvalidParams, "Invalid params")
	}
	s.mu.Lock()
	s.utcOffset = p.UTCOffset
	s.timeRule = p.Rule
	s.mu.Unlock()
	return true, nil
}

func (s *Server) programRead(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Var string `json:"var"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[p.Var]
	if !ok {
		return nil, errorf(CodeAddressDoesNotExist, "Address does not exist")
	}
	return v, nil
}

func (s *Server) programWrite(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Var   string          `json:"var"`
		Value json.RawMessage `json:"value"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Value) == 0 {
		return nil, errorf(CodeInvalidParams, "Invalid params")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.variables[p.Var]; !ok {
		return nil, errorf(CodeAddressDoesNotExist, "Address does not exist")
	}
	s.variables[p.Var] = p.Value
	return true, nil
}
