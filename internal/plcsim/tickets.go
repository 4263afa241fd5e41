package plcsim

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/plcweb/console/internal/protocol"
	"github.com/plcweb/console/internal/validation"
)

// Ticket states reported by Api.BrowseTickets.
const (
	TicketActive    = "active"
	TicketCompleted = "completed"
	TicketFailed    = "failed"
)

type ticket struct {
	ID       string
	Resource string
	Created  time.Time
	State    string
	Upload   bool
	Data     []byte
	HasData  bool
	onUpload func(data []byte)
}

func (s *Server) newTicket(resource string, upload bool, data []byte, onUpload func([]byte)) string {
	t := &ticket{
		ID:       uuid.NewString(),
		Resource: resource,
		Created:  time.Now().UTC(),
		State:    TicketActive,
		Upload:   upload,
		onUpload: onUpload,
	}
	if !upload {
		t.Data = append([]byte(nil), data...)
		t.HasData = true
	}
	s.tickets[t.ID] = t
	return t.ID
}

// handleTicket serves /api/ticket?id=. Tickets are capabilities and need no
// session token. An upload ticket echoes the uploaded bytes on a later download.
func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	data, err := io.ReadAll(r.Body)
	rec := RecordedRequest{
		Path:      protocol.EndpointTicket,
		IDs:       []string{id},
		AuthToken: r.Header.Get(protocol.AuthHeader),
		Size:      len(data),
	}
	if err != nil {
		rec.Status = http.StatusBadRequest
		s.record(rec)
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	status, body := s.transfer(id, data)
	rec.Status = status
	s.record(rec)

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", protocol.ContentTypeOctetStream)
	if _, err := w.Write(body); err != nil {
		s.log.Warn("Failed to write ticket body", "ticket", id, "error", err.Error())
	}
}

func (s *Server) transfer(id string, data []byte) (int, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return http.StatusNotFound, nil
	}

	if len(data) > 0 {
		if !t.Upload {
			t.State = TicketFailed
			return http.StatusBadRequest, nil
		}
		t.Data = append([]byte(nil), data...)
		t.HasData = true
		t.State = TicketCompleted
		if t.onUpload != nil {
			t.onUpload(t.Data)
		}
		return http.StatusOK, nil
	}

	if !t.HasData {
		// an empty body on a pending upload ticket is an empty upload
		t.HasData = true
		t.State = TicketCompleted
		if t.onUpload != nil {
			t.onUpload(nil)
		}
		return http.StatusOK, nil
	}
	t.State = TicketCompleted
	return http.StatusOK, append([]byte(nil), t.Data...)
}

func (s *Server) browseTickets(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		ID string `json:"id"`
	}
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}

	type entry struct {
		ID          string `json:"id"`
		DateCreated string `json:"date_created"`
		Resource    string `json:"provider_resource"`
		State       string `json:"state"`
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]entry, 0, len(s.tickets))
	for _, t := range s.tickets {
		if p.ID != "" && t.ID != p.ID {
			continue
		}
		entries = append(entries, entry{
			ID:          t.ID,
			DateCreated: t.Created.Format(time.RFC3339Nano),
			Resource:    t.Resource,
			State:       t.State,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DateCreated < entries[j].DateCreated })
	return map[string]interface{}{"max_tickets": 8, "tickets": entries}, nil
}

func (s *Server) closeTicket(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[p.ID]; !ok {
		return nil, errorf(CodeInvalidTicket, "Invalid ticket")
	}
	delete(s.tickets, p.ID)
	return true, nil
}

func (s *Server) filesCreate(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Resource string `json:"resource"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.files[p.Resource]; exists {
		return nil, errorf(CodeResourceExists, "Resource already exists")
	}
	resource := p.Resource
	return s.newTicket(resource, true, nil, func(data []byte) {
		s.files[resource] = append([]byte(nil), data...)
	}), nil
}

func (s *Server) filesDownload(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Resource string `json:"resource"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[p.Resource]
	if !ok {
		return nil, errorf(CodeResourceNotFound, "Resource not found")
	}
	return s.newTicket(p.Resource, false, data, nil), nil
}

func (s *Server) filesDelete(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Resource string `json:"resource"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[p.Resource]; !ok {
		return nil, errorf(CodeResourceNotFound, "Resource not found")
	}
	delete(s.files, p.Resource)
	return true, nil
}

func (s *Server) webAppCreate(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if validation.CheckApplicationName(p.Name, true) != nil {
		return nil, errorf(CodeInvalidName, "Invalid application name")
	}
	if p.State == "" {
		p.State = "disabled"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.webApps[p.Name]; exists {
		return nil, errorf(CodeResourceExists, "Application already exists")
	}
	s.webApps[p.Name] = &webApp{Name: p.Name, State: p.State, Resources: make(map[string]*webResource)}
	return true, nil
}

func (s *Server) webAppCreateResource(_ *call, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		AppName      string `json:"app_name"`
		Name         string `json:"name"`
		MediaType    string `json:"media_type"`
		LastModified string `json:"last_modified"`
		Visibility   string `json:"visibility"`
		ETag         string `json:"etag"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if validation.CheckResourceName(p.Name, true) != nil {
		return nil, errorf(CodeInvalidName, "Invalid resource name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.webApps[p.AppName]
	if !ok {
		return nil, errorf(CodeResourceNotFound, "Application not found")
	}
	if _, exists := app.Resources[p.Name]; exists {
		return nil, errorf(CodeResourceExists, "Resource already exists")
	}
	res := &webResource{
		Name:         p.Name,
		MediaType:    p.MediaType,
		LastModified: p.LastModified,
		Visibility:   p.Visibility,
		ETag:         p.ETag,
	}
	app.Resources[p.Name] = res
	return s.newTicket(p.AppName+"/"+p.Name, true, nil, func(data []byte) {
		res.Data = append([]byte(nil), data...)
	}), nil
}
