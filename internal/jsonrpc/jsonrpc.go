// Package jsonrpc implements the JSON-RPC 2.0 envelope spoken by the controller's
// web server: requests with ordered, null-free parameter maps, responses that are
// classified structurally as success or error, and a request builder that assigns
// correlation ids.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// Version is the protocol version placed in every envelope.
const Version = "2.0"

// Params is an ordered parameter map. Keys keep their insertion order on the wire.
type Params struct {
	keys   []string
	values map[string]interface{}
}

// NewParams returns an empty parameter map.
func NewParams() *Params {
	return &Params{values: make(map[string]interface{})}
}

// Set stores v under key. Overwriting a key keeps its original position.
func (p *Params) Set(key string, v interface{}) *Params {
	if p.values == nil {
		p.values = make(map[string]interface{})
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
	return p
}

// Value returns the raw value stored under key.
func (p *Params) Value(key string) (interface{}, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Get unmarshals the parameter 'key' into out.
// Returns an error if the key doesn't exist or fails to unmarshal into out.
func (p *Params) Get(key string, out interface{}) error {
	v, ok := p.Value(key)
	if !ok {
		return errors.Errorf("no such parameter %q", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %q", key)
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "failed to unmarshal %q", key)
}

// Delete removes key from the map.
func (p *Params) Delete(key string) {
	if p == nil {
		return
	}
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in wire order.
func (p *Params) Keys() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.keys...)
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Clone returns a shallow copy.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	c := NewParams()
	for _, k := range p.keys {
		c.Set(k, p.values[k])
	}
	return c
}

// StripNulls removes every entry whose value is absent and returns how many were removed.
func (p *Params) StripNulls() int {
	if p == nil {
		return 0
	}
	removed := 0
	kept := p.keys[:0]
	for _, k := range p.keys {
		if isNull(p.values[k]) {
			delete(p.values, k)
			removed++
			continue
		}
		kept = append(kept, k)
	}
	p.keys = kept
	return removed
}

// isNull reports whether v would be encoded as JSON null.
func isNull(v interface{}) bool {
	if v == nil {
		return true
	}
	if raw, ok := v.(json.RawMessage); ok {
		trimmed := bytes.TrimSpace(raw)
		return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (p *Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal key %q", k)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal value for parameter %q", k)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the key order found in data.
// Values are kept as json.RawMessage.
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "failed to read params")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.Errorf("params must be a JSON object, got %v", tok)
	}
	p.keys = nil
	p.values = make(map[string]interface{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "failed to read parameter name")
		}
		key, ok := tok.(string)
		if !ok {
			return errors.Errorf("unexpected parameter name %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return errors.Wrapf(err, "failed to read parameter %q", key)
		}
		p.Set(key, raw)
	}
	_, err = dec.Token()
	return errors.Wrap(err, "failed to close params")
}

// Request represents a JsonRPC 2.0 Request
type Request struct {
	Version string  `json:"jsonrpc"`
	ID      string  `json:"id"`
	Method  string  `json:"method"`
	Params  *Params `json:"params,omitempty"`
}

// StripNulls removes absent parameters. A parameter map left empty is dropped.
func (r *Request) StripNulls() {
	if r.Params == nil {
		return
	}
	r.Params.StripNulls()
	if r.Params.Len() == 0 {
		r.Params = nil
	}
}

// Marshal strips absent parameters and encodes the request.
func (r *Request) Marshal() ([]byte, error) {
	r.StripNulls()
	b, err := json.Marshal(r)
	return b, errors.Wrapf(err, "failed to marshal request %q", r.Method)
}

// MarshalBatch strips every request and encodes the batch as one JSON array.
func MarshalBatch(reqs []*Request) ([]byte, error) {
	for _, r := range reqs {
		r.StripNulls()
	}
	b, err := json.Marshal(reqs)
	return b, errors.Wrap(err, "failed to marshal batch")
}

// Error is the error member of a failed response.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Response represents a JsonRPC 2.0 Response
type Response struct {
	Version string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsError reports whether the response carries an error member.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// Decode unmarshals the result member into out.
func (r *Response) Decode(out interface{}) error {
	if r.IsError() {
		return r.Error
	}
	if len(r.Result) == 0 {
		return errors.Errorf("response %q has no result", r.ID)
	}
	return errors.Wrapf(json.Unmarshal(r.Result, out), "failed to decode result of %q", r.ID)
}

// ParseResponse decodes a single response object.
func ParseResponse(body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to parse response")
	}
	return &resp, nil
}

// ParseBatch decodes a batch response. A single object, which the server sends
// when it rejects the batch as a whole, is returned as a one-element slice.
func ParseBatch(body []byte) ([]Response, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		resp, err := ParseResponse(trimmed)
		if err != nil {
			return nil, err
		}
		return []Response{*resp}, nil
	}
	var responses []Response
	if err := json.Unmarshal(trimmed, &responses); err != nil {
		return nil, errors.Wrap(err, "failed to parse batch response")
	}
	return responses, nil
}
