// ABOUTME: JSON-RPC 2.0 envelope types for the dispatch core
// ABOUTME: Implements request parsing, response shaping, and the error bag

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harper/rpcd/internal/payload"
)

// Version is the only protocol version this server speaks.
const Version = "2.0"

// Standard JSON-RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
	ServerError    = -32000
)

// CodeTexts are the default messages for the reserved codes.
var CodeTexts = map[int]string{
	ParseError:     "Parse error",
	InvalidRequest: "Invalid Request",
	MethodNotFound: "Method not found",
	InvalidParams:  "Invalid params",
	InternalError:  "Internal error",
	ServerError:    "Server error",
}

// CodeText returns the default message for code, or "Server error" for
// implementation-defined codes.
func CodeText(code int) string {
	if text, ok := CodeTexts[code]; ok {
		return text
	}
	return CodeTexts[ServerError]
}

var (
	// ErrParse wraps any decode failure of the raw bytes.
	ErrParse = errors.New("parse error")
	// ErrInvalidRequest wraps envelope validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

var requiredMembers = []string{"jsonrpc", "method"}

// Request is a validated JSON-RPC call or notification.
type Request struct {
	payload *payload.Payload
	content []byte
	route   any
}

// ParseRequest decodes raw bytes into a validated Request.
// Malformed JSON wraps ErrParse; a missing or mistyped required member
// wraps ErrInvalidRequest. In the latter case the partially read id is
// still returned through ID so callers can echo it.
func ParseRequest(content []byte) (*Request, error) {
	p, err := payload.Decode(content)
	if err != nil {
		if errors.Is(err, payload.ErrNotObject) {
			return nil, fmt.Errorf("%w: request must be a json object", ErrInvalidRequest)
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return NewRequest(p, content)
}

// NewRequest validates the envelope members of p.
func NewRequest(p *payload.Payload, content []byte) (*Request, error) {
	req := &Request{payload: p, content: content}
	for _, member := range requiredMembers {
		v, ok := p.Get(member)
		if !ok {
			return req, fmt.Errorf("%w: lack of required member %q", ErrInvalidRequest, member)
		}
		if _, isString := v.(string); !isString {
			return req, fmt.Errorf("%w: member %q must be a string", ErrInvalidRequest, member)
		}
	}
	if id, ok := p.Get("id"); ok && !validID(id) {
		return req, fmt.Errorf("%w: id must be a string, number, or null", ErrInvalidRequest)
	}
	return req, nil
}

// NewCall builds a request in code, mostly for clients and tests.
func NewCall(method string, params any, id any) *Request {
	p := payload.New("jsonrpc", Version, "method", method)
	if params != nil {
		p.Set("params", params)
	}
	if id != nil {
		p.Set("id", id)
	}
	return &Request{payload: p}
}

// NewNotification builds a request without an id.
func NewNotification(method string, params any) *Request {
	return NewCall(method, params, nil)
}

func validID(id any) bool {
	switch id.(type) {
	case nil, string, json.Number, float64, int, int64:
		return true
	default:
		return false
	}
}

// JSONRPC returns the version member.
func (r *Request) JSONRPC() string {
	v, _ := r.payload.GetString("jsonrpc")
	return v
}

// Method returns the requested method name as sent.
func (r *Request) Method() string {
	v, _ := r.payload.GetString("method")
	return v
}

// Params returns the decoded params member, or nil.
func (r *Request) Params() any {
	v, _ := r.payload.Get("params")
	return v
}

// RawParams re-encodes params so typed handlers can unmarshal them.
func (r *Request) RawParams() (json.RawMessage, error) {
	v, ok := r.payload.Get("params")
	if !ok {
		return nil, nil
	}
	return json.Marshal(v)
}

// Param returns a single named param when params is an object.
func (r *Request) Param(key string) (any, bool) {
	params, ok := r.Params().(*payload.Payload)
	if !ok {
		return nil, false
	}
	return params.Get(key)
}

// ID returns the raw id value (nil for notifications and explicit nulls).
func (r *Request) ID() any {
	if r == nil {
		return nil
	}
	v, _ := r.payload.Get("id")
	return v
}

// EchoID is ID when it may appear in a response: a string, a number, or
// null. Any other id type yields nil.
func (r *Request) EchoID() any {
	id := r.ID()
	if !validID(id) {
		return nil
	}
	return id
}

// HasID reports whether the id member was present.
func (r *Request) HasID() bool {
	return r != nil && r.payload.Has("id")
}

// IsNotification reports whether the request carries no id member.
func (r *Request) IsNotification() bool {
	return !r.HasID()
}

// Payload exposes the underlying attributes for middleware that rewrite requests.
func (r *Request) Payload() *payload.Payload {
	return r.payload
}

// Merge copies attributes onto the request payload.
func (r *Request) Merge(attrs map[string]any) {
	r.payload.MergeMap(attrs)
}

// Content returns the raw bytes the request was parsed from, if any.
func (r *Request) Content() []byte {
	return r.content
}

// SetRoute records the route matched for this request.
func (r *Request) SetRoute(route any) {
	r.route = route
}

// Route returns the route recorded by SetRoute.
func (r *Request) Route() any {
	return r.route
}

// MarshalJSON encodes the request attributes.
func (r *Request) MarshalJSON() ([]byte, error) {
	return r.payload.MarshalJSON()
}

// ErrorBag is the error member of a failed response. It is immutable.
type ErrorBag struct {
	code    int
	message string
	data    any
}

// NewErrorBag constructs an ErrorBag. Empty messages use the code text.
func NewErrorBag(code int, message string, data any) *ErrorBag {
	if message == "" {
		message = CodeText(code)
	}
	return &ErrorBag{code: code, message: message, data: data}
}

func (e *ErrorBag) Code() int       { return e.code }
func (e *ErrorBag) Message() string { return e.message }
func (e *ErrorBag) Data() any       { return e.data }

type errorBagJSON struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ErrorBag) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorBagJSON{Code: e.code, Message: e.message, Data: e.data})
}

func (e *ErrorBag) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.code = raw.Code
	e.message = raw.Message
	e.data = nil
	if len(raw.Data) > 0 && !bytes.Equal(raw.Data, []byte("null")) {
		e.data = raw.Data
	}
	return nil
}

// Response holds exactly one of a result or an error.
type Response struct {
	id     any
	result any
	err    *ErrorBag
}

// NewResult creates a success response.
func NewResult(result any) *Response {
	return &Response{result: result}
}

// NewError creates a failure response.
func NewError(bag *ErrorBag) *Response {
	return &Response{err: bag}
}

// NewErrorResponse is shorthand for NewError(NewErrorBag(...)) with an id.
func NewErrorResponse(code int, message string, data any, id any) *Response {
	return NewError(NewErrorBag(code, message, data)).WithID(id)
}

// SetResult replaces the result and clears any error.
func (r *Response) SetResult(result any) *Response {
	r.result = result
	r.err = nil
	return r
}

// SetError replaces the error and clears any result.
func (r *Response) SetError(bag *ErrorBag) *Response {
	r.err = bag
	r.result = nil
	return r
}

// WithID stamps the correlation id.
func (r *Response) WithID(id any) *Response {
	r.id = id
	return r
}

// Prepare copies the id of req onto the response.
func (r *Response) Prepare(req *Request) *Response {
	return r.WithID(req.ID())
}

func (r *Response) ID() any          { return r.id }
func (r *Response) Result() any      { return r.result }
func (r *Response) Error() *ErrorBag { return r.err }
func (r *Response) HasError() bool   { return r.err != nil }

// MarshalJSON writes jsonrpc, id and then result or error, in that order.
func (r *Response) MarshalJSON() ([]byte, error) {
	p := payload.New("jsonrpc", Version, "id", r.id)
	if r.err != nil {
		p.Set("error", r.err)
	} else {
		p.Set("result", r.result)
	}
	return p.MarshalJSON()
}

// UnmarshalJSON decodes a response envelope. Result stays raw JSON.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *ErrorBag       `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.id = nil
	if len(raw.ID) > 0 && !bytes.Equal(raw.ID, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw.ID))
		dec.UseNumber()
		var id any
		if err := dec.Decode(&id); err != nil {
			return err
		}
		r.id = id
	}
	r.err = raw.Error
	r.result = nil
	if raw.Error == nil && len(raw.Result) > 0 {
		r.result = raw.Result
	}
	return nil
}

// Encode serializes the response for the wire.
func (r *Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}
