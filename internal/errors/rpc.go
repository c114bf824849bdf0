// ABOUTME: Response-shaped failures that render directly into JSON-RPC errors
// ABOUTME: Handlers and middleware return these to pick the error code sent back

package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/harper/rpcd/internal/jsonrpc"
)

// JSONRPCError is implemented by failures that know their wire representation.
type JSONRPCError interface {
	error
	ToJSONRPCError() *jsonrpc.ErrorBag
}

// ResponseError is deliberately raised to produce a specific error response.
// It is rendered verbatim and never reported.
type ResponseError struct {
	Code    int
	Message string
	Data    any
	Cause   error
}

// New creates a ResponseError. An empty message uses the code text.
func New(code int, message string, data any) *ResponseError {
	if message == "" {
		message = jsonrpc.CodeText(code)
	}
	return &ResponseError{Code: code, Message: message, Data: data}
}

func (e *ResponseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%d): %v", e.Message, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

func (e *ResponseError) Unwrap() error {
	return e.Cause
}

func (e *ResponseError) ToJSONRPCError() *jsonrpc.ErrorBag {
	return jsonrpc.NewErrorBag(e.Code, e.Message, e.Data)
}

// WithCause attaches the underlying failure for logs. It does not change
// what the client sees.
func (e *ResponseError) WithCause(err error) *ResponseError {
	e.Cause = err
	return e
}

func NewParseError() *ResponseError {
	return New(jsonrpc.ParseError, "", nil)
}

func NewInvalidRequestError(details string) *ResponseError {
	var data any
	if details != "" {
		data = map[string]any{"details": details}
	}
	return New(jsonrpc.InvalidRequest, "", data)
}

// NewMethodNotFoundError carries no data so the wire error stays minimal.
func NewMethodNotFoundError(method string) *ResponseError {
	return New(jsonrpc.MethodNotFound, "", nil).WithCause(fmt.Errorf("no route for %q", method))
}

// NewInvalidParamsError carries per-field messages, e.g. {"name": ["is required"]}.
func NewInvalidParamsError(fields map[string][]string) *ResponseError {
	var data any
	if len(fields) > 0 {
		data = fields
	}
	return New(jsonrpc.InvalidParams, "", data)
}

func NewInternalError(message string) *ResponseError {
	return New(jsonrpc.InternalError, message, nil)
}

// NewServerError builds an implementation-defined error in -32000..-32099.
// Codes outside that range are clamped to -32000.
func NewServerError(code int, message string, data any) *ResponseError {
	if code > -32000 || code < -32099 {
		code = jsonrpc.ServerError
	}
	return New(code, message, data)
}

// ToErrorBag returns the wire error for err when it declares one.
func ToErrorBag(err error) (*jsonrpc.ErrorBag, bool) {
	var rpcErr JSONRPCError
	if stderrors.As(err, &rpcErr) {
		return rpcErr.ToJSONRPCError(), true
	}
	return nil, false
}

// IsResponseError reports whether err is a deliberately raised response.
func IsResponseError(err error) bool {
	var re *ResponseError
	return stderrors.As(err, &re)
}
