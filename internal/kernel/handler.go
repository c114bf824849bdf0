// ABOUTME: Translates dispatch failures into JSON-RPC error responses
// ABOUTME: Decides which failures are reported to the log sink

package kernel

import (
	"errors"
	"fmt"

	rpcerrors "github.com/harper/rpcd/internal/errors"
	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/harper/rpcd/internal/logger"
	"github.com/harper/rpcd/internal/metrics"
)

// PanicError carries a value recovered from a handler or middleware.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Matcher selects failures by kind.
type Matcher func(err error) bool

// Kind matches any failure that is, or wraps, a T.
func Kind[T error]() Matcher {
	return func(err error) bool {
		var target T
		return errors.As(err, &target)
	}
}

// Handler reports and renders failures.
type Handler struct {
	sink       logger.Sink
	metrics    *metrics.Metrics
	dontReport []Matcher
}

// NewHandler creates a handler reporting to sink. A nil sink follows the
// logger output.
func NewHandler(sink logger.Sink, m *metrics.Metrics) *Handler {
	if sink == nil {
		sink = logger.NewSink(nil)
	}
	return &Handler{sink: sink, metrics: m}
}

// DontReport exempts additional failure kinds from reporting.
func (h *Handler) DontReport(matchers ...Matcher) {
	h.dontReport = append(h.dontReport, matchers...)
}

// ShouldReport is false for response-shaped failures and exempted kinds.
func (h *Handler) ShouldReport(err error) bool {
	if err == nil || rpcerrors.IsResponseError(err) {
		return false
	}
	for _, match := range h.dontReport {
		if match(err) {
			return false
		}
	}
	return true
}

// Report logs err unless exempt. The returned error is the sink's own
// failure; callers must then surface the original failure themselves.
func (h *Handler) Report(err error) error {
	if !h.ShouldReport(err) {
		return nil
	}
	h.metrics.Reported()
	var p *PanicError
	if errors.As(err, &p) && len(p.Stack) > 0 {
		return h.sink.Report("%v\n%s", err, p.Stack)
	}
	return h.sink.Report("%v", err)
}

// Render builds the error response for err. Failures that know their wire
// error use it verbatim; anything else becomes -32603.
func (h *Handler) Render(req *jsonrpc.Request, err error) *jsonrpc.Response {
	bag, ok := rpcerrors.ToErrorBag(err)
	if !ok {
		bag = jsonrpc.NewErrorBag(jsonrpc.InternalError, "", nil)
	}
	return jsonrpc.NewError(bag).WithID(req.ID())
}
