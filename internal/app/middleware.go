// ABOUTME: Request logging and fixed-window throttling middleware
// ABOUTME: Throttle takes "throttle:limit,seconds" parameters per route

package app

import (
	"context"
	"strconv"
	"time"

	"github.com/harper/rpcd/internal/errors"
	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/harper/rpcd/internal/logger"
	"github.com/harper/rpcd/internal/middleware"
)

// TooManyRequests is the server error code for throttled requests.
const TooManyRequests = -32029

// RequestLog stamps each request with its start time and logs the outcome
// once the response has been sent.
type RequestLog struct {
	worker int
	now    func() time.Time
}

const startedAtKey = "_started_at"

func NewRequestLog(worker int) *RequestLog {
	return &RequestLog{worker: worker, now: time.Now}
}

func (l *RequestLog) Handle(ctx context.Context, req *jsonrpc.Request, next middleware.Handler) (*jsonrpc.Response, error) {
	req.Merge(map[string]any{startedAtKey: l.now()})
	return next(ctx, req)
}

func (l *RequestLog) Terminate(ctx context.Context, req *jsonrpc.Request, resp *jsonrpc.Response) error {
	outcome := "ok"
	if resp != nil && resp.HasError() {
		outcome = "error " + strconv.Itoa(resp.Error().Code())
	}
	var elapsed time.Duration
	if v, ok := req.Payload().Get(startedAtKey); ok {
		if started, ok := v.(time.Time); ok {
			elapsed = l.now().Sub(started)
		}
	}
	logger.Debug("[worker:%d] %s %s (%s)", l.worker, req.Method(), outcome, elapsed)
	return nil
}

// Throttle limits requests per method within a fixed window. Instances
// created by WithParameters share the base instance's counters, which
// belong to a single worker.
type Throttle struct {
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*throttleWindow
}

type throttleWindow struct {
	start time.Time
	count int
}

// NewThrottle allows 60 requests per minute until parameterized.
func NewThrottle() *Throttle {
	return &Throttle{
		limit:   60,
		window:  time.Minute,
		now:     time.Now,
		windows: make(map[string]*throttleWindow),
	}
}

// WithParameters reads "limit" and optionally "seconds". Unparseable values
// keep the defaults.
func (t *Throttle) WithParameters(args []string) middleware.Middleware {
	view := *t
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			view.limit = n
		}
	}
	if len(args) > 1 {
		if s, err := strconv.Atoi(args[1]); err == nil && s > 0 {
			view.window = time.Duration(s) * time.Second
		}
	}
	return &view
}

func (t *Throttle) Handle(ctx context.Context, req *jsonrpc.Request, next middleware.Handler) (*jsonrpc.Response, error) {
	now := t.now()
	w, ok := t.windows[req.Method()]
	if !ok || now.Sub(w.start) >= t.window {
		w = &throttleWindow{start: now}
		t.windows[req.Method()] = w
	}
	w.count++
	if w.count > t.limit {
		retry := w.start.Add(t.window).Sub(now)
		return nil, errors.NewServerError(TooManyRequests, "Too many requests", map[string]any{
			"retry_after_ms": retry.Milliseconds(),
		})
	}
	return next(ctx, req)
}
