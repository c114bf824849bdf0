// ABOUTME: Worker goroutine owning one route table, kernel, and admission set
// ABOUTME: Processes receive, close, and reload events strictly in arrival order

package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harper/rpcd/internal/admission"
	rpcerrors "github.com/harper/rpcd/internal/errors"
	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/harper/rpcd/internal/kernel"
	"github.com/harper/rpcd/internal/logger"
	"github.com/harper/rpcd/internal/metrics"
	"github.com/harper/rpcd/internal/middleware"
	"github.com/harper/rpcd/internal/resolver"
	"github.com/harper/rpcd/internal/routing"
)

type eventKind int

const (
	eventReceive eventKind = iota
	eventClose
	eventReload
)

type event struct {
	kind    eventKind
	ctx     context.Context
	connID  string
	payload []byte
	sender  Sender
	result  chan error
}

// generation is everything Bootstrap builds. Reload swaps it whole.
type generation struct {
	env    *Env
	kernel *kernel.Kernel
}

// Worker is one reactor. The admission set survives reloads because the
// connections it tracks stay open on the master's transports.
type Worker struct {
	id        int
	server    *Server
	events    chan event
	quit      chan struct{}
	done      chan struct{}
	quitOnce  sync.Once
	started   atomic.Bool
	state     atomic.Int32
	gen       atomic.Pointer[generation]
	admission *admission.Controller
}

func newWorker(id int, s *Server) *Worker {
	w := &Worker{
		id:        id,
		server:    s,
		events:    make(chan event, s.opts.QueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		admission: admission.New(s.opts.MaxConnections),
	}
	w.state.Store(int32(StateStopped))
	return w
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) State() State { return State(w.state.Load()) }

// Routes returns the current generation's routes.
func (w *Worker) Routes() []*routing.Route {
	gen := w.gen.Load()
	if gen == nil {
		return nil
	}
	return gen.env.Router.Routes().All()
}

func (w *Worker) boot() (gen *generation, err error) {
	defer func() {
		if r := recover(); r != nil {
			gen, err = nil, fmt.Errorf("bootstrap panic: %v", r)
		}
	}()

	container := resolver.New()
	registry := middleware.NewRegistry(container)
	env := &Env{
		Worker:    w.id,
		Registry:  registry,
		Router:    routing.NewRouter(registry, container),
		Container: container,
		Handler:   kernel.NewHandler(w.server.opts.Sink, w.server.opts.Metrics),
	}
	if w.server.bootstrap != nil {
		if err := w.server.bootstrap(env); err != nil {
			return nil, err
		}
	}
	env.Router.Freeze()
	return &generation{env: env, kernel: kernel.New(env.Router, env.Handler, env.Container)}, nil
}

func (w *Worker) start() error {
	w.state.Store(int32(StateStarting))
	gen, err := w.boot()
	if err != nil {
		w.state.Store(int32(StateStopped))
		return err
	}
	w.gen.Store(gen)
	w.started.Store(true)
	w.state.Store(int32(StateServing))
	w.server.opts.Metrics.WorkerServing(1)
	logger.Debug("[worker:%d] serving %d routes", w.id, gen.env.Router.Routes().Len())

	go w.loop()
	return nil
}

// stop drains queued events and waits for the loop to exit.
func (w *Worker) stop(ctx context.Context) error {
	if !w.started.Load() {
		return nil
	}
	w.state.Store(int32(StateStopping))
	w.quitOnce.Do(func() { close(w.quit) })
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if w.started.CompareAndSwap(true, false) {
		w.server.opts.Metrics.WorkerServing(-1)
	}
	w.state.Store(int32(StateStopped))
	return nil
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case ev := <-w.events:
			w.handle(ev)
		case <-w.quit:
			for {
				select {
				case ev := <-w.events:
					w.handle(ev)
				default:
					return
				}
			}
		}
	}
}

// submit queues ev and waits for its outcome.
func (w *Worker) submit(ctx context.Context, ev event) error {
	ev.ctx = ctx
	ev.result = make(chan error, 1)

	select {
	case w.events <- ev:
	case <-w.quit:
		return ErrNotServing
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ev.result:
		return err
	case <-w.done:
		select {
		case err := <-ev.result:
			return err
		default:
			return ErrNotServing
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) handle(ev event) {
	var err error
	switch ev.kind {
	case eventReceive:
		err = w.receive(ev)
	case eventClose:
		w.admission.Release(ev.connID)
		w.server.opts.Metrics.SetConnections(w.id, w.admission.Len())
	case eventReload:
		err = w.reload()
	}
	ev.result <- err
}

func (w *Worker) reload() error {
	m := w.server.opts.Metrics
	w.state.Store(int32(StateStopping))
	m.WorkerServing(-1)
	w.state.Store(int32(StateStarting))

	gen, err := w.boot()
	if err != nil {
		w.state.Store(int32(StateServing))
		m.WorkerServing(1)
		return fmt.Errorf("reload: %w", err)
	}
	w.gen.Store(gen)
	w.state.Store(int32(StateServing))
	m.WorkerServing(1)
	logger.Debug("[worker:%d] reloaded with %d routes", w.id, gen.env.Router.Routes().Len())
	return nil
}

func (w *Worker) receive(ev event) error {
	opts := w.server.opts
	if !w.admission.Admit(ev.connID) {
		opts.Metrics.Overflow(w.id)
		w.overflow(OverflowEvent{ConnectionID: ev.connID, ReactorID: w.id, Payload: ev.payload})
		return ErrOverflow
	}
	opts.Metrics.SetConnections(w.id, w.admission.Len())

	gen := w.gen.Load()
	started := time.Now()
	var req *jsonrpc.Request
	replied := false
	reply := func(resp *jsonrpc.Response) {
		replied = true
		w.send(ev, resp)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		failure := &kernel.PanicError{Value: r, Stack: debug.Stack()}
		if reportErr := gen.env.Handler.Report(failure); reportErr != nil {
			logger.Error("[worker:%d] %v (report failed: %v)", w.id, failure, reportErr)
		}
		if replied {
			return
		}
		var id any
		if req != nil {
			id = req.ID()
		}
		w.send(ev, jsonrpc.NewErrorResponse(jsonrpc.InternalError, "", nil, id))
		opts.Metrics.ObserveRequest(routeMethod(req), metrics.OutcomeError, time.Since(started))
	}()

	req, err := jsonrpc.ParseRequest(ev.payload)
	if err != nil {
		logger.Debug("[worker:%d] %s: %v", w.id, ev.connID, err)
		reply(decodeFailure(req, err))
		opts.Metrics.ObserveRequest("", metrics.OutcomeError, time.Since(started))
		return nil
	}

	resp, err := gen.kernel.Handle(ev.ctx, req)
	if err != nil {
		// The report sink failed; keep the original failure visible.
		logger.Error("[worker:%d] unreported failure in %q: %v", w.id, req.Method(), err)
	}
	if req.IsNotification() {
		replied = true
	} else {
		reply(resp)
	}

	outcome := metrics.OutcomeOK
	if resp.HasError() {
		outcome = metrics.OutcomeError
	}
	opts.Metrics.ObserveRequest(routeMethod(req), outcome, time.Since(started))

	if err := gen.kernel.Terminate(ev.ctx, req, resp); err != nil {
		logger.Debug("[worker:%d] terminate %q: %v", w.id, req.Method(), err)
	}
	return nil
}

func (w *Worker) overflow(ev OverflowEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[worker:%d] overflow handler panic: %v", w.id, r)
		}
	}()
	w.server.opts.OnOverflow(ev)
}

func (w *Worker) send(ev event, resp *jsonrpc.Response) {
	if ev.sender == nil {
		return
	}
	data, err := resp.Encode()
	if err != nil {
		logger.Error("[worker:%d] encode response: %v", w.id, err)
		data, _ = jsonrpc.NewErrorResponse(jsonrpc.InternalError, "", nil, resp.ID()).Encode()
	}
	if err := safeSend(ev.sender, data); err != nil {
		logger.Warn("[worker:%d] send to %s: %v", w.id, ev.connID, err)
	}
}

func safeSend(sender Sender, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return sender.Send(data)
}

// decodeFailure renders a payload that never became a Request. Malformed
// JSON has no readable id; an invalid envelope echoes its id when that id
// is itself well-typed.
func decodeFailure(req *jsonrpc.Request, err error) *jsonrpc.Response {
	if errors.Is(err, jsonrpc.ErrInvalidRequest) {
		details := strings.TrimPrefix(err.Error(), jsonrpc.ErrInvalidRequest.Error()+": ")
		return jsonrpc.NewError(rpcerrors.NewInvalidRequestError(details).ToJSONRPCError()).WithID(req.EchoID())
	}
	return jsonrpc.NewError(rpcerrors.NewParseError().ToJSONRPCError()).WithID(nil)
}

func routeMethod(req *jsonrpc.Request) string {
	if req == nil {
		return ""
	}
	if route, ok := req.Route().(*routing.Route); ok && route != nil {
		return route.Method()
	}
	return ""
}
