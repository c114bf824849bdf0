// ABOUTME: Master server that partitions connections across worker goroutines
// ABOUTME: Owns the pid file, transports, and the reload/shutdown signal loop

package server

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harper/rpcd/internal/admission"
	"github.com/harper/rpcd/internal/kernel"
	"github.com/harper/rpcd/internal/logger"
	"github.com/harper/rpcd/internal/metrics"
	"github.com/harper/rpcd/internal/middleware"
	"github.com/harper/rpcd/internal/process"
	"github.com/harper/rpcd/internal/resolver"
	"github.com/harper/rpcd/internal/routing"
	"golang.org/x/sys/unix"
)

var (
	// ErrOverflow is returned by Receive when the owning worker's admission
	// ceiling rejected the connection. The overflow handler has already run.
	ErrOverflow = errors.New("server: admission ceiling reached")
	// ErrNotServing is returned when the server is not accepting payloads.
	ErrNotServing = errors.New("server: not serving")
)

const (
	DefaultQueueSize       = 256
	DefaultShutdownTimeout = 10 * time.Second
)

// Sender writes an encoded response back on the originating connection.
type Sender interface {
	Send(data []byte) error
}

type SenderFunc func(data []byte) error

func (f SenderFunc) Send(data []byte) error { return f(data) }

// OverflowEvent describes a payload that was not dispatched because its
// connection could not be admitted.
type OverflowEvent struct {
	ConnectionID string
	ReactorID    int
	Payload      []byte
}

type OverflowHandler func(ev OverflowEvent)

// Env is the per-worker application environment handed to Bootstrap.
// Everything in it belongs to a single worker.
type Env struct {
	Worker    int
	Registry  *middleware.Registry
	Router    *routing.Router
	Container *resolver.Container
	Handler   *kernel.Handler
}

// Bootstrap registers routes, middleware, and bindings for one worker. It
// runs again for every worker on reload.
type Bootstrap func(env *Env) error

// Transport is a listener owned by the master. *http.Server satisfies it.
type Transport interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type Options struct {
	Name            string
	Workers         int
	MaxConnections  int
	QueueSize       int
	ShutdownTimeout time.Duration
	PIDFile         *process.PIDFile
	Metrics         *metrics.Metrics
	Sink            logger.Sink
	OnOverflow      OverflowHandler
}

type Server struct {
	opts       Options
	bootstrap  Bootstrap
	workers    []*Worker
	transports []Transport

	state        atomic.Int32
	shutdownOnce sync.Once
	shutdownErr  error
	stopped      chan struct{}
}

// New creates a server. Zero options take their defaults.
func New(bootstrap Bootstrap, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "rpcd"
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = admission.DefaultCeiling
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Sink == nil {
		opts.Sink = logger.NewSink(nil)
	}
	if opts.OnOverflow == nil {
		opts.OnOverflow = logOverflow
	}

	s := &Server{
		opts:      opts,
		bootstrap: bootstrap,
		stopped:   make(chan struct{}),
	}
	s.state.Store(int32(StateStopped))
	for i := 0; i < opts.Workers; i++ {
		s.workers = append(s.workers, newWorker(i, s))
	}
	return s
}

func logOverflow(ev OverflowEvent) {
	logger.Warn("[worker:%d] connection %s over admission ceiling, %d bytes dropped",
		ev.ReactorID, ev.ConnectionID, len(ev.Payload))
}

func (s *Server) Name() string { return s.opts.Name }

func (s *Server) State() State { return State(s.state.Load()) }

// Workers returns the number of workers.
func (s *Server) Workers() int { return len(s.workers) }

// WorkerStates reports each worker's state, indexed by reactor id.
func (s *Server) WorkerStates() []State {
	states := make([]State, len(s.workers))
	for i, w := range s.workers {
		states[i] = w.State()
	}
	return states
}

// Routes returns the route table of the first worker. Every worker runs
// the same Bootstrap, so the tables are equivalent.
func (s *Server) Routes() []*routing.Route {
	if len(s.workers) == 0 {
		return nil
	}
	return s.workers[0].Routes()
}

// AddTransport registers listeners started by Serve.
func (s *Server) AddTransport(t ...Transport) {
	s.transports = append(s.transports, t...)
}

// ReactorID maps a connection to the worker that owns it.
func (s *Server) ReactorID(connID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(connID))
	return int(h.Sum32() % uint32(len(s.workers)))
}

// Start records the pid and boots every worker. A failing Bootstrap stops
// the workers already started.
func (s *Server) Start(ctx context.Context) error {
	select {
	case <-s.stopped:
		return errors.New("server: already shut down")
	default:
	}
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("server: cannot start while %s", s.State())
	}
	if s.opts.PIDFile != nil {
		if err := s.opts.PIDFile.Write(os.Getpid()); err != nil {
			s.state.Store(int32(StateStopped))
			return err
		}
	}

	for i, w := range s.workers {
		if err := w.start(); err != nil {
			for _, started := range s.workers[:i] {
				_ = started.stop(ctx)
			}
			if s.opts.PIDFile != nil {
				_ = s.opts.PIDFile.Remove()
			}
			s.state.Store(int32(StateStopped))
			return fmt.Errorf("worker %d: %w", i, err)
		}
	}

	s.state.Store(int32(StateServing))
	logger.Info("%s serving with %d workers (pid %d, max %d connections per worker)",
		s.opts.Name, len(s.workers), os.Getpid(), s.opts.MaxConnections)
	return nil
}

// Serve runs the transports and the signal loop until ctx is done, a
// terminating signal arrives, or a transport fails. It always shuts down
// before returning.
func (s *Server) Serve(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT, process.ReloadSignal)
	defer signal.Stop(sigCh)

	errCh := make(chan error, len(s.transports))
	for _, t := range s.transports {
		go func(t Transport) {
			if err := t.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(t)
	}

	var serveErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-s.stopped:
			return s.shutdownErr
		case sig := <-sigCh:
			if sig == process.ReloadSignal {
				logger.Info("Received %v, reloading workers", sig)
				if err := s.Reload(ctx); err != nil {
					logger.Error("Reload failed: %v", err)
				}
				continue
			}
			logger.Info("Received %v, shutting down", sig)
			break loop
		case err := <-errCh:
			serveErr = fmt.Errorf("transport: %w", err)
			break loop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, s.Shutdown(shutdownCtx))
}

// Run is Start followed by Serve.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Receive hands payload to the worker owning connID and waits until it has
// been processed. It returns ErrOverflow when the connection was not
// admitted. Failures while dispatching never surface here; they are sent
// to the client as error responses.
func (s *Server) Receive(ctx context.Context, connID string, payload []byte, sender Sender) error {
	if s.State() != StateServing {
		return ErrNotServing
	}
	w := s.workers[s.ReactorID(connID)]
	return w.submit(ctx, event{kind: eventReceive, connID: connID, payload: payload, sender: sender})
}

// Close releases connID from its worker's admission set.
func (s *Server) Close(connID string) {
	if len(s.workers) == 0 {
		return
	}
	w := s.workers[s.ReactorID(connID)]
	if err := w.submit(context.Background(), event{kind: eventClose, connID: connID}); err != nil {
		logger.Debug("[worker:%d] close %s: %v", w.id, connID, err)
	}
}

// Reload restarts every worker in place. Events queued before the reload
// are processed by the old generation; the pid file is untouched.
func (s *Server) Reload(ctx context.Context) error {
	if s.State() != StateServing {
		return ErrNotServing
	}
	var errs []error
	for _, w := range s.workers {
		if err := w.submit(ctx, event{kind: eventReload}); err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", w.id, err))
		}
	}
	if len(errs) == 0 {
		logger.Info("%s reloaded %d workers", s.opts.Name, len(s.workers))
	}
	return errors.Join(errs...)
}

// Shutdown stops the transports, drains the workers, and removes the pid
// file. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.state.Store(int32(StateStopping))
		var errs []error
		for _, t := range s.transports {
			if err := t.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("transport shutdown: %w", err))
			}
		}
		for _, w := range s.workers {
			if err := w.stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("worker %d: %w", w.id, err))
			}
		}
		if s.opts.PIDFile != nil {
			if err := s.opts.PIDFile.Remove(); err != nil {
				errs = append(errs, err)
			}
		}
		s.state.Store(int32(StateStopped))
		s.shutdownErr = errors.Join(errs...)
		close(s.stopped)
		logger.Info("%s stopped", s.opts.Name)
	})
	return s.shutdownErr
}

// Done is closed once Shutdown completes.
func (s *Server) Done() <-chan struct{} {
	return s.stopped
}
