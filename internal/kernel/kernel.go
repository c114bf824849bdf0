// ABOUTME: Request lifecycle for one worker: dispatch, failure translation, terminate
// ABOUTME: Recovers panics from handlers and middleware into internal errors

package kernel

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/harper/rpcd/internal/middleware"
	"github.com/harper/rpcd/internal/routing"
)

// Router is the dispatch side of a worker's route table.
type Router interface {
	Dispatch(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
	MiddlewareFor(route *routing.Route) ([]middleware.Middleware, error)
}

// Releaser frees request-scoped state after a response is sent.
type Releaser interface {
	Release(ctx context.Context) error
}

type Kernel struct {
	router   Router
	handler  *Handler
	releaser Releaser
}

// New creates a kernel. releaser may be nil.
func New(router Router, handler *Handler, releaser Releaser) *Kernel {
	if handler == nil {
		handler = NewHandler(nil, nil)
	}
	return &Kernel{router: router, handler: handler, releaser: releaser}
}

func (k *Kernel) Handler() *Handler {
	return k.handler
}

// Handle dispatches req and always produces a response. When reporting a
// failure itself fails, the rendered response is still returned together
// with the original failure so the caller can surface it.
func (k *Kernel) Handle(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	resp, err := k.dispatch(ctx, req)
	if err == nil {
		return resp, nil
	}
	rendered := k.handler.Render(req, err)
	if reportErr := k.handler.Report(err); reportErr != nil {
		return rendered, err
	}
	return rendered, nil
}

func (k *Kernel) dispatch(ctx context.Context, req *jsonrpc.Request) (resp *jsonrpc.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	resp, err = k.router.Dispatch(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("kernel: dispatch returned no response")
	}
	return resp, err
}

// Terminate runs the terminate hooks of the route matched for req, then
// releases request-scoped state. Requests that matched no route run no
// hooks. Failures are reported and returned joined.
func (k *Kernel) Terminate(ctx context.Context, req *jsonrpc.Request, resp *jsonrpc.Response) error {
	var errs []error
	if route, ok := req.Route().(*routing.Route); ok && route != nil {
		resolved, err := k.router.MiddlewareFor(route)
		if err != nil {
			errs = append(errs, fmt.Errorf("terminate: %w", err))
		} else if err := middleware.NewPipeline(resolved).Terminate(ctx, req, resp); err != nil {
			errs = append(errs, err)
		}
	}
	if k.releaser != nil {
		if err := k.releaser.Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("release: %w", err))
		}
	}
	for _, err := range errs {
		_ = k.handler.Report(err)
	}
	return errors.Join(errs...)
}
