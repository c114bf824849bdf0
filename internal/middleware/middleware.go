// ABOUTME: Middleware contracts and the pipeline that threads requests through them
// ABOUTME: Supports short-circuiting, request mutation, and post-response terminate hooks

package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/harper/rpcd/internal/jsonrpc"
)

// Handler produces the response for a request.
type Handler func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)

// Middleware intercepts a request on its way to the route action.
// Returning without calling next short-circuits the chain.
type Middleware interface {
	Handle(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error)
}

// Terminator is implemented by middleware that wants to run after the
// response has been sent.
type Terminator interface {
	Terminate(ctx context.Context, req *jsonrpc.Request, resp *jsonrpc.Response) error
}

// Parameterized middleware accepts arguments from the "name:arg1,arg2" syntax.
type Parameterized interface {
	WithParameters(args []string) Middleware
}

// Func adapts a function to a Middleware.
type Func func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error)

func (f Func) Handle(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
	return f(ctx, req, next)
}

// Pipeline runs resolved middleware in order.
type Pipeline struct {
	middleware []Middleware
}

func NewPipeline(middleware []Middleware) *Pipeline {
	return &Pipeline{middleware: middleware}
}

// Len returns the number of middleware in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.middleware)
}

// Run threads req through every middleware and finally terminal.
func (p *Pipeline) Run(ctx context.Context, req *jsonrpc.Request, terminal Handler) (*jsonrpc.Response, error) {
	var run func(i int, ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
	run = func(i int, ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		if i < len(p.middleware) {
			if p.middleware[i] == nil {
				return nil, errors.New("middleware: nil middleware")
			}
			return p.middleware[i].Handle(ctx, req, func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
				return run(i+1, ctx, req)
			})
		}
		return terminal(ctx, req)
	}
	return run(0, ctx, req)
}

// Terminate calls every Terminator in pipeline order. All hooks run even
// when one fails; the failures are joined.
func (p *Pipeline) Terminate(ctx context.Context, req *jsonrpc.Request, resp *jsonrpc.Response) error {
	var errs []error
	for i, m := range p.middleware {
		t, ok := m.(Terminator)
		if !ok {
			continue
		}
		if err := safeTerminate(ctx, t, req, resp); err != nil {
			errs = append(errs, fmt.Errorf("terminate middleware %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func safeTerminate(ctx context.Context, t Terminator, req *jsonrpc.Request, resp *jsonrpc.Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Terminate(ctx, req, resp)
}
