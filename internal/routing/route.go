// ABOUTME: A registered binding from a normalized method name to an action
// ABOUTME: Gathers route and controller middleware once and caches the result

package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harper/rpcd/internal/jsonrpc"
)

var actionDelimiters = []string{"::", "@"}

func normalizeMethod(method string) string {
	for _, d := range actionDelimiters {
		method = strings.ReplaceAll(method, d, "@")
	}
	return method
}

// Route is immutable once registered, apart from its middleware cache.
type Route struct {
	method     string
	action     Action
	middleware []string
	name       string

	gatherOnce sync.Once
	gathered   []string
	gatherErr  error
}

func newRoute(method string, action Action, middleware []string, name string) *Route {
	return &Route{
		method:     normalizeMethod(method),
		action:     action,
		middleware: middleware,
		name:       name,
	}
}

func (r *Route) Method() string { return r.method }
func (r *Route) Action() Action { return r.action }
func (r *Route) Name() string   { return r.name }

// Middleware returns the middleware declared on the route and its groups.
func (r *Route) Middleware() []string {
	return append([]string(nil), r.middleware...)
}

// Matches compares the request method after delimiter normalization.
func (r *Route) Matches(req *jsonrpc.Request) bool {
	return r.method == normalizeMethod(req.Method())
}

// GatherMiddleware returns the route middleware followed by the controller's
// own middleware for the target method, without duplicates. The result is
// computed on the first call.
func (r *Route) GatherMiddleware(resolver Resolver) ([]string, error) {
	r.gatherOnce.Do(func() {
		names := append([]string(nil), r.middleware...)
		controllerMiddleware, err := r.controllerMiddleware(resolver)
		if err != nil {
			r.gatherErr = err
			return
		}
		names = append(names, controllerMiddleware...)
		r.gathered = uniqueStrings(names)
	})
	return r.gathered, r.gatherErr
}

func (r *Route) controllerMiddleware(resolver Resolver) ([]string, error) {
	if r.action.Kind != TargetAction || resolver == nil {
		return nil, nil
	}
	controller, err := r.controller(resolver)
	if err != nil {
		return nil, err
	}
	provider, ok := controller.(MiddlewareProvider)
	if !ok {
		return nil, nil
	}
	var names []string
	for _, m := range provider.Middleware() {
		if !excludedByOptions(r.action.Method, m) {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

func (r *Route) controller(resolver Resolver) (Controller, error) {
	if resolver == nil {
		return nil, fmt.Errorf("routing: no resolver for %s", r.action)
	}
	controller, err := resolver.Controller(r.action.Type)
	if err != nil {
		return nil, fmt.Errorf("resolve controller %s: %w", r.action.Type, err)
	}
	return controller, nil
}

// Run invokes the action.
func (r *Route) Run(ctx context.Context, req *jsonrpc.Request, resolver Resolver) (any, error) {
	if r.action.Kind == FuncAction {
		if r.action.Func == nil {
			return nil, fmt.Errorf("routing: route %s has no handler", r.method)
		}
		return r.action.Func(ctx, req)
	}
	controller, err := r.controller(resolver)
	if err != nil {
		return nil, err
	}
	fn, ok := controller.Method(r.action.Method)
	if !ok {
		return nil, fmt.Errorf("routing: controller %s has no method %s", r.action.Type, r.action.Method)
	}
	return fn(ctx, req)
}

func uniqueStrings(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
