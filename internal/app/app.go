// ABOUTME: Built-in routes and middleware every rpcd worker boots with
// ABOUTME: Registers system, echo, and math methods on a fresh worker environment

package app

import (
	"context"

	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/harper/rpcd/internal/middleware"
	"github.com/harper/rpcd/internal/routing"
	"github.com/harper/rpcd/internal/server"
)

// Middleware names bound by Bootstrap.
const (
	RequestLogMiddleware = "log"
	ThrottleMiddleware   = "throttle"
)

// DefaultPriority runs the request log outside the throttle so rejected
// requests are still logged.
var DefaultPriority = []string{RequestLogMiddleware, ThrottleMiddleware}

// Bootstrap registers the built-in routes. Configured priority and groups
// applied afterwards replace DefaultPriority.
func Bootstrap(env *server.Env) error {
	env.Container.BindMiddleware(RequestLogMiddleware, func() (middleware.Middleware, error) {
		return NewRequestLog(env.Worker), nil
	})
	env.Container.BindMiddleware(ThrottleMiddleware, func() (middleware.Middleware, error) {
		return NewThrottle(), nil
	})
	env.Registry.SetPriority(DefaultPriority...)

	env.Container.BindController("app.System", func() (routing.Controller, error) {
		return NewSystemController(env.Worker, env.Router), nil
	})

	r := env.Router
	r.Add("ping", func(ctx context.Context, req *jsonrpc.Request) (any, error) {
		return "pong", nil
	})
	r.Add("echo", func(ctx context.Context, req *jsonrpc.Request) (any, error) {
		return req.Params(), nil
	})

	r.Group(routing.Attributes{Namespace: "app", Middleware: []string{RequestLogMiddleware}}, func(r *routing.Router) {
		r.Handle("system.info", "System@info", routing.Attributes{As: "system.info"})
		r.Handle("system.routes", "System@routes", routing.Attributes{As: "system.routes"})
	})

	r.Group(routing.Attributes{As: "math.", Middleware: []string{RequestLogMiddleware, ThrottleMiddleware + ":100,1"}}, func(r *routing.Router) {
		r.Handle("math.add", routing.Bind(add, operandsSchema), routing.Attributes{As: "add"})
		r.Handle("math.divide", routing.Bind(divide, operandsSchema), routing.Attributes{As: "divide"})
	})
	return nil
}
