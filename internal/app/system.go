// ABOUTME: Introspection controller exposing worker identity and the route table
// ABOUTME: Resolved by name through the worker container

package app

import (
	"context"
	"os"
	"time"

	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/harper/rpcd/internal/routing"
)

type SystemController struct {
	worker  int
	router  *routing.Router
	started time.Time
}

func NewSystemController(worker int, router *routing.Router) *SystemController {
	return &SystemController{worker: worker, router: router, started: time.Now()}
}

type SystemInfo struct {
	Worker int    `json:"worker"`
	PID    int    `json:"pid"`
	Uptime string `json:"uptime"`
}

type RouteSummary struct {
	Method string `json:"method"`
	Name   string `json:"name,omitempty"`
	Action string `json:"action"`
}

func (c *SystemController) Method(name string) (routing.HandlerFunc, bool) {
	switch name {
	case "info":
		return c.info, true
	case "routes":
		return c.routes, true
	}
	return nil, false
}

func (c *SystemController) Middleware() []routing.ControllerMiddleware {
	return []routing.ControllerMiddleware{
		{Name: ThrottleMiddleware + ":10,1", Only: []string{"routes"}},
	}
}

func (c *SystemController) info(ctx context.Context, req *jsonrpc.Request) (any, error) {
	return SystemInfo{
		Worker: c.worker,
		PID:    os.Getpid(),
		Uptime: time.Since(c.started).Truncate(time.Second).String(),
	}, nil
}

func (c *SystemController) routes(ctx context.Context, req *jsonrpc.Request) (any, error) {
	all := c.router.Routes().All()
	out := make([]RouteSummary, 0, len(all))
	for _, route := range all {
		out = append(out, RouteSummary{
			Method: route.Method(),
			Name:   route.Name(),
			Action: route.Action().String(),
		})
	}
	return out, nil
}
