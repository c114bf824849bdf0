// ABOUTME: Ordered route storage with lookups by method, name, and action
// ABOUTME: Append-only during registration and read-only while serving

package routing

import (
	"github.com/harper/rpcd/internal/errors"
	"github.com/harper/rpcd/internal/jsonrpc"
)

type RouteCollection struct {
	routes   []*Route
	byMethod map[string][]*Route
	byName   map[string]*Route
	byAction map[string]*Route
}

func NewRouteCollection() *RouteCollection {
	return &RouteCollection{
		byMethod: make(map[string][]*Route),
		byName:   make(map[string]*Route),
		byAction: make(map[string]*Route),
	}
}

// Add appends route and indexes it. A later route with the same name or
// action replaces the earlier one in those indexes.
func (c *RouteCollection) Add(route *Route) *Route {
	c.routes = append(c.routes, route)
	c.byMethod[route.method] = append(c.byMethod[route.method], route)
	if route.name != "" {
		c.byName[route.name] = route
	}
	if route.action.Kind == TargetAction {
		c.byAction[route.action.String()] = route
	}
	return route
}

// Match returns the first route registered for the request method.
func (c *RouteCollection) Match(req *jsonrpc.Request) (*Route, error) {
	for _, route := range c.routes {
		if route.Matches(req) {
			return route, nil
		}
	}
	return nil, errors.NewMethodNotFoundError(req.Method())
}

// ByMethod returns the routes registered under a normalized method.
func (c *RouteCollection) ByMethod(method string) []*Route {
	return c.byMethod[normalizeMethod(method)]
}

func (c *RouteCollection) ByName(name string) (*Route, bool) {
	r, ok := c.byName[name]
	return r, ok
}

// ByAction looks up a target route by "Type@Method".
func (c *RouteCollection) ByAction(action string) (*Route, bool) {
	r, ok := c.byAction[normalizeMethod(action)]
	return r, ok
}

func (c *RouteCollection) HasNamed(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// All returns the routes in registration order.
func (c *RouteCollection) All() []*Route {
	return append([]*Route(nil), c.routes...)
}

func (c *RouteCollection) Len() int {
	return len(c.routes)
}
