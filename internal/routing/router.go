// ABOUTME: Route registration with nested groups, matching, and dispatch
// ABOUTME: Runs the middleware pipeline and normalizes action results into responses

package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/harper/rpcd/internal/middleware"
	"github.com/harper/rpcd/internal/payload"
)

// Attributes are shared by every route registered inside a group. On a
// single route, As is the route name.
type Attributes struct {
	Namespace  string
	As         string
	Middleware []string
}

// Merge layers child attributes on top of parent.
func Merge(child, parent Attributes) Attributes {
	merged := Attributes{
		Namespace: parent.Namespace,
		As:        parent.As + child.As,
	}
	if child.Namespace != "" {
		ns := strings.Trim(child.Namespace, NamespaceSeparator)
		if parent.Namespace != "" {
			ns = strings.Trim(parent.Namespace, NamespaceSeparator) + NamespaceSeparator + ns
		}
		merged.Namespace = ns
	}
	merged.Middleware = uniqueStrings(append(append([]string(nil), parent.Middleware...), child.Middleware...))
	return merged
}

// Arrayable values convert themselves before being used as a result.
type Arrayable interface {
	ToArray() any
}

// Router owns one worker's route table. It is not safe for concurrent use;
// each worker builds its own.
type Router struct {
	routes     *RouteCollection
	registry   *middleware.Registry
	resolver   Resolver
	groupStack []Attributes
	frozen     bool

	// DisableMiddleware skips every middleware during dispatch.
	DisableMiddleware bool
}

// NewRouter creates a router. registry and resolver may be nil when no
// route needs them.
func NewRouter(registry *middleware.Registry, resolver Resolver) *Router {
	if registry == nil {
		registry = middleware.NewRegistry(nil)
	}
	return &Router{
		routes:   NewRouteCollection(),
		registry: registry,
		resolver: resolver,
	}
}

// Registry returns the middleware registry used for dispatch.
func (r *Router) Registry() *middleware.Registry {
	return r.registry
}

// Group registers the routes added by body with attrs merged into them.
func (r *Router) Group(attrs Attributes, body func(r *Router)) {
	if len(r.groupStack) > 0 {
		attrs = Merge(attrs, r.groupStack[len(r.groupStack)-1])
	} else {
		attrs.Namespace = strings.Trim(attrs.Namespace, NamespaceSeparator)
	}
	r.groupStack = append(r.groupStack, attrs)
	defer func() { r.groupStack = r.groupStack[:len(r.groupStack)-1] }()
	body(r)
}

// Add registers method with an action and optional middleware. action may
// be an Action, a HandlerFunc, or a "Type@Method" string. A nil action
// treats the method itself as the target.
func (r *Router) Add(method string, action any, middleware ...string) *Route {
	return r.Handle(method, action, Attributes{Middleware: middleware})
}

// Handle is Add with route-level attributes.
func (r *Router) Handle(method string, action any, attrs Attributes) *Route {
	if r.frozen {
		panic("routing: route table is read-only after Freeze")
	}
	if action == nil {
		action = normalizeMethod(method)
	}
	a, err := toAction(action)
	if err != nil {
		panic(err)
	}

	if len(r.groupStack) > 0 {
		attrs = Merge(attrs, r.groupStack[len(r.groupStack)-1])
	}
	if a.Kind == TargetAction {
		a.Type = prependNamespace(attrs.Namespace, a.Type)
	}
	return r.routes.Add(newRoute(method, a, attrs.Middleware, attrs.As))
}

func prependNamespace(namespace, typ string) string {
	if strings.HasPrefix(typ, NamespaceSeparator) {
		return strings.TrimPrefix(typ, NamespaceSeparator)
	}
	if namespace == "" {
		return typ
	}
	return namespace + NamespaceSeparator + typ
}

// Freeze makes the route table read-only.
func (r *Router) Freeze() {
	r.frozen = true
	r.groupStack = nil
}

func (r *Router) Routes() *RouteCollection {
	return r.routes
}

// Has reports whether a route with the given name exists.
func (r *Router) Has(name string) bool {
	return r.routes.HasNamed(name)
}

// Match finds the route for req. No match yields a MethodNotFound error.
func (r *Router) Match(req *jsonrpc.Request) (*Route, error) {
	return r.routes.Match(req)
}

// MiddlewareFor resolves the sorted middleware instances for route.
func (r *Router) MiddlewareFor(route *Route) ([]middleware.Middleware, error) {
	if r.DisableMiddleware {
		return nil, nil
	}
	names, err := route.GatherMiddleware(r.resolver)
	if err != nil {
		return nil, err
	}
	return r.registry.Resolve(names)
}

// Dispatch matches req, runs it through the route middleware and action,
// and returns the normalized response. Failures are returned unmapped.
func (r *Router) Dispatch(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	route, err := r.Match(req)
	if err != nil {
		return nil, err
	}
	req.SetRoute(route)

	resolved, err := r.MiddlewareFor(route)
	if err != nil {
		return nil, err
	}

	resp, err := middleware.NewPipeline(resolved).Run(ctx, req, func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		result, err := route.Run(ctx, req, r.resolver)
		if err != nil {
			return nil, err
		}
		return PrepareResponse(req, result), nil
	})
	if err != nil {
		return nil, err
	}
	return PrepareResponse(req, resp), nil
}

// PrepareResponse wraps an action result into a response carrying the
// request id.
func PrepareResponse(req *jsonrpc.Request, v any) *jsonrpc.Response {
	if resp, ok := v.(*jsonrpc.Response); ok {
		if resp == nil {
			return jsonrpc.NewResult(nil).Prepare(req)
		}
		return resp.Prepare(req)
	}
	return jsonrpc.NewResult(normalizeResult(v)).Prepare(req)
}

func normalizeResult(v any) any {
	switch t := v.(type) {
	case nil, bool, string, json.Number, json.RawMessage, *payload.Payload:
		return v
	case Arrayable:
		return t.ToArray()
	case json.Marshaler:
		return v
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	kind := rv.Kind()
	if kind == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		kind = rv.Elem().Kind()
	}
	switch kind {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		return v
	default:
		return fmt.Sprint(v)
	}
}
