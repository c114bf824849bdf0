// ABOUTME: Route actions as a tagged variant of direct handlers and named targets
// ABOUTME: Named targets are resolved to controller methods through a Resolver

package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/harper/rpcd/internal/jsonrpc"
)

// HandlerFunc is the signature of every route action once resolved.
type HandlerFunc func(ctx context.Context, req *jsonrpc.Request) (any, error)

// InvokeMethod is the method used when a target names only a type.
const InvokeMethod = "Invoke"

// NamespaceSeparator joins group namespaces and target types. A target type
// starting with it is absolute and never receives a group namespace.
const NamespaceSeparator = "."

// ActionKind distinguishes the two action variants.
type ActionKind int

const (
	FuncAction ActionKind = iota
	TargetAction
)

// Action is what a route runs.
type Action struct {
	Kind   ActionKind
	Func   HandlerFunc
	Type   string
	Method string
}

// FuncOf wraps a handler function.
func FuncOf(fn HandlerFunc) Action {
	return Action{Kind: FuncAction, Func: fn}
}

// Target names a controller type and method for the resolver.
func Target(typ, method string) Action {
	if method == "" {
		method = InvokeMethod
	}
	return Action{Kind: TargetAction, Type: typ, Method: method}
}

// ParseAction turns "Type@Method", "Type::Method" or "Type" into a Target.
func ParseAction(s string) Action {
	s = normalizeMethod(s)
	typ, method, _ := strings.Cut(s, "@")
	return Target(typ, method)
}

// String returns "Type@Method" for targets and "func" for direct handlers.
func (a Action) String() string {
	if a.Kind == TargetAction {
		return a.Type + "@" + a.Method
	}
	return "func"
}

// Controller exposes named methods to the router.
type Controller interface {
	Method(name string) (HandlerFunc, bool)
}

// ControllerMiddleware declares middleware a controller applies to its own
// methods. Only and Except filter by method name.
type ControllerMiddleware struct {
	Name   string
	Only   []string
	Except []string
}

// MiddlewareProvider is implemented by controllers that declare middleware.
type MiddlewareProvider interface {
	Middleware() []ControllerMiddleware
}

// Resolver builds controllers by type name.
type Resolver interface {
	Controller(typ string) (Controller, error)
}

func toAction(v any) (Action, error) {
	switch a := v.(type) {
	case Action:
		return a, nil
	case HandlerFunc:
		return FuncOf(a), nil
	case func(context.Context, *jsonrpc.Request) (any, error):
		return FuncOf(a), nil
	case string:
		return ParseAction(a), nil
	default:
		return Action{}, fmt.Errorf("routing: unsupported action type %T", v)
	}
}

func excludedByOptions(method string, m ControllerMiddleware) bool {
	if m.Only != nil && !containsString(m.Only, method) {
		return true
	}
	return len(m.Except) > 0 && containsString(m.Except, method)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
