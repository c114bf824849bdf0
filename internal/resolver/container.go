// ABOUTME: Per-worker object resolver for controllers and middleware
// ABOUTME: Singletons live for the worker; scoped bindings are dropped on Release

package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/harper/rpcd/internal/middleware"
	"github.com/harper/rpcd/internal/routing"
)

// ControllerFactory builds a controller.
type ControllerFactory func() (routing.Controller, error)

// MiddlewareFactory builds a middleware instance.
type MiddlewareFactory func() (middleware.Middleware, error)

// Releaser is implemented by controllers that hold request-scoped state.
type Releaser interface {
	Release(ctx context.Context) error
}

// Option configures a binding.
type Option func(*binding)

// Scoped makes a controller live only until the next Release.
func Scoped() Option {
	return func(b *binding) { b.scoped = true }
}

type binding struct {
	factory ControllerFactory
	scoped  bool
}

// Container resolves controllers and middleware by name. Bindings are made
// during bootstrap; resolution may happen from the worker goroutine and the
// management API, so instances are guarded.
type Container struct {
	mu                 sync.Mutex
	controllers        map[string]binding
	middlewareBindings map[string]MiddlewareFactory
	instances          map[string]routing.Controller
	scoped             map[string]routing.Controller
	middleware         map[string]middleware.Middleware
}

func New() *Container {
	return &Container{
		controllers:        make(map[string]binding),
		middlewareBindings: make(map[string]MiddlewareFactory),
		instances:          make(map[string]routing.Controller),
		scoped:             make(map[string]routing.Controller),
		middleware:         make(map[string]middleware.Middleware),
	}
}

// BindController registers a controller type.
func (c *Container) BindController(typ string, factory ControllerFactory, opts ...Option) {
	b := binding{factory: factory}
	for _, opt := range opts {
		opt(&b)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controllers[typ] = b
	delete(c.instances, typ)
	delete(c.scoped, typ)
}

// InstanceController registers an already built controller.
func (c *Container) InstanceController(typ string, controller routing.Controller) {
	c.BindController(typ, func() (routing.Controller, error) { return controller, nil })
}

// BindMiddleware registers a middleware factory under name.
func (c *Container) BindMiddleware(name string, factory MiddlewareFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewareBindings[name] = factory
	delete(c.middleware, name)
}

// Controller resolves a controller by type.
func (c *Container) Controller(typ string) (routing.Controller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.controllers[typ]
	if !ok {
		return nil, fmt.Errorf("controller %q is not bound", typ)
	}
	cache := c.instances
	if b.scoped {
		cache = c.scoped
	}
	if controller, ok := cache[typ]; ok {
		return controller, nil
	}
	controller, err := b.factory()
	if err != nil {
		return nil, fmt.Errorf("build controller %q: %w", typ, err)
	}
	cache[typ] = controller
	return controller, nil
}

// Middleware resolves a bound middleware. It satisfies middleware.Source.
func (c *Container) Middleware(name string) (middleware.Middleware, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.middleware[name]; ok {
		return m, true
	}
	factory, ok := c.middlewareBindings[name]
	if !ok {
		return nil, false
	}
	m, err := factory()
	if err != nil || m == nil {
		return nil, false
	}
	c.middleware[name] = m
	return m, true
}

// Bound reports whether a controller type is registered.
func (c *Container) Bound(typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.controllers[typ]
	return ok
}

// Release drops scoped controllers, giving each a chance to clean up.
func (c *Container) Release(ctx context.Context) error {
	c.mu.Lock()
	scoped := c.scoped
	c.scoped = make(map[string]routing.Controller)
	c.mu.Unlock()

	var firstErr error
	for typ, controller := range scoped {
		r, ok := controller.(Releaser)
		if !ok {
			continue
		}
		if err := r.Release(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release controller %q: %w", typ, err)
		}
	}
	return firstErr
}

// Methods is a Controller backed by a map, for controllers assembled from
// plain functions.
type Methods map[string]routing.HandlerFunc

func (m Methods) Method(name string) (routing.HandlerFunc, bool) {
	fn, ok := m[name]
	return fn, ok
}
