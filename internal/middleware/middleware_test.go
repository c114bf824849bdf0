package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name  string
	trace *[]string
	args  []string
	fail  error
}

func (m *recorder) Handle(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
	*m.trace = append(*m.trace, m.name+strings.Join(m.args, ","))
	return next(ctx, req)
}

func (m *recorder) Terminate(ctx context.Context, req *jsonrpc.Request, resp *jsonrpc.Response) error {
	*m.trace = append(*m.trace, "terminate:"+m.name)
	return m.fail
}

func (m *recorder) WithParameters(args []string) Middleware {
	return &recorder{name: m.name, trace: m.trace, args: args}
}

type mapSource map[string]Middleware

func (s mapSource) Middleware(name string) (Middleware, bool) {
	m, ok := s[name]
	return m, ok
}

func terminal(trace *[]string) Handler {
	return func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		*trace = append(*trace, "action")
		return jsonrpc.NewResult("ok"), nil
	}
}

func TestSortByPriority(t *testing.T) {
	r := NewRegistry(nil).SetPriority("auth", "throttle")

	tests := []struct {
		name     string
		declared []string
		want     []string
	}{
		{"already ordered", []string{"auth", "throttle", "log"}, []string{"auth", "throttle", "log"}},
		{"listed moved before lower priority", []string{"throttle", "log", "auth"}, []string{"auth", "throttle", "log"}},
		{"unlisted keep declaration order", []string{"log", "trace", "throttle", "auth"}, []string{"log", "trace", "auth", "throttle"}},
		{"parameters ignored for priority", []string{"throttle:60,1", "auth:api"}, []string{"auth:api", "throttle:60,1"}},
		{"duplicates removed", []string{"log", "auth", "log"}, []string{"log", "auth"}},
		{"no listed entries", []string{"b", "a"}, []string{"b", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Sort(tt.declared))
		})
	}
}

func TestSortIsDeterministic(t *testing.T) {
	r := NewRegistry(nil).SetPriority("a", "b", "c")
	in := []string{"c", "x", "b", "y", "a"}
	first := r.Sort(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Sort(in))
	}
	assert.Equal(t, []string{"c", "x", "b", "y", "a"}, in, "input must not be mutated")
	assert.Equal(t, []string{"a", "b", "c", "x", "y"}, first)
}

func TestExpandGroups(t *testing.T) {
	r := NewRegistry(nil).
		Group("api", "throttle", "bindings").
		Group("web", "api", "session")
	r.PrependToGroup("api", "cors")
	r.PushToGroup("api", "bindings")

	assert.Equal(t, []string{"cors", "throttle", "bindings", "session", "log"}, r.Expand([]string{"web", "log"}))
	assert.True(t, r.HasGroup("web"))
	assert.False(t, r.HasGroup("log"))
}

func TestExpandSelfReferencingGroup(t *testing.T) {
	r := NewRegistry(nil).Group("loop", "a", "loop")
	assert.Equal(t, []string{"a"}, r.Expand([]string{"loop"}))
}

func TestPipelineRunsInResolvedOrder(t *testing.T) {
	var trace []string
	r := NewRegistry(mapSource{"host": &recorder{name: "host", trace: &trace}}).
		Alias("auth", &recorder{name: "auth", trace: &trace}).
		Alias("log", &recorder{name: "log", trace: &trace}).
		SetPriority("auth", "log")

	resolved, err := r.Resolve([]string{"log", "host", "auth"})
	require.NoError(t, err)

	resp, err := NewPipeline(resolved).Run(context.Background(), jsonrpc.NewCall("x", nil, 1), terminal(&trace))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Result())
	assert.Equal(t, []string{"auth", "log", "host", "action"}, trace)
}

func TestPipelineShortCircuit(t *testing.T) {
	var trace []string
	stop := Func(func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
		trace = append(trace, "stop")
		return jsonrpc.NewResult("blocked"), nil
	})

	resp, err := NewPipeline([]Middleware{stop}).Run(context.Background(), jsonrpc.NewCall("x", nil, 1), terminal(&trace))
	require.NoError(t, err)
	assert.Equal(t, "blocked", resp.Result())
	assert.Equal(t, []string{"stop"}, trace)
}

func TestPipelineMiddlewareMutatesRequest(t *testing.T) {
	tag := Func(func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
		req.Merge(map[string]any{"tenant": "acme"})
		return next(ctx, req)
	})

	resp, err := NewPipeline([]Middleware{tag}).Run(context.Background(), jsonrpc.NewCall("x", nil, 1),
		func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
			v, _ := req.Payload().Get("tenant")
			return jsonrpc.NewResult(v), nil
		})
	require.NoError(t, err)
	assert.Equal(t, "acme", resp.Result())
}

func TestResolveParameters(t *testing.T) {
	var trace []string
	r := NewRegistry(nil).Alias("throttle", &recorder{name: "throttle", trace: &trace})

	resolved, err := r.Resolve([]string{"throttle:60,1"})
	require.NoError(t, err)
	_, err = NewPipeline(resolved).Run(context.Background(), jsonrpc.NewCall("x", nil, 1), terminal(&trace))
	require.NoError(t, err)
	assert.Equal(t, []string{"throttle60,1", "action"}, trace)
}

func TestResolveErrors(t *testing.T) {
	r := NewRegistry(nil).Alias("plain", Func(func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
		return next(ctx, req)
	}))

	_, err := r.Resolve([]string{"missing"})
	assert.ErrorContains(t, err, `"missing" is not registered`)

	_, err = r.Resolve([]string{"plain:1"})
	assert.ErrorContains(t, err, "does not accept parameters")
}

func TestTerminateRunsEveryHookAndJoinsFailures(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	plain := Func(func(ctx context.Context, req *jsonrpc.Request, next Handler) (*jsonrpc.Response, error) {
		return next(ctx, req)
	})
	p := NewPipeline([]Middleware{
		&recorder{name: "a", trace: &trace, fail: boom},
		plain,
		&recorder{name: "b", trace: &trace},
	})

	err := p.Terminate(context.Background(), jsonrpc.NewCall("x", nil, 1), jsonrpc.NewResult("ok"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"terminate:a", "terminate:b"}, trace)
}

func TestParseName(t *testing.T) {
	name, args := ParseName("throttle:60,1")
	assert.Equal(t, "throttle", name)
	assert.Equal(t, []string{"60", "1"}, args)

	name, args = ParseName("auth")
	assert.Equal(t, "auth", name)
	assert.Nil(t, args)
}
