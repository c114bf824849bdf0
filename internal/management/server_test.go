package management

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harper/rpcd/internal/config"
	"github.com/harper/rpcd/internal/jsonrpc"
	"github.com/harper/rpcd/internal/metrics"
	"github.com/harper/rpcd/internal/routing"
	"github.com/harper/rpcd/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatchServer(t *testing.T) *server.Server {
	t.Helper()
	srv := server.New(func(env *server.Env) error {
		env.Router.Add("ping", func(ctx context.Context, req *jsonrpc.Request) (any, error) {
			return "pong", nil
		})
		env.Router.Group(routing.Attributes{Namespace: "admin", As: "admin.", Middleware: []string{"auth"}}, func(r *routing.Router) {
			r.Handle("users.list", "UsersController@list", routing.Attributes{As: "users"})
		})
		return nil
	}, server.Options{Name: "rpcd-test", Workers: 2})
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	dispatch := newDispatchServer(t)
	srv := NewServer(&config.Config{}, dispatch, nil)

	rec := get(t, srv, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "rpcd-test", health["name"])
	assert.Equal(t, []interface{}{"serving", "serving"}, health["workers"])
	assert.NotZero(t, health["pid"])

	require.NoError(t, dispatch.Shutdown(context.Background()))
	rec = get(t, srv, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "stopped", health["status"])
}

func TestConfigEndpoint(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:           9501,
			MaxConnections: 64,
		},
		Management: config.ManagementConfig{Port: 9503},
	}
	srv := NewServer(cfg, newDispatchServer(t), nil)

	rec := get(t, srv, "/api/config")
	require.Equal(t, http.StatusOK, rec.Code)

	var configResp config.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &configResp))
	assert.Equal(t, 9501, configResp.Server.Port)
	assert.Equal(t, 64, configResp.Server.MaxConnections)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/config", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRoutesEndpoint(t *testing.T) {
	srv := NewServer(&config.Config{}, newDispatchServer(t), nil)

	rec := get(t, srv, "/api/routes")
	require.Equal(t, http.StatusOK, rec.Code)

	var routes []RouteInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &routes))
	assert.Equal(t, []RouteInfo{
		{Method: "ping", Action: "func", Middleware: []string{}},
		{Method: "users.list", Name: "admin.users", Action: "admin.UsersController@list", Middleware: []string{"auth"}},
	}, routes)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	srv := NewServer(&config.Config{}, newDispatchServer(t), m)

	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	without := NewServer(&config.Config{}, newDispatchServer(t), nil)
	assert.Equal(t, http.StatusNotFound, get(t, without, "/metrics").Code)
}
