package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harper/rpcd/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 7001
  http_port: 7002
  workers: 4
  max_connections: 100
  pid_file: /tmp/rpcd-test.pid
management:
  port: 7003
log:
  verbose: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, 7002, cfg.Server.HTTPPort)
	assert.Equal(t, 4, cfg.Server.Workers)
	assert.Equal(t, 100, cfg.Server.MaxConnections)
	assert.Equal(t, "/tmp/rpcd-test.pid", cfg.Server.PIDFile)
	assert.Equal(t, 7003, cfg.Management.Port)
	assert.True(t, cfg.Log.Verbose)
	assert.Equal(t, "127.0.0.1:7001", cfg.WebSocketAddr())
	assert.Equal(t, "127.0.0.1:7002", cfg.HTTPAddr())
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_RUNTIME_DIR", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "rpcd", cfg.Server.Name)
	assert.Equal(t, 9501, cfg.Server.Port)
	assert.Equal(t, 0, cfg.Server.HTTPPort)
	assert.Equal(t, 10240, cfg.Server.MaxConnections)
	assert.Equal(t, 10, cfg.Server.ShutdownTimeoutSeconds)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxMessageBytes)
	assert.True(t, cfg.Management.Enabled)
	assert.Equal(t, filepath.Join(home, ".local", "state", "rpcd", "rpcd.pid"), cfg.Server.PIDFile)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 7001
  max_connections: 100
`)
	t.Setenv("RPCD_SERVER_MAX_CONNECTIONS", "1")
	t.Setenv("RPCD_SERVER_PORT", "7100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Server.MaxConnections)
	assert.Equal(t, 7100, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadPIDFileXDGExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")

	path := writeConfig(t, `
server:
  pid_file: "$XDG_DATA_HOME/rpcd/rpcd.pid"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "rpcd", "rpcd.pid"), cfg.Server.PIDFile)
}

func TestLoadMiddlewareGroupCasePreservation(t *testing.T) {
	path := writeConfig(t, `
middleware:
  priority: [auth, log]
  groups:
    Admin: [auth, log]
    public: [throttle]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"auth", "log"}, cfg.Middleware.Priority)
	assert.Equal(t, map[string][]string{
		"Admin":  {"auth", "log"},
		"public": {"throttle"},
	}, cfg.Middleware.Groups)

	r := middleware.NewRegistry(nil)
	cfg.Middleware.Apply(r)
	assert.True(t, r.HasGroup("Admin"))
	assert.False(t, r.HasGroup("admin"))
	assert.Equal(t, []string{"auth", "log"}, r.Priority())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "bad port", content: "server:\n  port: 70000\n", wantErr: "invalid server.port"},
		{name: "bad ceiling", content: "server:\n  max_connections: 0\n", wantErr: "invalid server.max_connections"},
		{name: "bad message size", content: "server:\n  max_message_bytes: 0\n", wantErr: "invalid server.max_message_bytes"},
		{name: "negative workers", content: "server:\n  workers: -1\n", wantErr: "invalid server.workers"},
		{name: "port clash", content: "server:\n  port: 7001\n  http_port: 7001\n", wantErr: "both listen on 127.0.0.1:7001"},
		{name: "management clash", content: "server:\n  port: 7001\nmanagement:\n  port: 7001\n", wantErr: "both listen on"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateManagementDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 7001\nmanagement:\n  enabled: false\n  port: 7001\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Management.Enabled)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("RPCD_SERVER_WORKERS=3\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("RPCD_SERVER_WORKERS") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Server.Workers)
}
