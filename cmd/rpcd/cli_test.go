package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harper/rpcd/internal/app"
	"github.com/harper/rpcd/internal/server"
	"github.com/harper/rpcd/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "rpcd.pid")
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("server:\n  name: rpcd-test\n  pid_file: %s\n", pidFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, pidFile
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestStopWithoutPIDFile(t *testing.T) {
	path, _ := writeConfig(t)

	code, _, stderr := runCLI("--config", path, "stop")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "there is no rpcd-test process running")
}

func TestStatus(t *testing.T) {
	path, pidFile := writeConfig(t)

	code, _, stderr := runCLI("--config", path, "status")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no rpcd-test process running")

	require.NoError(t, os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600))
	code, stdout, _ := runCLI("--config", path, "status")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, fmt.Sprintf("rpcd-test is running (pid %d)", os.Getpid()))
}

func TestDefaultConfigFileFromXDG(t *testing.T) {
	configHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)
	dir := filepath.Join(configHome, "rpcd")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	content := fmt.Sprintf("server:\n  name: rpcd-xdg\n  pid_file: %s\n", filepath.Join(dir, "rpcd.pid"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))

	code, _, stderr := runCLI("status")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no rpcd-xdg process running")

	path, _ := writeConfig(t)
	code, _, stderr = runCLI("--config", path, "status")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no rpcd-test process running", "--config wins over the XDG file")
}

func TestReloadWithoutServer(t *testing.T) {
	path, _ := writeConfig(t)

	code, _, stderr := runCLI("--config", path, "reload")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no rpcd-test process running")
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o600))

	code, _, stderr := runCLI("--config", path, "stop")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid server.port")
}

func TestUsageErrors(t *testing.T) {
	code, _, stderr := runCLI("frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")

	code, stdout, _ := runCLI("--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "rpcd")
}

func TestVersion(t *testing.T) {
	code, stdout, _ := runCLI("version")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "rpcd dev"), stdout)
}

func startApp(t *testing.T) string {
	t.Helper()
	srv := server.New(app.Bootstrap, server.Options{Workers: 1})
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	httpSrv := httptest.NewServer(websocket.NewServer(srv))
	t.Cleanup(httpSrv.Close)
	return "ws" + strings.TrimPrefix(httpSrv.URL, "http")
}

func TestCall(t *testing.T) {
	url := startApp(t)

	code, stdout, _ := runCLI("call", "--url", url, "ping")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"result": "pong"`)

	code, stdout, _ = runCLI("call", "--url", url, "math.add", `{"a":2,"b":3}`)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"result": 5`)

	code, stdout, _ = runCLI("call", "--url", url, "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, `"code": -32601`)

	code, _, _ = runCLI("call", "--url", url, "--notify", "ping")
	assert.Equal(t, 0, code)
}

func TestCallRejectsInvalidParams(t *testing.T) {
	code, _, stderr := runCLI("call", "--url", "ws://127.0.0.1:1", "ping", "{nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "params are not valid JSON")
}
