package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/porihq/pori/config"
)

func resolveWithArgs(t *testing.T, args ...string) (config.Settings, error) {
	t.Helper()
	var settings config.Settings
	var resolveErr error
	app := &cli.App{
		Flags: flags(),
		Action: func(c *cli.Context) error {
			settings, resolveErr = resolveSettings(c)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"pori"}, args...)))
	return settings, resolveErr
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pori.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolveFromFlags(t *testing.T) {
	settings, err := resolveWithArgs(t,
		"--url", "wss://tunnel.example.com/ws",
		"--token", "tok",
		"--port", "8080",
		"--max-reconnects", "5",
	)
	require.NoError(t, err)
	assert.Equal(t, "wss://tunnel.example.com/ws", settings.WebSocket.URL)
	assert.Equal(t, "tok", settings.WebSocket.Token)
	assert.Equal(t, "http://localhost:8080", settings.LocalServer.URL)
	assert.Equal(t, uint(5), settings.WebSocket.MaxReconnects)
}

func TestFlagOverridesFile(t *testing.T) {
	path := writeConfig(t, `
websocket:
  url: wss://file.example.com/ws
  token: file-token
local_server:
  timeout: 10
`)
	settings, err := resolveWithArgs(t,
		"--config", path,
		"--url", "wss://flag.example.com/ws",
	)
	require.NoError(t, err)
	assert.Equal(t, "wss://flag.example.com/ws", settings.WebSocket.URL)
	assert.Equal(t, "file-token", settings.WebSocket.Token)
	assert.Equal(t, int64(10), int64(settings.LocalServer.Timeout.Seconds()))
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
websocket:
  url: wss://file.example.com/ws
  token: file-token
`)
	t.Setenv("PORI_TOKEN", "env-token")
	settings, err := resolveWithArgs(t, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", settings.WebSocket.Token)
	assert.Equal(t, "wss://file.example.com/ws", settings.WebSocket.URL)
}

func TestTimeoutFlagBoundsBothDeadlines(t *testing.T) {
	settings, err := resolveWithArgs(t,
		"--url", "wss://tunnel.example.com/ws",
		"--token", "tok",
		"--timeout", "5",
	)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, settings.LocalServer.Timeout)
	assert.Equal(t, 5*time.Second, settings.WebSocket.Timeout)
}

func TestFileHandshakeTimeoutBeatsTimeoutFlag(t *testing.T) {
	path := writeConfig(t, `
websocket:
  url: wss://file.example.com/ws
  token: file-token
  timeout: 12
`)
	settings, err := resolveWithArgs(t, "--config", path, "--timeout", "5")
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, settings.WebSocket.Timeout)
	assert.Equal(t, 5*time.Second, settings.LocalServer.Timeout)
}

func TestMissingTokenFailsValidation(t *testing.T) {
	_, err := resolveWithArgs(t, "--url", "wss://tunnel.example.com/ws")
	require.Error(t, err)
}

func TestHTTPSchemeNormalized(t *testing.T) {
	settings, err := resolveWithArgs(t,
		"--url", "https://tunnel.example.com/ws",
		"--token", "tok",
	)
	require.NoError(t, err)
	assert.Equal(t, "wss://tunnel.example.com/ws", settings.WebSocket.URL)
}
