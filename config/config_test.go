package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "pori.yml", `
websocket:
  url: wss://tunnel.example.com
  token: secret-token
  timeout: 45
local_server:
  url: http://localhost:8080
  verify_ssl: true
  max_connections: 20
dashboard:
  port: 9100
logging:
  level: debug
`)
	f, err := LoadFile(path)
	require.NoError(t, err)

	s := Default()
	f.Apply(&s)

	assert.Equal(t, "wss://tunnel.example.com", s.WebSocket.URL)
	assert.Equal(t, "secret-token", s.WebSocket.Token)
	assert.Equal(t, 45*time.Second, s.WebSocket.Timeout)
	assert.Equal(t, "http://localhost:8080", s.LocalServer.URL)
	assert.True(t, s.LocalServer.VerifySSL)
	assert.Equal(t, 20, s.LocalServer.MaxConnections)
	assert.Equal(t, 9100, s.Dashboard.Port)
	assert.Equal(t, "debug", s.Logging.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, 30*time.Second, s.WebSocket.PingInterval)
	assert.Equal(t, "127.0.0.1", s.Dashboard.BindAddress)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "pori.toml", `
[websocket]
url = "wss://tunnel.example.com"
token = "t"

[local_server]
timeout = 5
http_version = "auto"
`)
	f, err := LoadFile(path)
	require.NoError(t, err)

	s := Default()
	f.Apply(&s)
	assert.Equal(t, "wss://tunnel.example.com", s.WebSocket.URL)
	assert.Equal(t, 5*time.Second, s.LocalServer.Timeout)
	assert.Equal(t, "auto", s.LocalServer.HTTPVersion)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "pori.json", `{
		"websocket": {"url": "ws://localhost:9000", "token": "t"},
		"dashboard": {"enable_cors": false}
	}`)
	f, err := LoadFile(path)
	require.NoError(t, err)

	s := Default()
	f.Apply(&s)
	assert.Equal(t, "ws://localhost:9000", s.WebSocket.URL)
	assert.False(t, s.Dashboard.EnableCORS)
}

func TestLoadUnknownExtensionFallsBack(t *testing.T) {
	path := writeFile(t, "pori.conf", `
websocket:
  url: wss://fallback.example.com
  token: t
`)
	f, err := LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, f.WebSocket)
	require.NotNil(t, f.WebSocket.URL)
	assert.Equal(t, "wss://fallback.example.com", *f.WebSocket.URL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeFile(t, "bad.json", `{"websocket": [1,2`)
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Settings {
		s := Default()
		s.WebSocket.URL = "wss://tunnel.example.com"
		s.WebSocket.Token = "token"
		return s
	}

	s := valid()
	require.NoError(t, s.Validate())

	s = valid()
	s.WebSocket.URL = ""
	assert.Error(t, s.Validate())

	s = valid()
	s.WebSocket.URL = "ftp://x"
	assert.Error(t, s.Validate())

	s = valid()
	s.WebSocket.Token = "   "
	assert.Error(t, s.Validate())

	s = valid()
	s.Dashboard.Port = 0
	assert.Error(t, s.Validate())

	s = valid()
	s.LocalServer.HTTPVersion = "http9"
	assert.Error(t, s.Validate())

	s = valid()
	s.Logging.Level = "loud"
	assert.Error(t, s.Validate())
}

func TestValidateNormalizesHTTPScheme(t *testing.T) {
	s := Default()
	s.WebSocket.URL = "https://tunnel.example.com/ws"
	s.WebSocket.Token = "token"
	require.NoError(t, s.Validate())
	assert.Equal(t, "wss://tunnel.example.com/ws", s.WebSocket.URL)
}

func TestLocalOriginURL(t *testing.T) {
	assert.Equal(t, "http://localhost:3000", LocalOriginURL("HTTP", 3000))
	assert.Equal(t, "https://localhost:8443", LocalOriginURL("https", 8443))
}
