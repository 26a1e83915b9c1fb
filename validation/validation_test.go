package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMethod(t *testing.T) {
	for _, method := range []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"} {
		assert.NoError(t, ValidateMethod(method))
	}
	assert.Error(t, ValidateMethod(""))
	assert.Error(t, ValidateMethod("get"))
	assert.Error(t, ValidateMethod("FETCH"))
}

func TestValidateHeaderName(t *testing.T) {
	assert.NoError(t, ValidateHeaderName("content-type"))
	assert.NoError(t, ValidateHeaderName("X-Request-Id"))
	assert.Error(t, ValidateHeaderName(""))
	assert.Error(t, ValidateHeaderName("bad header"))
	assert.Error(t, ValidateHeaderName("bad:header"))
	assert.Error(t, ValidateHeaderName("b\x00d"))
	assert.Error(t, ValidateHeaderName("caf\xc3\xa9"))
}

func TestValidateHeaderValue(t *testing.T) {
	assert.NoError(t, ValidateHeaderValue("text/html; charset=utf-8"))
	assert.Error(t, ValidateHeaderValue("evil\r\nx-injected: 1"))
	assert.Error(t, ValidateHeaderValue("evil\n"))
}

func TestValidateHeaders(t *testing.T) {
	assert.NoError(t, ValidateHeaders(map[string]string{
		"content-type": "application/json",
		"accept":       "*/*",
	}))
	assert.Error(t, ValidateHeaders(map[string]string{"ok": "bad\r\nvalue"}))
}

func TestValidateTunnelURL(t *testing.T) {
	for input, want := range map[string]string{
		"wss://tunnel.example.com":       "wss://tunnel.example.com",
		"ws://localhost:9000":            "ws://localhost:9000",
		"https://tunnel.example.com/ws":  "wss://tunnel.example.com/ws",
		"http://127.0.0.1:8080/tunnel":   "ws://127.0.0.1:8080/tunnel",
		"wss://münchen.example:443": "wss://xn--mnchen-3ya.example:443",
	} {
		got, err := ValidateTunnelURL(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	for _, input := range []string{"", "ftp://example.com", "not a url", "example.com"} {
		_, err := ValidateTunnelURL(input)
		assert.Error(t, err, input)
	}
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort(1))
	assert.NoError(t, ValidatePort(8000))
	assert.NoError(t, ValidatePort(65535))
	assert.Error(t, ValidatePort(0))
	assert.Error(t, ValidatePort(65536))
	assert.Error(t, ValidatePort(-1))
}
