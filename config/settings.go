// Package config resolves pori's settings from defaults, an optional
// configuration file, environment variables and CLI flags, in that
// precedence order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/porihq/pori/validation"
)

// Settings is the fully resolved configuration.
type Settings struct {
	WebSocket   WebSocketSettings
	LocalServer LocalServerSettings
	Dashboard   DashboardSettings
	Logging     LoggingSettings
	NoDashboard bool
}

// WebSocketSettings configures the tunnel connection to the cloud.
type WebSocketSettings struct {
	URL           string
	Token         string
	Timeout       time.Duration
	MaxReconnects uint
	PingInterval  time.Duration
	PongTimeout   time.Duration
}

// LocalServerSettings configures the forwarder's origin.
type LocalServerSettings struct {
	URL            string
	Timeout        time.Duration
	VerifySSL      bool
	MaxConnections int
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	HTTPVersion    string
}

// DashboardSettings configures the local REST/metrics server.
type DashboardSettings struct {
	Port        int
	BindAddress string
	EnableCORS  bool
}

// LoggingSettings configures log output.
type LoggingSettings struct {
	Level       string
	File        string
	EnableColor bool
}

// Default returns the settings used when nothing overrides them. URL
// and token have no default and must come from a file, the environment
// or flags.
func Default() Settings {
	return Settings{
		WebSocket: WebSocketSettings{
			Timeout:       30 * time.Second,
			MaxReconnects: 0,
			PingInterval:  30 * time.Second,
			PongTimeout:   10 * time.Second,
		},
		LocalServer: LocalServerSettings{
			URL:            "http://localhost:3000",
			Timeout:        30 * time.Second,
			VerifySSL:      false,
			MaxConnections: 10,
			KeepAlive:      60 * time.Second,
			ConnectTimeout: 10 * time.Second,
			HTTPVersion:    "http1-only",
		},
		Dashboard: DashboardSettings{
			Port:        7616,
			BindAddress: "127.0.0.1",
			EnableCORS:  true,
		},
		Logging: LoggingSettings{
			Level:       "info",
			EnableColor: true,
		},
	}
}

// LocalOriginURL builds the origin URL from protocol and port when no
// explicit local server URL is configured.
func LocalOriginURL(protocol string, port int) string {
	return fmt.Sprintf("%s://localhost:%d", strings.ToLower(protocol), port)
}

// Validate checks the resolved settings and normalizes the tunnel URL.
func (s *Settings) Validate() error {
	if s.WebSocket.URL == "" {
		return errors.New("WebSocket URL is required (flag --url, env PORI_URL or config file)")
	}
	normalized, err := validation.ValidateTunnelURL(s.WebSocket.URL)
	if err != nil {
		return err
	}
	s.WebSocket.URL = normalized

	if strings.TrimSpace(s.WebSocket.Token) == "" {
		return errors.New("access token is required (flag --token, env PORI_TOKEN or config file)")
	}
	if s.WebSocket.Timeout <= 0 {
		return errors.New("websocket timeout must be greater than 0")
	}
	if err := validation.ValidatePort(s.Dashboard.Port); err != nil {
		return errors.Wrap(err, "dashboard port")
	}
	if s.LocalServer.URL == "" {
		return errors.New("local server URL is required")
	}
	if s.LocalServer.Timeout <= 0 {
		return errors.New("local server timeout must be greater than 0")
	}
	if s.LocalServer.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	switch strings.ToLower(s.LocalServer.HTTPVersion) {
	case "auto", "http1-only", "http1", "http2-only", "http2":
	default:
		return errors.Errorf("http version must be auto, http1-only or http2-only, got %q", s.LocalServer.HTTPVersion)
	}
	switch strings.ToLower(s.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q", s.Logging.Level)
	}
	return nil
}
