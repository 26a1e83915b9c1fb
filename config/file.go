package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

// File is the on-disk configuration shape. Sections and fields are all
// optional; durations are in seconds.
type File struct {
	WebSocket   *WebSocketFile   `yaml:"websocket,omitempty" toml:"websocket,omitempty" json:"websocket,omitempty"`
	LocalServer *LocalServerFile `yaml:"local_server,omitempty" toml:"local_server,omitempty" json:"local_server,omitempty"`
	Dashboard   *DashboardFile   `yaml:"dashboard,omitempty" toml:"dashboard,omitempty" json:"dashboard,omitempty"`
	Logging     *LoggingFile     `yaml:"logging,omitempty" toml:"logging,omitempty" json:"logging,omitempty"`
}

type WebSocketFile struct {
	URL           *string `yaml:"url" toml:"url" json:"url"`
	Token         *string `yaml:"token" toml:"token" json:"token"`
	Timeout       *uint64 `yaml:"timeout" toml:"timeout" json:"timeout"`
	MaxReconnects *uint   `yaml:"max_reconnects" toml:"max_reconnects" json:"max_reconnects"`
	PingInterval  *uint64 `yaml:"ping_interval" toml:"ping_interval" json:"ping_interval"`
	PongTimeout   *uint64 `yaml:"pong_timeout" toml:"pong_timeout" json:"pong_timeout"`
}

type LocalServerFile struct {
	URL            *string `yaml:"url" toml:"url" json:"url"`
	Timeout        *uint64 `yaml:"timeout" toml:"timeout" json:"timeout"`
	VerifySSL      *bool   `yaml:"verify_ssl" toml:"verify_ssl" json:"verify_ssl"`
	MaxConnections *int    `yaml:"max_connections" toml:"max_connections" json:"max_connections"`
	KeepAlive      *uint64 `yaml:"keep_alive" toml:"keep_alive" json:"keep_alive"`
	ConnectTimeout *uint64 `yaml:"connect_timeout" toml:"connect_timeout" json:"connect_timeout"`
	HTTPVersion    *string `yaml:"http_version" toml:"http_version" json:"http_version"`
}

type DashboardFile struct {
	Port        *int    `yaml:"port" toml:"port" json:"port"`
	BindAddress *string `yaml:"bind_address" toml:"bind_address" json:"bind_address"`
	EnableCORS  *bool   `yaml:"enable_cors" toml:"enable_cors" json:"enable_cors"`
}

type LoggingFile struct {
	Level       *string `yaml:"level" toml:"level" json:"level"`
	File        *string `yaml:"file" toml:"file" json:"file"`
	EnableColor *bool   `yaml:"enable_color" toml:"enable_color" json:"enable_color"`
}

// LoadFile reads and parses a configuration file. The format follows
// the extension; unknown extensions are tried as YAML, then TOML, then
// JSON.
func LoadFile(path string) (*File, error) {
	content, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(content, &f); err != nil {
			return nil, errors.Wrapf(err, "failed to parse YAML config file %s", path)
		}
	case ".toml":
		if err := toml.Unmarshal(content, &f); err != nil {
			return nil, errors.Wrapf(err, "failed to parse TOML config file %s", path)
		}
	case ".json":
		if err := jsoniter.Unmarshal(content, &f); err != nil {
			return nil, errors.Wrapf(err, "failed to parse JSON config file %s", path)
		}
	default:
		if yaml.Unmarshal(content, &f) == nil {
			break
		}
		f = File{}
		if toml.Unmarshal(content, &f) == nil {
			break
		}
		f = File{}
		if jsoniter.Unmarshal(content, &f) == nil {
			break
		}
		return nil, errors.Errorf("failed to parse config file %s (tried YAML, TOML and JSON)", path)
	}
	return &f, nil
}

// defaultSearchPaths lists the locations probed when no --config flag
// is given, in priority order.
var defaultSearchPaths = []string{
	"./pori.yml",
	"./pori.yaml",
	"./pori.toml",
	"./pori.json",
	"~/.pori.yml",
	"~/.pori.yaml",
	"~/.pori.toml",
	"~/.pori.json",
	"~/.config/pori/config.yml",
	"~/.config/pori/config.yaml",
	"~/.config/pori/config.toml",
	"~/.config/pori/config.json",
}

// FindDefaultFile returns the first existing default config file.
func FindDefaultFile() (string, bool) {
	for _, path := range defaultSearchPaths {
		expanded, err := homedir.Expand(path)
		if err != nil {
			continue
		}
		if info, err := os.Stat(expanded); err == nil && !info.IsDir() {
			return expanded, true
		}
	}
	return "", false
}

// Apply overlays the file's values onto s. Unset fields leave the
// current value in place.
func (f *File) Apply(s *Settings) {
	if f == nil {
		return
	}
	if ws := f.WebSocket; ws != nil {
		setString(&s.WebSocket.URL, ws.URL)
		setString(&s.WebSocket.Token, ws.Token)
		setSeconds(&s.WebSocket.Timeout, ws.Timeout)
		if ws.MaxReconnects != nil {
			s.WebSocket.MaxReconnects = *ws.MaxReconnects
		}
		setSeconds(&s.WebSocket.PingInterval, ws.PingInterval)
		setSeconds(&s.WebSocket.PongTimeout, ws.PongTimeout)
	}
	if ls := f.LocalServer; ls != nil {
		setString(&s.LocalServer.URL, ls.URL)
		setSeconds(&s.LocalServer.Timeout, ls.Timeout)
		if ls.VerifySSL != nil {
			s.LocalServer.VerifySSL = *ls.VerifySSL
		}
		if ls.MaxConnections != nil {
			s.LocalServer.MaxConnections = *ls.MaxConnections
		}
		setSeconds(&s.LocalServer.KeepAlive, ls.KeepAlive)
		setSeconds(&s.LocalServer.ConnectTimeout, ls.ConnectTimeout)
		setString(&s.LocalServer.HTTPVersion, ls.HTTPVersion)
	}
	if d := f.Dashboard; d != nil {
		if d.Port != nil {
			s.Dashboard.Port = *d.Port
		}
		setString(&s.Dashboard.BindAddress, d.BindAddress)
		if d.EnableCORS != nil {
			s.Dashboard.EnableCORS = *d.EnableCORS
		}
	}
	if l := f.Logging; l != nil {
		setString(&s.Logging.Level, l.Level)
		setString(&s.Logging.File, l.File)
		if l.EnableColor != nil {
			s.Logging.EnableColor = *l.EnableColor
		}
	}
}

func setString(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}

func setSeconds(dst *time.Duration, src *uint64) {
	if src != nil {
		*dst = time.Duration(*src) * time.Second // #nosec G115
	}
}
