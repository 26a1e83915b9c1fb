// Package validation holds the HTTP and URL validity rules shared by
// the codec, the session and configuration loading.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var standardMethods = map[string]struct{}{
	"GET":     {},
	"HEAD":    {},
	"POST":    {},
	"PUT":     {},
	"DELETE":  {},
	"CONNECT": {},
	"OPTIONS": {},
	"TRACE":   {},
	"PATCH":   {},
}

// ValidateMethod checks that method is one of the standard HTTP methods
// in uppercase ASCII.
func ValidateMethod(method string) error {
	if method == "" {
		return fmt.Errorf("method is empty")
	}
	if _, ok := standardMethods[method]; !ok {
		if _, ok := standardMethods[strings.ToUpper(method)]; ok {
			return fmt.Errorf("method %q must be uppercase", method)
		}
		return fmt.Errorf("unknown method %q", method)
	}
	return nil
}

// ValidateHeaderName checks that name is printable ASCII with no
// separators that would break the wire format.
func ValidateHeaderName(name string) error {
	if name == "" {
		return fmt.Errorf("header name is empty")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7f || c == ':' {
			return fmt.Errorf("header name %q contains invalid character at %d", name, i)
		}
	}
	return nil
}

// ValidateHeaderValue checks that value carries no CR or LF.
func ValidateHeaderValue(value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("header value contains CR or LF")
	}
	return nil
}

// ValidateHeaders applies the name and value rules to a header map.
func ValidateHeaders(headers map[string]string) error {
	for name, value := range headers {
		if err := ValidateHeaderName(name); err != nil {
			return err
		}
		if err := ValidateHeaderValue(value); err != nil {
			return fmt.Errorf("header %q: %s", name, err)
		}
	}
	return nil
}

// ValidateTunnelURL checks the cloud server URL and returns it in
// normalized form. Accepted schemes are ws and wss; http and https are
// rewritten to their WebSocket equivalents. International hostnames are
// converted to ASCII.
func ValidateTunnelURL(rawurl string) (string, error) {
	if rawurl == "" {
		return "", fmt.Errorf("server URL should not be empty")
	}
	unescaped, err := url.PathUnescape(rawurl)
	if err != nil {
		return "", fmt.Errorf("server URL %s has invalid escape characters", rawurl)
	}
	u, err := url.Parse(unescaped)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("server URL %s has invalid format", rawurl)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server URL scheme %s is not supported, use ws:// or wss://", u.Scheme)
	}
	if net.ParseIP(u.Hostname()) == nil {
		ascii, err := idna.ToASCII(u.Hostname())
		if err != nil {
			return "", fmt.Errorf("server URL hostname %s has invalid encoding", u.Hostname())
		}
		if port := u.Port(); port != "" {
			u.Host = net.JoinHostPort(ascii, port)
		} else {
			u.Host = ascii
		}
	}
	return u.String(), nil
}

// ValidatePort checks a TCP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d is outside 1-65535", port)
	}
	return nil
}
