// Package origin forwards tunneled requests to the local HTTP server.
package origin

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/porihq/pori/validation"
)

// ForwardedByName is stamped on proxied requests that lack
// x-forwarded-by.
const ForwardedByName = "pori"

const (
	defaultConnectTimeout = 10 * time.Second
	defaultIdleTimeout    = 60 * time.Second
	tcpKeepAlivePeriod    = 30 * time.Second
)

// HTTPVersion is the version policy for talking to the local origin.
type HTTPVersion string

const (
	HTTPVersionAuto  HTTPVersion = "auto"
	HTTPVersion1Only HTTPVersion = "http1-only"
	HTTPVersion2Only HTTPVersion = "http2-only"
)

// ParseHTTPVersion maps a config string onto a version policy.
func ParseHTTPVersion(s string) (HTTPVersion, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return HTTPVersionAuto, nil
	case "http1-only", "http1", "http/1.1":
		return HTTPVersion1Only, nil
	case "http2-only", "http2", "h2":
		return HTTPVersion2Only, nil
	}
	return "", errors.Errorf("unknown http version %q", s)
}

// Config describes the forwarder's connection to the local origin.
type Config struct {
	// OriginURL is scheme plus authority, e.g. http://localhost:8000.
	OriginURL string
	// Timeout bounds the whole forwarded call.
	Timeout time.Duration
	// ConnectTimeout bounds dialing only. Zero means 10s.
	ConnectTimeout time.Duration
	// MaxConnections caps idle connections kept to the origin.
	MaxConnections int
	// VerifySSL controls certificate checks for https origins.
	VerifySSL bool
	// HTTPVersion selects auto, http1-only or http2-only.
	HTTPVersion HTTPVersion
}

// Forwarder owns the HTTP client used for every tunneled request.
type Forwarder struct {
	client  *http.Client
	baseURL *url.URL
	timeout time.Duration
	log     *zerolog.Logger
}

// Request is one decoded tunnel request to forward.
type Request struct {
	Method    string
	URL       string
	Headers   map[string]string
	Body      []byte
	RequestID string
}

// Response is the origin's answer in tunnel-friendly form.
type Response struct {
	Status     int
	StatusText string
	Headers    map[string]string
	Body       []byte
}

func NewForwarder(cfg Config, log *zerolog.Logger) (*Forwarder, error) {
	base, err := url.Parse(cfg.OriginURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("invalid origin URL %q", cfg.OriginURL)
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}

	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: tcpKeepAlivePeriod,
	}
	tlsConfig := &tls.Config{
		InsecureSkipVerify: !cfg.VerifySSL, // #nosec G402
	}

	var transport http.RoundTripper
	switch cfg.HTTPVersion {
	case HTTPVersion2Only:
		log.Info().Msg("Local origin client: forcing HTTP/2 (prior knowledge)")
		transport = &http2.Transport{
			AllowHTTP:       true,
			TLSClientConfig: tlsConfig,
			DialTLSContext: func(ctx context.Context, network, addr string, tcfg *tls.Config) (net.Conn, error) {
				if base.Scheme == "https" {
					return tls.DialWithDialer(dialer, network, addr, tcfg)
				}
				return dialer.DialContext(ctx, network, addr)
			},
		}
	case HTTPVersion1Only:
		log.Info().Msg("Local origin client: forcing HTTP/1.1")
		transport = &http.Transport{
			DialContext:         dialer.DialContext,
			TLSClientConfig:     tlsConfig,
			MaxIdleConnsPerHost: maxConns,
			IdleConnTimeout:     defaultIdleTimeout,
			TLSNextProto:        map[string]func(string, *tls.Conn) http.RoundTripper{},
		}
	default:
		log.Info().Msg("Local origin client: auto-negotiating HTTP version")
		t := &http.Transport{
			DialContext:         dialer.DialContext,
			TLSClientConfig:     tlsConfig,
			MaxIdleConnsPerHost: maxConns,
			IdleConnTimeout:     defaultIdleTimeout,
			ForceAttemptHTTP2:   true,
		}
		transport = t
	}

	return &Forwarder{
		client: &http.Client{
			Transport: transport,
			// Redirects are returned to the cloud as-is.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: base,
		timeout: cfg.Timeout,
		log:     log,
	}, nil
}

// Forward performs the origin call for one tunneled request. Failures
// are returned as *ForwardError so the session can synthesize the
// matching gateway response.
func (f *Forwarder) Forward(ctx context.Context, req Request) (*Response, error) {
	if err := validation.ValidateMethod(req.Method); err != nil {
		return nil, &ForwardError{Kind: ErrorKindInternal, Err: err}
	}

	// Resolving against the base keeps percent-escapes already present
	// in the request-target instead of re-encoding them.
	pathAndQuery := DerivePath(req.URL)
	target, err := f.baseURL.Parse(pathAndQuery)
	if err != nil {
		return nil, &ForwardError{Kind: ErrorKindInternal, Err: err}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, &ForwardError{Kind: ErrorKindInternal, Err: err}
	}

	applyRequestHeaders(httpReq, req.Headers, req.RequestID)

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	f.log.Debug().
		Str("method", req.Method).
		Str("path", pathAndQuery).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Local origin response")

	return &Response{
		Status:     resp.StatusCode,
		StatusText: StatusText(resp.StatusCode),
		Headers:    scrubResponseHeaders(resp.Header),
		Body:       respBody,
	}, nil
}

// DerivePath extracts the request-target to use against the origin. A
// leading slash is used as-is; an absolute URL contributes its path and
// query; anything else gets a slash prepended. The host part of
// absolute URLs is ignored.
func DerivePath(rawurl string) string {
	if rawurl == "" {
		return "/"
	}
	if strings.HasPrefix(rawurl, "/") {
		return rawurl
	}
	if u, err := url.Parse(rawurl); err == nil && u.IsAbs() && u.Host != "" {
		path := u.Path
		if path == "" {
			path = "/"
		}
		if u.RawQuery != "" {
			return path + "?" + u.RawQuery
		}
		return path
	}
	return "/" + rawurl
}

// StatusText returns the canonical reason phrase for a status code, or
// "Unknown" for non-standard codes.
func StatusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown"
}

var requestHeaderDropSet = map[string]struct{}{
	"host":                {},
	"connection":          {},
	"upgrade":             {},
	"proxy-connection":    {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"content-length":      {},
}

var responseHeaderDropSet = map[string]struct{}{
	"connection":        {},
	"upgrade":           {},
	"proxy-connection":  {},
	"te":                {},
	"trailers":          {},
	"transfer-encoding": {},
	"content-length":    {},
	"server":            {},
	"x-powered-by":      {},
	"x-request-id":      {},
}

func shouldDropRequestHeader(name string) bool {
	_, drop := requestHeaderDropSet[strings.ToLower(name)]
	return drop
}

func shouldDropResponseHeader(name string) bool {
	lower := strings.ToLower(name)
	if _, drop := responseHeaderDropSet[lower]; drop {
		return true
	}
	return strings.HasPrefix(lower, "x-forwarded-")
}

func applyRequestHeaders(httpReq *http.Request, headers map[string]string, requestID string) {
	hasRequestID := false
	hasForwardedBy := false
	for name, value := range headers {
		if shouldDropRequestHeader(name) {
			continue
		}
		if validation.ValidateHeaderName(name) != nil || validation.ValidateHeaderValue(value) != nil {
			continue
		}
		switch strings.ToLower(name) {
		case "x-request-id":
			hasRequestID = true
		case "x-forwarded-by":
			hasForwardedBy = true
		}
		httpReq.Header.Set(name, value)
	}
	if !hasRequestID && requestID != "" {
		httpReq.Header.Set("x-request-id", requestID)
	}
	if !hasForwardedBy {
		httpReq.Header.Set("x-forwarded-by", ForwardedByName)
	}
}

func scrubResponseHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		if shouldDropResponseHeader(name) || len(values) == 0 {
			continue
		}
		out[strings.ToLower(name)] = values[0]
	}
	return out
}
