package origin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrorKind classifies a failed origin call and selects the gateway
// status synthesized for the cloud.
type ErrorKind int

const (
	// ErrorKindConnect means the origin refused or was unreachable.
	ErrorKindConnect ErrorKind = iota
	// ErrorKindTimeout means the call exceeded the configured deadline.
	ErrorKindTimeout
	// ErrorKindServer covers other client-level failures mid-exchange.
	ErrorKindServer
	// ErrorKindInternal is a fault in the client itself.
	ErrorKindInternal
)

// ForwardError wraps an origin call failure with its classification.
type ForwardError struct {
	Kind ErrorKind
	Err  error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindConnect:
		return "local connect error"
	case ErrorKindTimeout:
		return "local timeout"
	case ErrorKindServer:
		return "local server error"
	default:
		return "internal error"
	}
}

// Status maps the classification onto the synthesized gateway status.
func (k ErrorKind) Status() int {
	switch k {
	case ErrorKindConnect:
		return http.StatusServiceUnavailable
	case ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case ErrorKindServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// classifyTransportError sorts an http client error into a ForwardError.
// Dial-phase failures count as connect errors even when they are
// timeouts; only failures of an established exchange count as timeouts
// or server errors.
func classifyTransportError(err error) *ForwardError {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &ForwardError{Kind: ErrorKindConnect, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &ForwardError{Kind: ErrorKindConnect, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return &ForwardError{Kind: ErrorKindConnect, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ForwardError{Kind: ErrorKindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ForwardError{Kind: ErrorKindTimeout, Err: err}
	}
	return &ForwardError{Kind: ErrorKindServer, Err: err}
}

// ErrorResponse synthesizes the gateway response reported to the cloud
// when a forward fails. The caller attaches the original requestId when
// framing it.
func ErrorResponse(err error) *Response {
	kind := ErrorKindInternal
	message := "internal error"
	if err != nil {
		message = err.Error()
		var fwdErr *ForwardError
		if errors.As(err, &fwdErr) {
			kind = fwdErr.Kind
		}
	}
	status := kind.Status()
	reason := StatusText(status)

	body := fmt.Sprintf(`<html>
<head><title>%d %s</title></head>
<body>
<h1>%d %s</h1>
<p>%s</p>
</body>
</html>
`, status, reason, status, reason, message)

	return &Response{
		Status:     status,
		StatusText: reason,
		Headers: map[string]string{
			"content-type":  "text/html; charset=utf-8",
			"cache-control": "no-cache",
		},
		Body: []byte(body),
	}
}
