package connection

import (
	"errors"
	"fmt"
)

// AuthError is a terminal rejection by the cloud server. The supervisor
// stops reconnecting when a session ends with one.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authentication failed: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// TransportError wraps a WebSocket dial, read or write failure. The
// supervisor backs off and reconnects.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRecoverable reports whether the supervisor should reconnect after a
// session ends with err. Auth failures are terminal; everything else,
// including a server-initiated close (nil error), is retried.
func IsRecoverable(err error) bool {
	var authErr *AuthError
	return !errors.As(err, &authErr)
}
