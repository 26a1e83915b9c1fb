package tunnel

import jsoniter "github.com/json-iterator/go"

// Payload is one member of the closed set of frame payload variants.
// The wire form wraps each variant in {"kind": <tag>, "data": <fields>};
// HTTP, Auth and Control payloads carry a second, inner discriminator.
type Payload interface {
	payloadKind() string
}

// Outer payload discriminators.
const (
	KindAuth    = "Auth"
	KindHTTP    = "HTTP"
	KindControl = "Control"
	KindStats   = "Stats"
	KindError   = "Error"
	KindStream  = "Stream"
	KindCustom  = "Custom"
)

// HTTPRequest describes one HTTP request tunneled from the cloud.
// RequestID is the cloud-generated correlation token and must be echoed
// on the response frame.
type HTTPRequest struct {
	Method      string            `json:"method" msgpack:"method"`
	URL         string            `json:"url" msgpack:"url"`
	Headers     map[string]string `json:"headers" msgpack:"headers"`
	Body        Body              `json:"body,omitempty" msgpack:"body,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty" msgpack:"query_params,omitempty"`
	RequestID   string            `json:"requestId" msgpack:"requestId"`
}

func (*HTTPRequest) payloadKind() string { return KindHTTP }

// HTTPResponse carries the local origin's answer back to the cloud.
type HTTPResponse struct {
	Status     int               `json:"status" msgpack:"status"`
	StatusText string            `json:"status_text" msgpack:"status_text"`
	Headers    map[string]string `json:"headers" msgpack:"headers"`
	Body       Body              `json:"body,omitempty" msgpack:"body,omitempty"`
	RequestID  string            `json:"requestId" msgpack:"requestId"`
}

func (*HTTPResponse) payloadKind() string { return KindHTTP }

// Auth payload variants, discriminated by auth_type.
const (
	AuthTypeToken   = "TokenAuth"
	AuthTypeSuccess = "Success"
	AuthTypeFailure = "Failure"
)

// AuthToken is a token credential presented in-band. The current server
// design authenticates on the handshake URL instead, but the variant
// remains decodable for older peers.
type AuthToken struct {
	Token     string   `json:"token" msgpack:"token"`
	TokenType string   `json:"token_type" msgpack:"token_type"`
	Scopes    []string `json:"scopes" msgpack:"scopes"`
}

func (*AuthToken) payloadKind() string { return KindAuth }

// AuthSuccess is the server's acknowledgement that the session is
// authenticated.
type AuthSuccess struct {
	SessionID   string   `json:"session_id" msgpack:"session_id"`
	ExpiresAt   *uint64  `json:"expires_at,omitempty" msgpack:"expires_at,omitempty"`
	Permissions []string `json:"permissions,omitempty" msgpack:"permissions,omitempty"`
}

func (*AuthSuccess) payloadKind() string { return KindAuth }

// AuthFailure is a terminal rejection of the session's credentials.
type AuthFailure struct {
	ErrorCode    string  `json:"error_code" msgpack:"error_code"`
	ErrorMessage string  `json:"error_message" msgpack:"error_message"`
	RetryAfter   *uint64 `json:"retry_after,omitempty" msgpack:"retry_after,omitempty"`
}

func (*AuthFailure) payloadKind() string { return KindAuth }

// Control payload variants, discriminated by the inner kind.
const (
	ControlKindPing           = "Ping"
	ControlKindPong           = "Pong"
	ControlKindStatus         = "Status"
	ControlKindShutdown       = "Shutdown"
	ControlKindAuthentication = "Authentication"
	ControlKindError          = "Error"
)

// ControlPing is an application-level liveness probe. The deployed
// server neither sends nor expects these; the transport's own ping/pong
// keeps the socket alive.
type ControlPing struct {
	Timestamp int64 `json:"timestamp" msgpack:"timestamp"`
	Data      Body  `json:"data,omitempty" msgpack:"data,omitempty"`
}

func (*ControlPing) payloadKind() string { return KindControl }

// ControlPong answers a ControlPing.
type ControlPong struct {
	Timestamp int64 `json:"timestamp" msgpack:"timestamp"`
	Data      Body  `json:"data,omitempty" msgpack:"data,omitempty"`
}

func (*ControlPong) payloadKind() string { return KindControl }

// ControlStatus reports the server's view of the connection.
type ControlStatus struct {
	Status  string            `json:"status" msgpack:"status"`
	Message string            `json:"message,omitempty" msgpack:"message,omitempty"`
	Details map[string]string `json:"details,omitempty" msgpack:"details,omitempty"`
}

func (*ControlStatus) payloadKind() string { return KindControl }

// ControlShutdown announces a server-initiated shutdown with a grace
// window.
type ControlShutdown struct {
	Reason             string `json:"reason" msgpack:"reason"`
	GracePeriodSeconds uint64 `json:"grace_period_seconds" msgpack:"grace_period_seconds"`
}

func (*ControlShutdown) payloadKind() string { return KindControl }

// ControlAuthentication is the framed form of the server's
// authentication status notice.
type ControlAuthentication struct {
	Status    string `json:"status" msgpack:"status"`
	Message   string `json:"message,omitempty" msgpack:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

func (*ControlAuthentication) payloadKind() string { return KindControl }

// ControlError is a non-fatal error notice inside the control channel.
type ControlError struct {
	Error     string `json:"error" msgpack:"error"`
	Code      string `json:"code,omitempty" msgpack:"code,omitempty"`
	Timestamp string `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

func (*ControlError) payloadKind() string { return KindControl }

// ErrorCategory classifies an ErrorPayload.
type ErrorCategory string

const (
	CategoryAuthentication ErrorCategory = "Authentication"
	CategoryNetwork        ErrorCategory = "Network"
	CategoryProtocol       ErrorCategory = "Protocol"
	CategoryValidation     ErrorCategory = "Validation"
	CategoryInternal       ErrorCategory = "Internal"
	CategoryTimeout        ErrorCategory = "Timeout"
)

// ErrorPayload reports a failure, optionally tied to a request by
// RelatedID.
type ErrorPayload struct {
	Code            string        `json:"code" msgpack:"code"`
	Message         string        `json:"message" msgpack:"message"`
	Details         string        `json:"details,omitempty" msgpack:"details,omitempty"`
	Trace           string        `json:"trace,omitempty" msgpack:"trace,omitempty"`
	RelatedID       string        `json:"related_id,omitempty" msgpack:"related_id,omitempty"`
	Category        ErrorCategory `json:"category" msgpack:"category"`
	RecoveryActions []string      `json:"recovery_actions" msgpack:"recovery_actions"`
}

func (*ErrorPayload) payloadKind() string { return KindError }

// StatsPayload, StreamPayload and CustomPayload are accepted and routed
// but the client takes no action on them beyond logging; their inner
// structure is kept opaque.

type StatsPayload struct {
	StatsType string              `json:"stats_type" msgpack:"stats_type"`
	Raw       jsoniter.RawMessage `json:"-" msgpack:"-"`
}

func (*StatsPayload) payloadKind() string { return KindStats }

type StreamPayload struct {
	StreamType string              `json:"stream_type" msgpack:"stream_type"`
	Raw        jsoniter.RawMessage `json:"-" msgpack:"-"`
}

func (*StreamPayload) payloadKind() string { return KindStream }

type CustomPayload struct {
	MessageType   string              `json:"message_type" msgpack:"message_type"`
	Data          jsoniter.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`
	SchemaVersion string              `json:"schema_version,omitempty" msgpack:"schema_version,omitempty"`
}

func (*CustomPayload) payloadKind() string { return KindCustom }
