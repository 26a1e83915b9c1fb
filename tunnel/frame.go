// Package tunnel defines the framed message protocol spoken over the
// WebSocket between this client and the cloud proxy server, and the
// codec that moves frames between their in-memory and wire forms.
package tunnel

// ProtocolVersion is advertised in every envelope this client emits.
const ProtocolVersion = "1.0"

// MetadataVersion is the message schema version stamped on emitted metadata.
const MetadataVersion = "1.0.0"

// Frame is the unit crossing the WebSocket: an envelope identifying the
// tunnel plus one protocol message.
type Frame struct {
	Envelope Envelope `json:"envelope" msgpack:"envelope"`
	Message  Message  `json:"message" msgpack:"message"`
}

// Envelope carries tunnel-level identifiers. The client sends fixed
// self-chosen tunnel and client ids; the server may echo a server id.
type Envelope struct {
	TunnelID        string `json:"tunnel_id" msgpack:"tunnel_id"`
	ClientID        string `json:"client_id" msgpack:"client_id"`
	ServerID        string `json:"server_id,omitempty" msgpack:"server_id,omitempty"`
	ProtocolVersion string `json:"protocol_version,omitempty" msgpack:"protocol_version,omitempty"`
	Compression     string `json:"compression,omitempty" msgpack:"compression,omitempty"`
	Encryption      string `json:"encryption,omitempty" msgpack:"encryption,omitempty"`
}

// Message pairs routing metadata with a typed payload.
type Message struct {
	Metadata Metadata `json:"metadata" msgpack:"metadata"`
	Payload  Payload  `json:"-" msgpack:"-"`
}

// Priority orders messages when the peer applies scheduling.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// DeliveryMode declares the delivery guarantee requested for a message.
type DeliveryMode string

const (
	AtMostOnce  DeliveryMode = "at_most_once"
	AtLeastOnce DeliveryMode = "at_least_once"
	ExactlyOnce DeliveryMode = "exactly_once"
)

// Encoding names the wire form of a frame.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// Metadata is the control header of a protocol message. Unknown fields
// received from the peer are ignored for forward compatibility.
type Metadata struct {
	ID            string            `json:"id" msgpack:"id"`
	MessageType   string            `json:"message_type" msgpack:"message_type"`
	Version       string            `json:"version" msgpack:"version"`
	Timestamp     int64             `json:"timestamp" msgpack:"timestamp"`
	Priority      Priority          `json:"priority" msgpack:"priority"`
	DeliveryMode  DeliveryMode      `json:"delivery_mode" msgpack:"delivery_mode"`
	Encoding      Encoding          `json:"encoding" msgpack:"encoding"`
	Source        string            `json:"source,omitempty" msgpack:"source,omitempty"`
	Destination   string            `json:"destination,omitempty" msgpack:"destination,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty" msgpack:"correlation_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	Headers       map[string]string `json:"headers" msgpack:"headers"`
	Tags          []string          `json:"tags" msgpack:"tags"`
	RetryCount    uint32            `json:"retry_count" msgpack:"retry_count"`
	MaxRetries    uint32            `json:"max_retries" msgpack:"max_retries"`
	TTL           *uint64           `json:"ttl,omitempty" msgpack:"ttl,omitempty"`
}

// applyDefaults fills the fields a peer is allowed to omit.
func (m *Metadata) applyDefaults() {
	if m.Version == "" {
		m.Version = MetadataVersion
	}
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
	if m.DeliveryMode == "" {
		m.DeliveryMode = AtLeastOnce
	}
	if m.Encoding == "" {
		m.Encoding = EncodingJSON
	}
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.MaxRetries == 0 {
		m.MaxRetries = 3
	}
}

// MessageType returns the metadata message type tag.
func (f *Frame) MessageType() string {
	return f.Message.Metadata.MessageType
}

// RequestID returns the cloud-side correlation id when the payload is an
// HTTP request or response, and "" otherwise.
func (f *Frame) RequestID() string {
	switch p := f.Message.Payload.(type) {
	case *HTTPRequest:
		return p.RequestID
	case *HTTPResponse:
		return p.RequestID
	}
	return ""
}

// HasBinaryData reports whether the payload carries raw bytes, in which
// case the frame should travel in the binary (MessagePack) wire form.
func (f *Frame) HasBinaryData() bool {
	switch p := f.Message.Payload.(type) {
	case *HTTPRequest:
		return len(p.Body) > 0
	case *HTTPResponse:
		return len(p.Body) > 0
	case *StreamPayload:
		return true
	}
	return false
}

// BodySize returns the HTTP payload body length in bytes, or 0 for
// non-HTTP payloads.
func (f *Frame) BodySize() int {
	switch p := f.Message.Payload.(type) {
	case *HTTPRequest:
		return len(p.Body)
	case *HTTPResponse:
		return len(p.Body)
	}
	return 0
}
