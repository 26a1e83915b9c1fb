package tunnel

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseError reports a frame that could not be decoded. Sessions log it
// and drop the frame; it never terminates the connection.
type ParseError struct {
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %s", e.Reason, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func parseErrorf(cause error, format string, args ...interface{}) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Cause: cause}
}

// IsParseError reports whether err is a frame decode failure.
func IsParseError(err error) bool {
	_, ok := err.(*ParseError)
	return ok
}

type payloadWireJSON struct {
	Kind string              `json:"kind"`
	Data jsoniter.RawMessage `json:"data"`
}

type messageWireJSON struct {
	Metadata Metadata        `json:"metadata"`
	Payload  payloadWireJSON `json:"payload"`
}

// MarshalJSON implements json.Marshaler for the metadata+payload pair,
// wrapping the payload in its {"kind","data"} envelope.
func (m Message) MarshalJSON() ([]byte, error) {
	data, err := marshalPayloadData(m.Payload, json.Marshal)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageWireJSON{
		Metadata: m.Metadata,
		Payload:  payloadWireJSON{Kind: m.Payload.payloadKind(), Data: data},
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWireJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return parseErrorf(err, "malformed message")
	}
	payload, err := unmarshalPayloadData(wire.Payload.Kind, wire.Payload.Data, json.Unmarshal)
	if err != nil {
		return err
	}
	wire.Metadata.applyDefaults()
	m.Metadata = wire.Metadata
	m.Payload = payload
	return nil
}

type payloadWireMsgpack struct {
	Kind string             `msgpack:"kind"`
	Data msgpack.RawMessage `msgpack:"data"`
}

type messageWireMsgpack struct {
	Metadata Metadata           `msgpack:"metadata"`
	Payload  payloadWireMsgpack `msgpack:"payload"`
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (m *Message) EncodeMsgpack(enc *msgpack.Encoder) error {
	data, err := marshalPayloadData(m.Payload, msgpack.Marshal)
	if err != nil {
		return err
	}
	return enc.Encode(messageWireMsgpack{
		Metadata: m.Metadata,
		Payload:  payloadWireMsgpack{Kind: m.Payload.payloadKind(), Data: data},
	})
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (m *Message) DecodeMsgpack(dec *msgpack.Decoder) error {
	var wire messageWireMsgpack
	if err := dec.Decode(&wire); err != nil {
		return parseErrorf(err, "malformed binary message")
	}
	payload, err := unmarshalPayloadData(wire.Payload.Kind, wire.Payload.Data, msgpack.Unmarshal)
	if err != nil {
		return err
	}
	wire.Metadata.applyDefaults()
	m.Metadata = wire.Metadata
	m.Payload = payload
	return nil
}

type marshalFunc func(interface{}) ([]byte, error)
type unmarshalFunc func([]byte, interface{}) error

// marshalPayloadData serializes a payload variant with its inner
// discriminator. The same shape is used for both wire forms.
func marshalPayloadData(p Payload, marshal marshalFunc) ([]byte, error) {
	switch v := p.(type) {
	case *HTTPRequest:
		return marshal(struct {
			Kind string `json:"kind" msgpack:"kind"`
			*HTTPRequest
		}{"Request", v})
	case *HTTPResponse:
		return marshal(struct {
			Kind string `json:"kind" msgpack:"kind"`
			*HTTPResponse
		}{"Response", v})
	case *AuthToken:
		return marshal(struct {
			AuthType string `json:"auth_type" msgpack:"auth_type"`
			*AuthToken
		}{AuthTypeToken, v})
	case *AuthSuccess:
		return marshal(struct {
			AuthType string `json:"auth_type" msgpack:"auth_type"`
			*AuthSuccess
		}{AuthTypeSuccess, v})
	case *AuthFailure:
		return marshal(struct {
			AuthType string `json:"auth_type" msgpack:"auth_type"`
			*AuthFailure
		}{AuthTypeFailure, v})
	case *ControlPing:
		return marshal(struct {
			Kind string `json:"kind" msgpack:"kind"`
			*ControlPing
		}{ControlKindPing, v})
	case *ControlPong:
		return marshal(struct {
			Kind string `json:"kind" msgpack:"kind"`
			*ControlPong
		}{ControlKindPong, v})
	case *ControlStatus:
		return marshal(struct {
			Kind string `json:"kind" msgpack:"kind"`
			*ControlStatus
		}{ControlKindStatus, v})
	case *ControlShutdown:
		return marshal(struct {
			Kind string `json:"kind" msgpack:"kind"`
			*ControlShutdown
		}{ControlKindShutdown, v})
	case *ControlAuthentication:
		return marshal(struct {
			Kind string `json:"kind" msgpack:"kind"`
			*ControlAuthentication
		}{ControlKindAuthentication, v})
	case *ControlError:
		return marshal(struct {
			Kind string `json:"kind" msgpack:"kind"`
			*ControlError
		}{ControlKindError, v})
	case *ErrorPayload:
		return marshal(v)
	case *StatsPayload:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
		return marshal(v)
	case *StreamPayload:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
		return marshal(v)
	case *CustomPayload:
		return marshal(v)
	default:
		return nil, parseErrorf(nil, "unsupported payload type %T", p)
	}
}

// unmarshalPayloadData decodes the {"kind","data"} envelope content back
// into the matching variant. Unknown discriminators are a ParseError so
// the session can drop the frame and keep reading.
func unmarshalPayloadData(kind string, data []byte, unmarshal unmarshalFunc) (Payload, error) {
	switch kind {
	case KindHTTP:
		var disc struct {
			Kind string `json:"kind" msgpack:"kind"`
		}
		if err := unmarshal(data, &disc); err != nil {
			return nil, parseErrorf(err, "malformed HTTP payload")
		}
		switch disc.Kind {
		case "Request":
			var p HTTPRequest
			if err := unmarshal(data, &p); err != nil {
				return nil, parseErrorf(err, "malformed HTTP request payload")
			}
			return &p, nil
		case "Response":
			var p HTTPResponse
			if err := unmarshal(data, &p); err != nil {
				return nil, parseErrorf(err, "malformed HTTP response payload")
			}
			return &p, nil
		default:
			return nil, parseErrorf(nil, "unknown HTTP payload kind %q", disc.Kind)
		}
	case KindAuth:
		var disc struct {
			AuthType string `json:"auth_type" msgpack:"auth_type"`
		}
		if err := unmarshal(data, &disc); err != nil {
			return nil, parseErrorf(err, "malformed auth payload")
		}
		switch disc.AuthType {
		case AuthTypeToken:
			var p AuthToken
			if err := unmarshal(data, &p); err != nil {
				return nil, parseErrorf(err, "malformed token auth payload")
			}
			return &p, nil
		case AuthTypeSuccess:
			var p AuthSuccess
			if err := unmarshal(data, &p); err != nil {
				return nil, parseErrorf(err, "malformed auth success payload")
			}
			return &p, nil
		case AuthTypeFailure:
			var p AuthFailure
			if err := unmarshal(data, &p); err != nil {
				return nil, parseErrorf(err, "malformed auth failure payload")
			}
			return &p, nil
		default:
			return nil, parseErrorf(nil, "unknown auth payload type %q", disc.AuthType)
		}
	case KindControl:
		var disc struct {
			Kind string `json:"kind" msgpack:"kind"`
		}
		if err := unmarshal(data, &disc); err != nil {
			return nil, parseErrorf(err, "malformed control payload")
		}
		switch disc.Kind {
		case ControlKindPing:
			var p ControlPing
			if err := unmarshal(data, &p); err != nil {
				return nil, parseErrorf(err, "malformed ping payload")
			}
			return &p, nil
		case ControlKindPong:
			var p ControlPong
			if err := unmarshal(data, &p); err != nil {
				return nil, parseErrorf(err, "malformed pong payload")
			}
			return &p, nil
		case ControlKindStatus:
			var p ControlStatus
			if err := unmarshal(data, &p); err != nil {
				return nil, parseErrorf(err, "malformed status payload")
			}
			return &p, nil
		case ControlKindShutdown:
			var p ControlShutdown
			if err := unmarshal(data, &p); err != nil {
				return nil, parseErrorf(err, "malformed shutdown payload")
			}
			return &p, nil
		case ControlKindAuthentication:
			var p ControlAuthentication
			if err := unmarshal(data, &p); err != nil {
				return nil, parseErrorf(err, "malformed authentication payload")
			}
			return &p, nil
		case ControlKindError:
			var p ControlError
			if err := unmarshal(data, &p); err != nil {
				return nil, parseErrorf(err, "malformed control error payload")
			}
			return &p, nil
		default:
			return nil, parseErrorf(nil, "unknown control payload kind %q", disc.Kind)
		}
	case KindError:
		var p ErrorPayload
		if err := unmarshal(data, &p); err != nil {
			return nil, parseErrorf(err, "malformed error payload")
		}
		return &p, nil
	case KindStats:
		p := StatsPayload{Raw: append(jsoniter.RawMessage(nil), data...)}
		_ = unmarshal(data, &p)
		return &p, nil
	case KindStream:
		p := StreamPayload{Raw: append(jsoniter.RawMessage(nil), data...)}
		_ = unmarshal(data, &p)
		return &p, nil
	case KindCustom:
		var p CustomPayload
		if err := unmarshal(data, &p); err != nil {
			return nil, parseErrorf(err, "malformed custom payload")
		}
		return &p, nil
	default:
		return nil, parseErrorf(nil, "unknown payload kind %q", kind)
	}
}

// EncodeText serializes a frame to its canonical JSON wire form.
func EncodeText(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// EncodeBinary serializes a frame to its MessagePack wire form.
func EncodeBinary(f *Frame) ([]byte, error) {
	return msgpack.Marshal(f)
}

// Encode picks the wire form for a frame: binary when the payload
// carries raw bytes, text JSON otherwise. The returned flag reports
// which form was chosen.
func Encode(f *Frame) (data []byte, binary bool, err error) {
	if f.HasBinaryData() {
		data, err = EncodeBinary(f)
		return data, true, err
	}
	data, err = EncodeText(f)
	return data, false, err
}

// DecodeText parses a JSON wire frame.
func DecodeText(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		if IsParseError(err) {
			return nil, err
		}
		return nil, parseErrorf(err, "malformed frame")
	}
	return &f, nil
}

// DecodeBinary parses a MessagePack wire frame.
func DecodeBinary(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		if IsParseError(err) {
			return nil, err
		}
		return nil, parseErrorf(err, "malformed binary frame")
	}
	return &f, nil
}
