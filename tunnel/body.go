package tunnel

import (
	"bytes"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Body is the byte sequence of an HTTP request or response carried in a
// frame. On the JSON wire it may appear as a string, an array of byte
// integers, any other JSON value (whose serialized text becomes the
// bytes), or null. All four shapes decode to the same in-memory bytes;
// encoding picks the shape matching the value's origin: JSON objects
// travel as raw JSON, other valid UTF-8 as a string, arbitrary bytes as
// an integer array. The MessagePack wire form uses native binary.
type Body []byte

// MarshalJSON implements json.Marshaler.
func (b Body) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	if utf8.Valid(b) {
		trimmed := bytes.TrimSpace(b)
		if len(trimmed) > 0 && trimmed[0] == '{' && jsoniter.Valid(b) {
			// Pass the object through untouched so the peer sees the
			// value the local origin produced, byte for byte.
			out := make([]byte, len(b))
			copy(out, b)
			return out, nil
		}
		return jsoniter.Marshal(string(b))
	}
	ints := make([]uint16, len(b))
	for i, c := range b {
		ints[i] = uint16(c)
	}
	return jsoniter.Marshal(ints)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Body) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*b = nil
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := jsoniter.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "body: invalid JSON string")
		}
		*b = Body(s)
		return nil
	case '[':
		if raw, ok := decodeByteArray(data); ok {
			*b = raw
			return nil
		}
		// Not a byte array; keep its serialized text as the body.
		*b = copyBytes(trimmed)
		return nil
	default:
		// Object, number or boolean: the serialized text is the body.
		*b = copyBytes(trimmed)
		return nil
	}
}

// decodeByteArray attempts the array-of-byte-integers shape.
func decodeByteArray(data []byte) (Body, bool) {
	var ints []int64
	if err := jsoniter.Unmarshal(data, &ints); err != nil {
		return nil, false
	}
	raw := make(Body, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, false
		}
		raw[i] = byte(v)
	}
	return raw, true
}

func copyBytes(src []byte) Body {
	out := make(Body, len(src))
	copy(out, src)
	return out
}

// EncodeMsgpack implements msgpack.CustomEncoder. Binary frames carry
// bodies as native bytes.
func (b Body) EncodeMsgpack(enc *msgpack.Encoder) error {
	if len(b) == 0 {
		return enc.EncodeNil()
	}
	return enc.EncodeBytes(b)
}

// DecodeMsgpack implements msgpack.CustomDecoder. Peers are allowed the
// same latitude as on the JSON wire: bytes, string, integer array, nil,
// or any other value whose JSON text becomes the body.
func (b *Body) DecodeMsgpack(dec *msgpack.Decoder) error {
	code, err := dec.PeekCode()
	if err != nil {
		return err
	}
	switch {
	case code == msgpcode.Nil:
		*b = nil
		return dec.DecodeNil()
	case msgpcode.IsBin(code):
		raw, err := dec.DecodeBytes()
		if err != nil {
			return err
		}
		*b = raw
		return nil
	case msgpcode.IsString(code) || msgpcode.IsFixedString(code):
		s, err := dec.DecodeString()
		if err != nil {
			return err
		}
		*b = Body(s)
		return nil
	default:
		v, err := dec.DecodeInterface()
		if err != nil {
			return err
		}
		if raw, ok := interfaceToBytes(v); ok {
			*b = raw
			return nil
		}
		text, err := jsoniter.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "body: unsupported msgpack shape")
		}
		*b = text
		return nil
	}
}

// interfaceToBytes recognizes a decoded integer array as raw bytes.
func interfaceToBytes(v interface{}) (Body, bool) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	raw := make(Body, len(arr))
	for i, el := range arr {
		n, ok := asByte(el)
		if !ok {
			return nil, false
		}
		raw[i] = n
	}
	return raw, true
}

func asByte(v interface{}) (byte, bool) {
	switch n := v.(type) {
	case int8:
		if n >= 0 {
			return byte(n), true
		}
	case int64:
		if n >= 0 && n <= 255 {
			return byte(n), true
		}
	case uint64:
		if n <= 255 {
			return byte(n), true
		}
	case uint8:
		return n, true
	case int:
		if n >= 0 && n <= 255 {
			return byte(n), true
		}
	}
	return 0, false
}
