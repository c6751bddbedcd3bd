package rtmp

import (
	"encoding/binary"
	"math"

	"redalf.de/corestream/pkg/errs"
)

// AMF0 marker bytes, per the classic Action Message Format spec.
const (
	amf0Number    = 0x00
	amf0Boolean   = 0x01
	amf0String    = 0x02
	amf0Object    = 0x03
	amf0Null      = 0x05
	amf0Undefined = 0x06
	amf0ECMAArray = 0x08
	amf0ObjectEnd = 0x09
)

// EncodeNumber appends an AMF0 Number.
func EncodeNumber(buf []byte, v float64) []byte {
	out := append(buf, amf0Number)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return append(out, b[:]...)
}

// EncodeString appends an AMF0 String (length-prefixed, max 65535 bytes).
func EncodeString(buf []byte, s string) []byte {
	out := append(buf, amf0String)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	out = append(out, l[:]...)
	return append(out, s...)
}

// EncodeBoolean appends an AMF0 Boolean.
func EncodeBoolean(buf []byte, v bool) []byte {
	b := byte(0)
	if v {
		b = 1
	}
	return append(buf, amf0Boolean, b)
}

// EncodeNull appends an AMF0 Null marker.
func EncodeNull(buf []byte) []byte { return append(buf, amf0Null) }

// EncodeObject appends an AMF0 Object with the given key/value pairs in
// order, terminated by the object-end marker. Values must already be
// one of the scalar Encode* outputs (a caller builds nested objects by
// concatenating EncodeObject's own output, not via this helper).
func EncodeObject(buf []byte, pairs ...ObjectField) []byte {
	out := append(buf, amf0Object)
	for _, f := range pairs {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(f.Key)))
		out = append(out, l[:]...)
		out = append(out, f.Key...)
		out = append(out, f.Value...)
	}
	out = append(out, 0x00, 0x00, amf0ObjectEnd)
	return out
}

// ObjectField is one pre-encoded key/value pair for EncodeObject.
type ObjectField struct {
	Key   string
	Value []byte // an already-encoded AMF0 value (EncodeString/EncodeNumber/...)
}

// Value is a decoded AMF0 value: a float64, string, bool, nil, or
// map[string]Value for Object/ECMA-array.
type Value any

// DecodeAll decodes a sequence of concatenated AMF0 values (as found
// in an RTMP command message payload) until the buffer is exhausted.
func DecodeAll(buf []byte) ([]Value, error) {
	var out []Value
	for len(buf) > 0 {
		v, n, err := decodeOne(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		buf = buf[n:]
	}
	return out, nil
}

func decodeOne(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return nil, 0, errs.New(errs.KindProtocol, "amf0: empty buffer")
	}
	switch buf[0] {
	case amf0Number:
		if len(buf) < 9 {
			return nil, 0, errs.New(errs.KindProtocol, "amf0: truncated number")
		}
		bits := binary.BigEndian.Uint64(buf[1:9])
		return math.Float64frombits(bits), 9, nil
	case amf0Boolean:
		if len(buf) < 2 {
			return nil, 0, errs.New(errs.KindProtocol, "amf0: truncated boolean")
		}
		return buf[1] != 0, 2, nil
	case amf0String:
		if len(buf) < 3 {
			return nil, 0, errs.New(errs.KindProtocol, "amf0: truncated string length")
		}
		l := int(binary.BigEndian.Uint16(buf[1:3]))
		if len(buf) < 3+l {
			return nil, 0, errs.New(errs.KindProtocol, "amf0: truncated string")
		}
		return string(buf[3 : 3+l]), 3 + l, nil
	case amf0Null, amf0Undefined:
		return nil, 1, nil
	case amf0Object, amf0ECMAArray:
		off := 1
		if buf[0] == amf0ECMAArray {
			if len(buf) < 5 {
				return nil, 0, errs.New(errs.KindProtocol, "amf0: truncated ECMA array count")
			}
			off = 5
		}
		obj := make(map[string]Value)
		for {
			if off+2 > len(buf) {
				return nil, 0, errs.New(errs.KindProtocol, "amf0: truncated object key")
			}
			keyLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
			off += 2
			if keyLen == 0 && off < len(buf) && buf[off] == amf0ObjectEnd {
				off++
				return obj, off, nil
			}
			if off+keyLen > len(buf) {
				return nil, 0, errs.New(errs.KindProtocol, "amf0: truncated object key bytes")
			}
			key := string(buf[off : off+keyLen])
			off += keyLen
			v, n, err := decodeOne(buf[off:])
			if err != nil {
				return nil, 0, err
			}
			obj[key] = v
			off += n
		}
	default:
		return nil, 0, errs.New(errs.KindProtocol, "amf0: unsupported marker")
	}
}
