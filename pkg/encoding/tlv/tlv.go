// Package tlv is a small self-describing binary format: every value starts
// with a type byte, variable-size values carry a little-endian uint32 length.
package tlv

import (
	"encoding/binary"
	"fmt"
	"math"
)

// TypeID identifies the kind of an encoded value.
type TypeID uint8

const (
	TypeString TypeID = iota + 1
	TypeFloat64
	TypeUint64
	TypeBytes
	TypeMessage
	TypeList
)

// Value is one decoded or to-be-encoded value.
type Value struct {
	Type    TypeID
	String  string
	Float64 float64
	Uint64  uint64
	Bytes   []byte
	Message []Field
	List    []Value
}

// Field is a numbered member of a message.
type Field struct {
	Number uint32
	Value  Value
}

type EncodeError struct {
	Message string
}

func (e *EncodeError) Error() string {
	return "tlv encode: " + e.Message
}

type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	return "tlv decode: " + e.Message
}

func String(s string) Value         { return Value{Type: TypeString, String: s} }
func Float64(f float64) Value       { return Value{Type: TypeFloat64, Float64: f} }
func Uint64(u uint64) Value         { return Value{Type: TypeUint64, Uint64: u} }
func Bytes(b []byte) Value          { return Value{Type: TypeBytes, Bytes: b} }
func Message(fields ...Field) Value { return Value{Type: TypeMessage, Message: fields} }
func List(items ...Value) Value     { return Value{Type: TypeList, List: items} }

// Lookup returns the first field with the given number.
func (v Value) Lookup(number uint32) (Value, bool) {
	for _, f := range v.Message {
		if f.Number == number {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Encode serializes v.
func Encode(v Value) ([]byte, error) {
	return appendValue(nil, v)
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	buf = append(buf, byte(v.Type))

	switch v.Type {
	case TypeString:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.String)))
		buf = append(buf, v.String...)

	case TypeFloat64:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float64))

	case TypeUint64:
		buf = binary.LittleEndian.AppendUint64(buf, v.Uint64)

	case TypeBytes:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Bytes)))
		buf = append(buf, v.Bytes...)

	case TypeMessage:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Message)))
		for _, f := range v.Message {
			buf = binary.LittleEndian.AppendUint32(buf, f.Number)
			var err error
			if buf, err = appendValue(buf, f.Value); err != nil {
				return nil, err
			}
		}

	case TypeList:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.List)))
		for _, item := range v.List {
			var err error
			if buf, err = appendValue(buf, item); err != nil {
				return nil, err
			}
		}

	default:
		return nil, &EncodeError{Message: fmt.Sprintf("unknown type: %d", v.Type)}
	}
	return buf, nil
}

// Decode reads one value from data and returns it with the number of bytes consumed.
func Decode(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, &DecodeError{Message: "insufficient data"}
	}

	typ := TypeID(data[0])
	offset := 1

	switch typ {
	case TypeString, TypeBytes:
		raw, n, err := readSized(data[offset:])
		if err != nil {
			return Value{}, 0, err
		}
		if typ == TypeString {
			return String(string(raw)), offset + n, nil
		}
		return Bytes(append([]byte(nil), raw...)), offset + n, nil

	case TypeFloat64, TypeUint64:
		if len(data[offset:]) < 8 {
			return Value{}, 0, &DecodeError{Message: "insufficient data for 8-byte value"}
		}
		bits := binary.LittleEndian.Uint64(data[offset:])
		if typ == TypeFloat64 {
			return Float64(math.Float64frombits(bits)), offset + 8, nil
		}
		return Uint64(bits), offset + 8, nil

	case TypeMessage:
		count, err := readCount(data[offset:])
		if err != nil {
			return Value{}, 0, err
		}
		offset += 4
		fields := make([]Field, 0, min(count, len(data)))
		for i := 0; i < count; i++ {
			if len(data[offset:]) < 4 {
				return Value{}, 0, &DecodeError{Message: "insufficient data for field number"}
			}
			number := binary.LittleEndian.Uint32(data[offset:])
			offset += 4

			value, n, err := Decode(data[offset:])
			if err != nil {
				return Value{}, 0, err
			}
			fields = append(fields, Field{Number: number, Value: value})
			offset += n
		}
		return Value{Type: TypeMessage, Message: fields}, offset, nil

	case TypeList:
		count, err := readCount(data[offset:])
		if err != nil {
			return Value{}, 0, err
		}
		offset += 4
		items := make([]Value, 0, min(count, len(data)))
		for i := 0; i < count; i++ {
			value, n, err := Decode(data[offset:])
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, value)
			offset += n
		}
		return Value{Type: TypeList, List: items}, offset, nil

	default:
		return Value{}, 0, &DecodeError{Message: fmt.Sprintf("unknown type: %d", typ)}
	}
}

func readCount(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, &DecodeError{Message: "insufficient data for length"}
	}
	return int(binary.LittleEndian.Uint32(data)), nil
}

func readSized(data []byte) ([]byte, int, error) {
	length, err := readCount(data)
	if err != nil {
		return nil, 0, err
	}
	if len(data[4:]) < length {
		return nil, 0, &DecodeError{Message: "insufficient data for content"}
	}
	return data[4 : 4+length], 4 + length, nil
}
