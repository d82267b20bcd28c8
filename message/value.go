// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"bytes"
	"fmt"
	"strconv"
)

// ValueKind identifies the variant held by a TypedValue.
type ValueKind uint8

// Value kinds. The zero value is reserved for an unset TypedValue.
const (
	InvalidValue ValueKind = iota
	StringValue
	IntegerValue
	LongValue
	FloatValue
	DoubleValue
	BinaryValue
	BooleanValue
	MapValue
)

var valueKindNames = [...]string{
	InvalidValue: "Invalid",
	StringValue:  "String",
	IntegerValue: "Integer",
	LongValue:    "Long",
	FloatValue:   "Float",
	DoubleValue:  "Double",
	BinaryValue:  "Binary",
	BooleanValue: "Boolean",
	MapValue:     "Map",
}

// String returns the variant name.
func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return "Unknown"
}

// TypedValue is a tagged value used for header entries and map message bodies.
// The Map variant points at a nested MapMessage, so values nest to any depth.
type TypedValue struct {
	kind ValueKind
	str  string
	num  int64
	f32  float32
	f64  float64
	bin  []byte
	flag bool
	m    *MapMessage
}

// String creates a String value.
func String(s string) TypedValue {
	return TypedValue{kind: StringValue, str: s}
}

// Integer creates a 32-bit Integer value.
func Integer(i int32) TypedValue {
	return TypedValue{kind: IntegerValue, num: int64(i)}
}

// Long creates a 64-bit Long value.
func Long(l int64) TypedValue {
	return TypedValue{kind: LongValue, num: l}
}

// Float creates a 32-bit Float value.
func Float(f float32) TypedValue {
	return TypedValue{kind: FloatValue, f32: f}
}

// Double creates a 64-bit Double value.
func Double(d float64) TypedValue {
	return TypedValue{kind: DoubleValue, f64: d}
}

// Binary creates a Binary value. The slice is not copied.
func Binary(b []byte) TypedValue {
	return TypedValue{kind: BinaryValue, bin: b}
}

// Boolean creates a Boolean value.
func Boolean(b bool) TypedValue {
	return TypedValue{kind: BooleanValue, flag: b}
}

// Map creates a Map value holding a nested map message body.
// A nil message is treated as an empty body.
func Map(m *MapMessage) TypedValue {
	if m == nil {
		m = &MapMessage{}
	}
	return TypedValue{kind: MapValue, m: m}
}

// Kind returns the variant of the value.
func (v TypedValue) Kind() ValueKind {
	return v.kind
}

// IsValid reports whether the value was built by one of the constructors.
func (v TypedValue) IsValid() bool {
	return v.kind != InvalidValue
}

// StringValue returns the string held by a String value.
func (v TypedValue) StringValue() (string, error) {
	if v.kind != StringValue {
		return "", v.mismatch(StringValue)
	}
	return v.str, nil
}

// IntValue returns the integer held by an Integer value.
func (v TypedValue) IntValue() (int32, error) {
	if v.kind != IntegerValue {
		return 0, v.mismatch(IntegerValue)
	}
	return int32(v.num), nil
}

// LongValue returns the integer held by a Long value.
func (v TypedValue) LongValue() (int64, error) {
	if v.kind != LongValue {
		return 0, v.mismatch(LongValue)
	}
	return v.num, nil
}

// FloatValue returns the number held by a Float value.
func (v TypedValue) FloatValue() (float32, error) {
	if v.kind != FloatValue {
		return 0, v.mismatch(FloatValue)
	}
	return v.f32, nil
}

// DoubleValue returns the number held by a Double value.
func (v TypedValue) DoubleValue() (float64, error) {
	if v.kind != DoubleValue {
		return 0, v.mismatch(DoubleValue)
	}
	return v.f64, nil
}

// BinaryValue returns the bytes held by a Binary value.
func (v TypedValue) BinaryValue() ([]byte, error) {
	if v.kind != BinaryValue {
		return nil, v.mismatch(BinaryValue)
	}
	return v.bin, nil
}

// BoolValue returns the flag held by a Boolean value.
func (v TypedValue) BoolValue() (bool, error) {
	if v.kind != BooleanValue {
		return false, v.mismatch(BooleanValue)
	}
	return v.flag, nil
}

// MapValue returns the nested map message held by a Map value.
func (v TypedValue) MapValue() (*MapMessage, error) {
	if v.kind != MapValue {
		return nil, v.mismatch(MapValue)
	}
	return v.m, nil
}

func (v TypedValue) mismatch(want ValueKind) error {
	return fmt.Errorf("%w: want %s, have %s", ErrConversion, want, v.kind)
}

// Equal reports whether two values hold the same variant and content.
// Nested maps are compared by body only.
func (v TypedValue) Equal(o TypedValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case StringValue:
		return v.str == o.str
	case IntegerValue, LongValue:
		return v.num == o.num
	case FloatValue:
		return v.f32 == o.f32
	case DoubleValue:
		return v.f64 == o.f64
	case BinaryValue:
		return bytes.Equal(v.bin, o.bin)
	case BooleanValue:
		return v.flag == o.flag
	case MapValue:
		return BodyEqual(v.m.Body, o.m.Body)
	default:
		return true
	}
}

// Clone returns a deep copy of the value.
func (v TypedValue) Clone() TypedValue {
	switch v.kind {
	case BinaryValue:
		if v.bin != nil {
			v.bin = bytes.Clone(v.bin)
		}
	case MapValue:
		v.m = &MapMessage{Body: CloneBody(v.m.Body)}
	}
	return v
}

// String renders the value for display.
func (v TypedValue) String() string {
	switch v.kind {
	case StringValue:
		return v.str
	case IntegerValue, LongValue:
		return strconv.FormatInt(v.num, 10)
	case FloatValue:
		return strconv.FormatFloat(float64(v.f32), 'g', -1, 32)
	case DoubleValue:
		return strconv.FormatFloat(v.f64, 'g', -1, 64)
	case BinaryValue:
		return fmt.Sprint(v.bin)
	case BooleanValue:
		return strconv.FormatBool(v.flag)
	case MapValue:
		return fmt.Sprint(v.m.Body)
	default:
		return "<invalid>"
	}
}

// BodyEqual compares two header or map bodies entry by entry.
func BodyEqual(a, b map[string]TypedValue) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !av.Equal(bv) {
			return false
		}
	}
	return true
}

// CloneBody deep copies a header or map body. A nil body stays nil.
func CloneBody(src map[string]TypedValue) map[string]TypedValue {
	if src == nil {
		return nil
	}
	dst := make(map[string]TypedValue, len(src))
	for k, v := range src {
		dst[k] = v.Clone()
	}
	return dst
}
