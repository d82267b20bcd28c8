// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"fmt"
	"math"
	"slices"

	"github.com/absmach/jms/broker/wire"
	"github.com/absmach/jms/message"
	"google.golang.org/protobuf/encoding/protowire"
)

type fieldNum = protowire.Number

// Message fields.
const (
	fieldKind        fieldNum = 1
	fieldText        fieldNum = 2
	fieldBody        fieldNum = 3
	fieldEntry       fieldNum = 4
	fieldProperty    fieldNum = 5
	fieldCorrelation fieldNum = 6
	fieldType        fieldNum = 7
	fieldMessageID   fieldNum = 8
	fieldDestination fieldNum = 9
	fieldReplyTo     fieldNum = 10
	fieldCompression fieldNum = 11
	fieldPacked      fieldNum = 12
)

// Entry, property and destination fields.
const (
	fieldName   fieldNum = 1
	fieldValue  fieldNum = 2
	fieldNested fieldNum = 3
)

// TypedValue fields.
const (
	valueKind   fieldNum = 1
	valueString fieldNum = 2
	valueInt    fieldNum = 3
	valueFloat  fieldNum = 4
	valueDouble fieldNum = 5
	valueBinary fieldNum = 6
	valueBool   fieldNum = 7
	valueMap    fieldNum = 8
)

func appendVarintField(b []byte, num fieldNum, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num fieldNum, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num fieldNum, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, m *wire.Message, withPayload bool) []byte {
	b = appendVarintField(b, fieldKind, uint64(m.Kind))
	if withPayload {
		b = appendPayload(b, m)
	}
	for _, p := range m.Properties {
		entry := appendStringField(nil, fieldName, p.Name)
		entry = appendBytesField(entry, fieldValue, appendValue(nil, p.Value))
		b = appendBytesField(b, fieldProperty, entry)
	}
	if m.CorrelationID != nil {
		b = appendStringField(b, fieldCorrelation, *m.CorrelationID)
	}
	if m.Type != "" {
		b = appendStringField(b, fieldType, m.Type)
	}
	if m.MessageID != "" {
		b = appendStringField(b, fieldMessageID, m.MessageID)
	}
	if m.Destination != nil {
		b = appendBytesField(b, fieldDestination, appendDestination(nil, *m.Destination))
	}
	if m.ReplyTo != nil {
		b = appendBytesField(b, fieldReplyTo, appendDestination(nil, *m.ReplyTo))
	}
	return b
}

func appendPayload(b []byte, m *wire.Message) []byte {
	if m.Text != "" {
		b = appendStringField(b, fieldText, m.Text)
	}
	if len(m.Body) > 0 {
		b = appendBytesField(b, fieldBody, m.Body)
	}
	for _, f := range m.Fields {
		entry := appendStringField(nil, fieldName, f.Name)
		if f.Nested != nil {
			entry = appendBytesField(entry, fieldNested, appendMessage(nil, f.Nested, true))
		} else {
			entry = appendBytesField(entry, fieldValue, appendValue(nil, f.Value))
		}
		b = appendBytesField(b, fieldEntry, entry)
	}
	return b
}

func appendDestination(b []byte, d message.Destination) []byte {
	b = appendVarintField(b, fieldKind, uint64(d.Kind))
	return appendStringField(b, fieldName, d.Name)
}

func appendValue(b []byte, v message.TypedValue) []byte {
	b = appendVarintField(b, valueKind, uint64(v.Kind()))
	switch v.Kind() {
	case message.StringValue:
		s, _ := v.StringValue()
		b = appendStringField(b, valueString, s)
	case message.IntegerValue:
		i, _ := v.IntValue()
		b = appendVarintField(b, valueInt, protowire.EncodeZigZag(int64(i)))
	case message.LongValue:
		l, _ := v.LongValue()
		b = appendVarintField(b, valueInt, protowire.EncodeZigZag(l))
	case message.FloatValue:
		f, _ := v.FloatValue()
		b = protowire.AppendTag(b, valueFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	case message.DoubleValue:
		d, _ := v.DoubleValue()
		b = protowire.AppendTag(b, valueDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(d))
	case message.BinaryValue:
		bin, _ := v.BinaryValue()
		b = appendBytesField(b, valueBinary, bin)
	case message.BooleanValue:
		flag, _ := v.BoolValue()
		b = appendVarintField(b, valueBool, protowire.EncodeBool(flag))
	case message.MapValue:
		mm, _ := v.MapValue()
		b = appendBytesField(b, valueMap, appendMapBody(nil, mm.Body))
	}
	return b
}

// appendMapBody writes a TypedValue map body as entries, in name order.
func appendMapBody(b []byte, body map[string]message.TypedValue) []byte {
	names := make([]string, 0, len(body))
	for n := range body {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		entry := appendStringField(nil, fieldName, n)
		entry = appendBytesField(entry, fieldValue, appendValue(nil, body[n]))
		b = appendBytesField(b, fieldEntry, entry)
	}
	return b
}

// scan calls fn for every field. For varint and fixed fields n holds the value;
// for bytes fields raw holds the content, aliasing data.
func scan(data []byte, fn func(num fieldNum, typ protowire.Type, raw []byte, n uint64) error) error {
	for len(data) > 0 {
		num, typ, l := protowire.ConsumeTag(data)
		if l < 0 {
			return malformed(l)
		}
		data = data[l:]

		var (
			raw []byte
			n   uint64
		)
		switch typ {
		case protowire.VarintType:
			n, l = protowire.ConsumeVarint(data)
		case protowire.Fixed32Type:
			var v uint32
			v, l = protowire.ConsumeFixed32(data)
			n = uint64(v)
		case protowire.Fixed64Type:
			n, l = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			raw, l = protowire.ConsumeBytes(data)
		default:
			l = protowire.ConsumeFieldValue(num, typ, data)
		}
		if l < 0 {
			return malformed(l)
		}
		data = data[l:]
		if err := fn(num, typ, raw, n); err != nil {
			return err
		}
	}
	return nil
}

func malformed(code int) error {
	return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(code))
}

// parseMessage fills m from data. Fields it does not know are passed to extra when set.
func parseMessage(data []byte, m *wire.Message, extra func(num fieldNum, raw []byte, n uint64) error) error {
	return scan(data, func(num fieldNum, typ protowire.Type, raw []byte, n uint64) error {
		switch num {
		case fieldKind:
			m.Kind = message.Kind(n)
		case fieldText:
			m.Text = string(raw)
		case fieldBody:
			m.Body = bytes.Clone(raw)
		case fieldEntry:
			f, err := parseEntry(raw)
			if err != nil {
				return err
			}
			m.Fields = append(m.Fields, f)
		case fieldProperty:
			f, err := parseEntry(raw)
			if err != nil {
				return err
			}
			m.Properties = append(m.Properties, wire.Property{Name: f.Name, Value: f.Value})
		case fieldCorrelation:
			id := string(raw)
			m.CorrelationID = &id
		case fieldType:
			m.Type = string(raw)
		case fieldMessageID:
			m.MessageID = string(raw)
		case fieldDestination, fieldReplyTo:
			d, err := parseDestination(raw)
			if err != nil {
				return err
			}
			if num == fieldDestination {
				m.Destination = &d
			} else {
				m.ReplyTo = &d
			}
		default:
			if extra != nil {
				return extra(num, raw, n)
			}
		}
		return nil
	})
}

func parseEntry(data []byte) (wire.Field, error) {
	var f wire.Field
	err := scan(data, func(num fieldNum, typ protowire.Type, raw []byte, n uint64) error {
		switch num {
		case fieldName:
			f.Name = string(raw)
		case fieldValue:
			v, err := parseValue(raw)
			if err != nil {
				return err
			}
			f.Value = v
		case fieldNested:
			nested := &wire.Message{}
			if err := parseMessage(raw, nested, nil); err != nil {
				return err
			}
			f.Nested = nested
		}
		return nil
	})
	return f, err
}

func parseDestination(data []byte) (message.Destination, error) {
	var d message.Destination
	err := scan(data, func(num fieldNum, typ protowire.Type, raw []byte, n uint64) error {
		switch num {
		case fieldKind:
			d.Kind = message.DestinationKind(n)
		case fieldName:
			d.Name = string(raw)
		}
		return nil
	})
	if err != nil {
		return d, err
	}
	if !d.IsQueue() && !d.IsTopic() {
		return d, fmt.Errorf("%w: destination kind %d", ErrMalformed, d.Kind)
	}
	return d, nil
}

func parseValue(data []byte) (message.TypedValue, error) {
	var (
		kind message.ValueKind
		str  string
		num  uint64
		bin  []byte
		body map[string]message.TypedValue
	)
	err := scan(data, func(f fieldNum, typ protowire.Type, raw []byte, n uint64) error {
		switch f {
		case valueKind:
			kind = message.ValueKind(n)
		case valueString:
			str = string(raw)
		case valueInt, valueFloat, valueDouble, valueBool:
			num = n
		case valueBinary:
			bin = bytes.Clone(raw)
		case valueMap:
			body = map[string]message.TypedValue{}
			err := scan(raw, func(f fieldNum, typ protowire.Type, raw []byte, n uint64) error {
				if f != fieldEntry {
					return nil
				}
				e, err := parseEntry(raw)
				if err != nil {
					return err
				}
				body[e.Name] = e.Value
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return message.TypedValue{}, err
	}

	switch kind {
	case message.StringValue:
		return message.String(str), nil
	case message.IntegerValue:
		return message.Integer(int32(protowire.DecodeZigZag(num))), nil
	case message.LongValue:
		return message.Long(protowire.DecodeZigZag(num)), nil
	case message.FloatValue:
		return message.Float(math.Float32frombits(uint32(num))), nil
	case message.DoubleValue:
		return message.Double(math.Float64frombits(num)), nil
	case message.BinaryValue:
		return message.Binary(bin), nil
	case message.BooleanValue:
		return message.Boolean(protowire.DecodeBool(num)), nil
	case message.MapValue:
		return message.Map(&message.MapMessage{Body: body}), nil
	default:
		return message.TypedValue{}, fmt.Errorf("%w: value kind %d", ErrMalformed, kind)
	}
}
