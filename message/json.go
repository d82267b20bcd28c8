// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"encoding/base64"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// JSON forms are externally tagged: a TypedValue is {"String":"x"}, a Destination is
// {"Queue":"q"} and a Message is {"TextMessage":{"body":...,"header":...}}. Byte
// fields are arrays of numbers. A Map value carries its whole nested message, and
// absent envelope fields are null.

// MarshalJSON encodes the value as a single-entry object keyed by its variant.
func (v TypedValue) MarshalJSON() ([]byte, error) {
	var inner any
	switch v.kind {
	case StringValue:
		inner = v.str
	case IntegerValue, LongValue:
		inner = v.num
	case FloatValue:
		inner = v.f32
	case DoubleValue:
		inner = v.f64
	case BinaryValue:
		inner = byteArray(v.bin)
	case BooleanValue:
		inner = v.flag
	case MapValue:
		m := v.m
		if m == nil {
			m = NewMap()
		}
		doc, err := newDocument(m)
		if err != nil {
			return nil, err
		}
		inner = doc
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, v.kind)
	}
	return json.Marshal(map[string]any{v.kind.String(): inner})
}

// UnmarshalJSON decodes a single-entry object keyed by the variant name.
func (v *TypedValue) UnmarshalJSON(input []byte) error {
	tag, val, err := single(input)
	if err != nil {
		return err
	}
	switch tag {
	case "String":
		if val.Type != gjson.String {
			return fmt.Errorf("%w: String holds %s", ErrConversion, val.Type)
		}
		*v = String(val.String())
	case "Integer":
		i, err := strconv.ParseInt(val.Raw, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConversion, err)
		}
		*v = Integer(int32(i))
	case "Long":
		l, err := strconv.ParseInt(val.Raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConversion, err)
		}
		*v = Long(l)
	case "Float":
		f, err := strconv.ParseFloat(val.Raw, 32)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConversion, err)
		}
		*v = Float(float32(f))
	case "Double":
		d, err := strconv.ParseFloat(val.Raw, 64)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConversion, err)
		}
		*v = Double(d)
	case "Binary":
		var b byteArray
		if err := b.UnmarshalJSON([]byte(val.Raw)); err != nil {
			return err
		}
		*v = Binary(b)
	case "Boolean":
		if !val.IsBool() {
			return fmt.Errorf("%w: Boolean holds %s", ErrConversion, val.Type)
		}
		*v = Boolean(val.Bool())
	case "Map":
		if !val.IsObject() {
			return fmt.Errorf("%w: Map holds %s", ErrConversion, val.Type)
		}
		var doc document
		if err := json.Unmarshal([]byte(val.Raw), &doc); err != nil {
			return err
		}
		m, err := doc.decode(MapKind)
		if err != nil {
			return err
		}
		*v = Map(m.(*MapMessage))
	default:
		return fmt.Errorf("%w: value variant %q", ErrUnknownKind, tag)
	}
	return nil
}

// MarshalJSON encodes the destination as {"Queue":name} or {"Topic":name}.
func (d Destination) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case QueueKind:
		return json.Marshal(map[string]string{"Queue": d.Name})
	case TopicKind:
		return json.Marshal(map[string]string{"Topic": d.Name})
	default:
		return nil, fmt.Errorf("%w: destination kind %d", ErrUnknownKind, d.Kind)
	}
}

// UnmarshalJSON decodes {"Queue":name} or {"Topic":name}.
func (d *Destination) UnmarshalJSON(input []byte) error {
	tag, val, err := single(input)
	if err != nil {
		return err
	}
	switch tag {
	case "Queue":
		*d = Queue(val.String())
	case "Topic":
		*d = Topic(val.String())
	default:
		return fmt.Errorf("%w: destination %q", ErrUnknownKind, tag)
	}
	return nil
}

// byteArray is a byte slice in its JSON array form, [1,2,3]. Decoding also
// accepts null and base64 strings.
type byteArray []byte

func (b byteArray) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+4*len(b))
	out = append(out, '[')
	for i, c := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(c), 10)
	}
	return append(out, ']'), nil
}

func (b *byteArray) UnmarshalJSON(input []byte) error {
	if !gjson.ValidBytes(input) {
		return fmt.Errorf("invalid json: %s", input)
	}
	jv := gjson.ParseBytes(input)
	switch {
	case jv.Type == gjson.Null:
		*b = nil
	case jv.Type == gjson.String:
		data, err := base64.StdEncoding.DecodeString(jv.String())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConversion, err)
		}
		*b = data
	case jv.IsArray():
		elems := jv.Array()
		data := make([]byte, 0, len(elems))
		for _, e := range elems {
			if e.Type != gjson.Number {
				return fmt.Errorf("%w: byte holds %s", ErrConversion, e.Type)
			}
			n, err := strconv.ParseUint(e.Raw, 10, 8)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrConversion, err)
			}
			data = append(data, byte(n))
		}
		*b = data
	default:
		return fmt.Errorf("%w: bytes hold %s", ErrConversion, jv.Type)
	}
	return nil
}

// document is the body of one message kind. The pointer field mirrors the
// native handle slot and is always written as null.
type document struct {
	Body        json.RawMessage       `json:"body"`
	Header      map[string]TypedValue `json:"header"`
	Destination *Destination          `json:"destination"`
	ReplyTo     *Destination          `json:"reply_to"`
	Pointer     *uint64               `json:"pointer"`
}

func newDocument(m Message) (document, error) {
	var body any
	switch t := m.(type) {
	case *TextMessage:
		body = t.Body
	case *BytesMessage:
		body = byteArray(t.Body)
	case *MapMessage:
		b := t.Body
		if b == nil {
			b = map[string]TypedValue{}
		}
		body = b
	case *ObjectMessage:
		body = byteArray(t.Body)
	default:
		return document{}, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return document{}, err
	}
	e := m.Base()
	return document{
		Body:        raw,
		Header:      e.Header,
		Destination: e.Destination,
		ReplyTo:     e.ReplyTo,
	}, nil
}

func (doc document) decode(kind Kind) (Message, error) {
	var m Message
	switch kind {
	case TextKind:
		t := &TextMessage{}
		if err := doc.body(&t.Body); err != nil {
			return nil, err
		}
		m = t
	case BytesKind:
		var b byteArray
		if err := doc.body(&b); err != nil {
			return nil, err
		}
		m = &BytesMessage{Body: b}
	case MapKind:
		mm := NewMap()
		if err := doc.body(&mm.Body); err != nil {
			return nil, err
		}
		if mm.Body == nil {
			mm.Body = map[string]TypedValue{}
		}
		m = mm
	case ObjectKind:
		var b byteArray
		if err := doc.body(&b); err != nil {
			return nil, err
		}
		m = &ObjectMessage{Body: b}
	default:
		return nil, fmt.Errorf("%w: message kind %s", ErrUnknownKind, kind)
	}
	e := m.Base()
	e.Header = doc.Header
	e.Destination = doc.Destination
	e.ReplyTo = doc.ReplyTo
	return m, nil
}

// body decodes the body into v. A missing or null body leaves v unchanged.
func (doc document) body(v any) error {
	if len(doc.Body) == 0 || string(doc.Body) == "null" {
		return nil
	}
	return json.Unmarshal(doc.Body, v)
}

var kindsByName = map[string]Kind{
	TextKind.String():   TextKind,
	BytesKind.String():  BytesKind,
	MapKind.String():    MapKind,
	ObjectKind.String(): ObjectKind,
}

// MarshalMessage encodes m in its JSON form. The native handle is not part of it.
func MarshalMessage(m Message) ([]byte, error) {
	doc, err := newDocument(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]document{m.Kind().String(): doc})
}

// UnmarshalMessage decodes a message from its JSON form.
func UnmarshalMessage(input []byte) (Message, error) {
	var docs map[string]document
	if err := json.Unmarshal(input, &docs); err != nil {
		return nil, err
	}
	if len(docs) != 1 {
		return nil, fmt.Errorf("message must have exactly one kind, got %d", len(docs))
	}
	for name, doc := range docs {
		kind, ok := kindsByName[name]
		if !ok {
			return nil, fmt.Errorf("%w: message %q", ErrUnknownKind, name)
		}
		return doc.decode(kind)
	}
	return nil, nil
}

func single(input []byte) (string, gjson.Result, error) {
	if !gjson.ValidBytes(input) {
		return "", gjson.Result{}, fmt.Errorf("invalid json: %s", input)
	}
	jv := gjson.ParseBytes(input)
	if !jv.IsObject() {
		return "", gjson.Result{}, fmt.Errorf("expected a single-entry object: %s", input)
	}
	var (
		tag string
		val gjson.Result
		n   int
	)
	jv.ForEach(func(k, v gjson.Result) bool {
		tag, val = k.String(), v
		n++
		return true
	})
	if n != 1 {
		return "", gjson.Result{}, fmt.Errorf("expected exactly one entry, got %d", n)
	}
	return tag, val, nil
}
