// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wire holds the collaborator-side representation of messages and
// destinations, and the reference table that hands them out as opaque ids.
package wire

import (
	"bytes"

	"github.com/absmach/jms/message"
)

// Message is the collaborator-side form of a message.
type Message struct {
	Kind message.Kind
	Text string
	// Body holds the payload of bytes and object messages.
	Body []byte
	// Fields holds map entries in insertion order.
	Fields []Field
	// Properties are kept in insertion order.
	Properties    []Property
	CorrelationID *string
	Type          string
	MessageID     string
	Destination   *message.Destination
	ReplyTo       *message.Destination
}

// Field is a map entry. Exactly one of Value and Nested is set.
type Field struct {
	Name   string
	Value  message.TypedValue
	Nested *Message
}

// Property is a named header value.
type Property struct {
	Name  string
	Value message.TypedValue
}

// New returns an empty message of the given kind.
func New(kind message.Kind) *Message {
	return &Message{Kind: kind}
}

// Field returns the map entry with the given name.
func (m *Message) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SetField stores a map entry, replacing an existing entry with the same name in place.
func (m *Message) SetField(f Field) {
	for i := range m.Fields {
		if m.Fields[i].Name == f.Name {
			m.Fields[i] = f
			return
		}
	}
	m.Fields = append(m.Fields, f)
}

// Property returns the property with the given name.
func (m *Message) Property(name string) (message.TypedValue, bool) {
	for _, p := range m.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return message.TypedValue{}, false
}

// SetProperty stores a property, replacing an existing one with the same name in place.
func (m *Message) SetProperty(name string, v message.TypedValue) {
	for i := range m.Properties {
		if m.Properties[i].Name == name {
			m.Properties[i].Value = v
			return
		}
	}
	m.Properties = append(m.Properties, Property{Name: name, Value: v})
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := &Message{
		Kind:        m.Kind,
		Text:        m.Text,
		Type:        m.Type,
		MessageID:   m.MessageID,
		Destination: cloneDest(m.Destination),
		ReplyTo:     cloneDest(m.ReplyTo),
	}
	if m.Body != nil {
		c.Body = bytes.Clone(m.Body)
	}
	if m.CorrelationID != nil {
		id := *m.CorrelationID
		c.CorrelationID = &id
	}
	if len(m.Fields) > 0 {
		c.Fields = make([]Field, len(m.Fields))
		for i, f := range m.Fields {
			c.Fields[i] = Field{Name: f.Name, Value: f.Value.Clone(), Nested: f.Nested.Clone()}
		}
	}
	if len(m.Properties) > 0 {
		c.Properties = make([]Property, len(m.Properties))
		for i, p := range m.Properties {
			c.Properties[i] = Property{Name: p.Name, Value: p.Value.Clone()}
		}
	}
	return c
}

func cloneDest(d *message.Destination) *message.Destination {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
