// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"bytes"
	"runtime"
	"sync"
)

// Well-known header names.
const (
	HeaderMessageID     = "MessageID"
	HeaderCorrelationID = "CorrelationID"
	HeaderType          = "JMSType"
	// HeaderCompress requests body compression on transports that support it.
	HeaderCompress = "JMS_COMPRESS"
	HeaderSpanID   = "spanId"
	HeaderTraceID  = "traceId"
)

// Kind identifies the payload shape of a Message.
type Kind uint8

// Message kinds.
const (
	TextKind Kind = iota + 1
	BytesKind
	MapKind
	ObjectKind
)

// String returns the message type name.
func (k Kind) String() string {
	switch k {
	case TextKind:
		return "TextMessage"
	case BytesKind:
		return "BytesMessage"
	case MapKind:
		return "MapMessage"
	case ObjectKind:
		return "ObjectMessage"
	default:
		return "UnknownMessage"
	}
}

// Message is one of *TextMessage, *BytesMessage, *MapMessage or *ObjectMessage.
type Message interface {
	// Kind returns the payload shape.
	Kind() Kind
	// Base returns the fields shared by every message kind.
	Base() *Envelope
	// Clone returns a deep copy that never carries the native handle.
	Clone() Message
	// Confirm acknowledges a delivered message. No-op without a handle.
	Confirm() error
	// Rollback asks the broker to redeliver a delivered message. No-op without a handle.
	Rollback() error
	// Destroy releases the native handle. Safe to call more than once.
	Destroy() error
}

// Handle is the broker-side resource a delivered message was decoded from.
type Handle interface {
	Acknowledge() error
	Recover() error
	Release() error
}

// Envelope holds the fields shared by every message kind.
type Envelope struct {
	// Header holds named typed values. Nil means the message has no header.
	Header map[string]TypedValue
	// Destination is where the message was delivered.
	Destination *Destination
	// ReplyTo is the correlation target for replies.
	ReplyTo *Destination

	handle *owned
}

// Base returns e.
func (e *Envelope) Base() *Envelope {
	return e
}

// HasHandle reports whether the message still owns a native handle.
func (e *Envelope) HasHandle() bool {
	return e.handle != nil
}

// SetHeader stores a header entry, creating the header on first use.
func (e *Envelope) SetHeader(name string, v TypedValue) {
	if e.Header == nil {
		e.Header = make(map[string]TypedValue)
	}
	e.Header[name] = v
}

// HeaderValue returns a header entry.
func (e *Envelope) HeaderValue(name string) (TypedValue, bool) {
	v, ok := e.Header[name]
	return v, ok
}

// Confirm acknowledges the message through its handle.
func (e *Envelope) Confirm() error {
	if e.handle == nil {
		return nil
	}
	return e.handle.h.Acknowledge()
}

// Rollback recovers the message through its handle.
func (e *Envelope) Rollback() error {
	if e.handle == nil {
		return nil
	}
	return e.handle.h.Recover()
}

// Destroy releases the handle exactly once.
func (e *Envelope) Destroy() error {
	o := e.handle
	if o == nil {
		return nil
	}
	e.handle = nil
	return o.release()
}

func (e *Envelope) clone() Envelope {
	return Envelope{
		Header:      CloneBody(e.Header),
		Destination: cloneDestination(e.Destination),
		ReplyTo:     cloneDestination(e.ReplyTo),
	}
}

// owned guards a Handle so that it is released once, whether by Destroy or by the
// runtime cleanup registered in Attach.
type owned struct {
	h    Handle
	once sync.Once
	err  error
}

func (o *owned) release() error {
	o.once.Do(func() {
		o.err = o.h.Release()
	})
	return o.err
}

func releaseOwned(o *owned) {
	_ = o.release()
}

// Attach hands ownership of h to m. The handle is released on m.Destroy, or when m
// becomes unreachable if Destroy was never called. Any handle m held before is released.
func Attach(m Message, h Handle) {
	if m == nil || h == nil {
		return
	}
	e := m.Base()
	_ = e.Destroy()
	o := &owned{h: h}
	e.handle = o
	switch t := m.(type) {
	case *TextMessage:
		runtime.AddCleanup(t, releaseOwned, o)
	case *BytesMessage:
		runtime.AddCleanup(t, releaseOwned, o)
	case *MapMessage:
		runtime.AddCleanup(t, releaseOwned, o)
	case *ObjectMessage:
		runtime.AddCleanup(t, releaseOwned, o)
	}
}

// TextMessage carries a string body.
type TextMessage struct {
	Envelope
	Body string
}

// NewText creates a text message.
func NewText(body string) *TextMessage {
	return &TextMessage{Body: body}
}

// Kind returns TextKind.
func (m *TextMessage) Kind() Kind { return TextKind }

// Clone returns a copy without the native handle.
func (m *TextMessage) Clone() Message {
	return &TextMessage{Envelope: m.Envelope.clone(), Body: m.Body}
}

// BytesMessage carries an opaque byte body.
type BytesMessage struct {
	Envelope
	Body []byte
}

// NewBytes creates a bytes message. The slice is not copied.
func NewBytes(body []byte) *BytesMessage {
	return &BytesMessage{Body: body}
}

// Kind returns BytesKind.
func (m *BytesMessage) Kind() Kind { return BytesKind }

// Clone returns a copy without the native handle.
func (m *BytesMessage) Clone() Message {
	return &BytesMessage{Envelope: m.Envelope.clone(), Body: cloneBytes(m.Body)}
}

// MapMessage carries named typed values. A MapMessage is also the body of a Map TypedValue.
type MapMessage struct {
	Envelope
	Body map[string]TypedValue
}

// NewMap creates a map message with an empty body.
func NewMap() *MapMessage {
	return &MapMessage{Body: make(map[string]TypedValue)}
}

// Kind returns MapKind.
func (m *MapMessage) Kind() Kind { return MapKind }

// Clone returns a copy without the native handle.
func (m *MapMessage) Clone() Message {
	return &MapMessage{Envelope: m.Envelope.clone(), Body: CloneBody(m.Body)}
}

// Set stores a body entry, creating the body on first use.
func (m *MapMessage) Set(name string, v TypedValue) *MapMessage {
	if m.Body == nil {
		m.Body = make(map[string]TypedValue)
	}
	m.Body[name] = v
	return m
}

// Get returns a body entry.
func (m *MapMessage) Get(name string) (TypedValue, bool) {
	v, ok := m.Body[name]
	return v, ok
}

// ObjectMessage carries a serialized object as bytes.
type ObjectMessage struct {
	Envelope
	Body []byte
}

// NewObject creates an object message. The slice is not copied.
func NewObject(body []byte) *ObjectMessage {
	return &ObjectMessage{Body: body}
}

// Kind returns ObjectKind.
func (m *ObjectMessage) Kind() Kind { return ObjectKind }

// Clone returns a copy without the native handle.
func (m *ObjectMessage) Clone() Message {
	return &ObjectMessage{Envelope: m.Envelope.clone(), Body: cloneBytes(m.Body)}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}
