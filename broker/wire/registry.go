// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"sync"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/message"
)

// Counts reports live caller-owned references.
type Counts struct {
	Messages     int
	Destinations int
}

type msgEntry struct {
	msg *Message
	// owner is set for borrowed references, which live as long as their owner.
	owner    broker.MsgRef
	borrowed []uint64
}

type destEntry struct {
	dest  message.Destination
	owner broker.MsgRef
}

// Registry is the reference table for messages and destinations.
// It implements broker.Destinations and every broker.Messages call except
// Acknowledge and Recover, which depend on the delivery path.
type Registry struct {
	mu    sync.Mutex
	next  uint64
	msgs  map[broker.MsgRef]*msgEntry
	dests map[broker.DestRef]*destEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		msgs:  make(map[broker.MsgRef]*msgEntry),
		dests: make(map[broker.DestRef]*destEntry),
	}
}

func (r *Registry) id() uint64 {
	r.next++
	return r.next
}

// Register takes ownership of m and returns a caller-owned reference to it.
func (r *Registry) Register(m *Message) broker.MsgRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := broker.MsgRef(r.id())
	r.msgs[ref] = &msgEntry{msg: m}
	return ref
}

// Snapshot returns a deep copy of the referenced message.
func (r *Registry) Snapshot(ref broker.MsgRef) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return nil, err
	}
	return e.msg.Clone(), nil
}

// Update runs fn on the referenced message under the registry lock.
func (r *Registry) Update(ref broker.MsgRef, fn func(*Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return err
	}
	fn(e.msg)
	return nil
}

// RegisterDestination returns a caller-owned reference to d.
func (r *Registry) RegisterDestination(d message.Destination) broker.DestRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := broker.DestRef(r.id())
	r.dests[ref] = &destEntry{dest: d}
	return ref
}

// Outstanding counts caller-owned references that were not released yet.
func (r *Registry) Outstanding() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	var c Counts
	for _, e := range r.msgs {
		if e.owner == 0 {
			c.Messages++
		}
	}
	for _, e := range r.dests {
		if e.owner == 0 {
			c.Destinations++
		}
	}
	return c
}

func (r *Registry) msg(ref broker.MsgRef) (*msgEntry, error) {
	e, ok := r.msgs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: message %d", broker.ErrInvalidRef, ref)
	}
	return e, nil
}

func (r *Registry) ofKind(ref broker.MsgRef, kind message.Kind) (*Message, error) {
	e, err := r.msg(ref)
	if err != nil {
		return nil, err
	}
	if e.msg.Kind != kind {
		return nil, fmt.Errorf("%w: %s is not a %s", broker.ErrConversion, e.msg.Kind, kind)
	}
	return e.msg, nil
}

func (r *Registry) borrowMessage(owner broker.MsgRef, m *Message) broker.MsgRef {
	ref := broker.MsgRef(r.id())
	r.msgs[ref] = &msgEntry{msg: m, owner: owner}
	r.msgs[owner].borrowed = append(r.msgs[owner].borrowed, uint64(ref))
	return ref
}

func (r *Registry) borrowDestination(owner broker.MsgRef, d *message.Destination) broker.DestRef {
	if d == nil {
		return 0
	}
	ref := broker.DestRef(r.id())
	r.dests[ref] = &destEntry{dest: *d, owner: owner}
	r.msgs[owner].borrowed = append(r.msgs[owner].borrowed, uint64(ref))
	return ref
}

func (r *Registry) drop(ref broker.MsgRef) {
	e, ok := r.msgs[ref]
	if !ok {
		return
	}
	delete(r.msgs, ref)
	for _, id := range e.borrowed {
		if _, ok := r.dests[broker.DestRef(id)]; ok {
			delete(r.dests, broker.DestRef(id))
			continue
		}
		r.drop(broker.MsgRef(id))
	}
}

// CreateDestination returns a caller-owned destination reference.
func (r *Registry) CreateDestination(kind message.DestinationKind, name string) (broker.DestRef, error) {
	switch kind {
	case message.QueueKind, message.TopicKind:
	default:
		return 0, fmt.Errorf("%w: destination kind %d", broker.ErrUnsupported, kind)
	}
	if name == "" {
		return 0, fmt.Errorf("%w: empty destination name", broker.ErrRejected)
	}
	return r.RegisterDestination(message.Destination{Kind: kind, Name: name}), nil
}

// DestroyDestination releases a caller-owned destination reference.
func (r *Registry) DestroyDestination(ref broker.DestRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.dests[ref]
	if !ok {
		return fmt.Errorf("%w: destination %d", broker.ErrInvalidRef, ref)
	}
	if e.owner != 0 {
		return fmt.Errorf("%w: destination %d is borrowed from message %d", broker.ErrIllegalState, ref, e.owner)
	}
	delete(r.dests, ref)
	return nil
}

// DestinationInfo resolves a destination reference.
func (r *Registry) DestinationInfo(ref broker.DestRef) (message.Destination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.dests[ref]
	if !ok {
		return message.Destination{}, fmt.Errorf("%w: destination %d", broker.ErrInvalidRef, ref)
	}
	return e.dest, nil
}

// CreateMessage returns a caller-owned empty message.
func (r *Registry) CreateMessage(kind message.Kind) (broker.MsgRef, error) {
	switch kind {
	case message.TextKind, message.BytesKind, message.MapKind, message.ObjectKind:
	default:
		return 0, fmt.Errorf("%w: message kind %d", broker.ErrUnsupported, kind)
	}
	return r.Register(New(kind)), nil
}

// DestroyMessage releases a caller-owned message with every reference borrowed from it.
func (r *Registry) DestroyMessage(ref broker.MsgRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return err
	}
	if e.owner != 0 {
		return fmt.Errorf("%w: message %d is borrowed from message %d", broker.ErrIllegalState, ref, e.owner)
	}
	r.drop(ref)
	return nil
}

func (r *Registry) BodyKind(ref broker.MsgRef) (message.Kind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return 0, err
	}
	return e.msg.Kind, nil
}

func (r *Registry) SetText(ref broker.MsgRef, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.ofKind(ref, message.TextKind)
	if err != nil {
		return err
	}
	m.Text = text
	return nil
}

func (r *Registry) Text(ref broker.MsgRef) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.ofKind(ref, message.TextKind)
	if err != nil {
		return "", err
	}
	return m.Text, nil
}

func (r *Registry) SetBytes(ref broker.MsgRef, b []byte) error {
	return r.setBody(ref, message.BytesKind, b)
}

func (r *Registry) Bytes(ref broker.MsgRef) ([]byte, error) {
	return r.body(ref, message.BytesKind)
}

func (r *Registry) SetObjectBytes(ref broker.MsgRef, b []byte) error {
	return r.setBody(ref, message.ObjectKind, b)
}

func (r *Registry) ObjectBytes(ref broker.MsgRef) ([]byte, error) {
	return r.body(ref, message.ObjectKind)
}

func (r *Registry) setBody(ref broker.MsgRef, kind message.Kind, b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.ofKind(ref, kind)
	if err != nil {
		return err
	}
	m.Body = append([]byte(nil), b...)
	return nil
}

func (r *Registry) body(ref broker.MsgRef, kind message.Kind) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.ofKind(ref, kind)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), m.Body...), nil
}

// SetMapValue stores a primitive map entry.
func (r *Registry) SetMapValue(ref broker.MsgRef, name string, v message.TypedValue) error {
	switch v.Kind() {
	case message.MapValue, message.InvalidValue:
		return fmt.Errorf("%w: %s map entry %q", broker.ErrUnsupported, v.Kind(), name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.ofKind(ref, message.MapKind)
	if err != nil {
		return err
	}
	m.SetField(Field{Name: name, Value: v.Clone()})
	return nil
}

// SetMapMessage stores a copy of child under name.
func (r *Registry) SetMapMessage(ref broker.MsgRef, name string, child broker.MsgRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.ofKind(ref, message.MapKind)
	if err != nil {
		return err
	}
	c, err := r.ofKind(child, message.MapKind)
	if err != nil {
		return err
	}
	m.SetField(Field{Name: name, Nested: c.Clone()})
	return nil
}

func (r *Registry) MapNames(ref broker.MsgRef) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.ofKind(ref, message.MapKind)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names, nil
}

// MapValue returns a primitive map entry.
func (r *Registry) MapValue(ref broker.MsgRef, name string) (message.TypedValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.ofKind(ref, message.MapKind)
	if err != nil {
		return message.TypedValue{}, err
	}
	f, ok := m.Field(name)
	if !ok {
		return message.TypedValue{}, fmt.Errorf("%w: map entry %q", broker.ErrNotFound, name)
	}
	if f.Nested != nil {
		return message.TypedValue{}, fmt.Errorf("%w: map entry %q is a nested message", broker.ErrConversion, name)
	}
	return f.Value.Clone(), nil
}

// MapMessage returns a borrowed reference to a nested map entry.
func (r *Registry) MapMessage(ref broker.MsgRef, name string) (broker.MsgRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.ofKind(ref, message.MapKind)
	if err != nil {
		return 0, err
	}
	f, ok := m.Field(name)
	if !ok {
		return 0, fmt.Errorf("%w: map entry %q", broker.ErrNotFound, name)
	}
	if f.Nested == nil {
		return 0, fmt.Errorf("%w: map entry %q is a %s", broker.ErrConversion, name, f.Value.Kind())
	}
	return r.borrowMessage(ref, f.Nested), nil
}

// SetProperty stores a header property. Binary and Map values cannot be properties.
func (r *Registry) SetProperty(ref broker.MsgRef, name string, v message.TypedValue) error {
	switch v.Kind() {
	case message.MapValue, message.BinaryValue, message.InvalidValue:
		return fmt.Errorf("%w: %s property %q", broker.ErrUnsupported, v.Kind(), name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return err
	}
	e.msg.SetProperty(name, v)
	return nil
}

func (r *Registry) PropertyNames(ref broker.MsgRef) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(e.msg.Properties))
	for i, p := range e.msg.Properties {
		names[i] = p.Name
	}
	return names, nil
}

func (r *Registry) Property(ref broker.MsgRef, name string) (message.TypedValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return message.TypedValue{}, err
	}
	v, ok := e.msg.Property(name)
	if !ok {
		return message.TypedValue{}, fmt.Errorf("%w: property %q", broker.ErrNotFound, name)
	}
	return v, nil
}

func (r *Registry) SetCorrelationID(ref broker.MsgRef, id string) error {
	return r.Update(ref, func(m *Message) {
		m.CorrelationID = &id
	})
}

func (r *Registry) CorrelationID(ref broker.MsgRef) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return "", false, err
	}
	if e.msg.CorrelationID == nil {
		return "", false, nil
	}
	return *e.msg.CorrelationID, true, nil
}

func (r *Registry) SetType(ref broker.MsgRef, typ string) error {
	return r.Update(ref, func(m *Message) {
		m.Type = typ
	})
}

func (r *Registry) Type(ref broker.MsgRef) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return "", err
	}
	return e.msg.Type, nil
}

func (r *Registry) MessageID(ref broker.MsgRef) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return "", err
	}
	return e.msg.MessageID, nil
}

// SetReplyTo sets the reply destination. A zero dest clears it.
func (r *Registry) SetReplyTo(ref broker.MsgRef, dest broker.DestRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return err
	}
	if dest == 0 {
		e.msg.ReplyTo = nil
		return nil
	}
	d, ok := r.dests[dest]
	if !ok {
		return fmt.Errorf("%w: destination %d", broker.ErrInvalidRef, dest)
	}
	rt := d.dest
	e.msg.ReplyTo = &rt
	return nil
}

// ReplyTo returns a borrowed reference to the reply destination.
func (r *Registry) ReplyTo(ref broker.MsgRef) (broker.DestRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return 0, err
	}
	return r.borrowDestination(ref, e.msg.ReplyTo), nil
}

// Destination returns a borrowed reference to the delivery destination.
func (r *Registry) Destination(ref broker.MsgRef) (broker.DestRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.msg(ref)
	if err != nil {
		return 0, err
	}
	return r.borrowDestination(ref, e.msg.Destination), nil
}
