// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker defines the collaborator surface a messaging client drives.
// Every reference handed out by a collaborator is an opaque id that the caller
// releases exactly once through the matching close/destroy/delete call.
package broker

import (
	"time"

	"github.com/absmach/jms/message"
)

// Reference ids. Zero never names a live resource.
type (
	ConnRef     uint64
	SessionRef  uint64
	ProducerRef uint64
	ConsumerRef uint64
	DestRef     uint64
	MsgRef      uint64
)

// AckMode is the acknowledge mode requested at session creation.
type AckMode uint8

// Acknowledge modes.
const (
	AutoAck AckMode = iota + 1
	ClientAck
	DupsOKAck
	// ExplicitClientAck acknowledges each message individually through Confirm.
	ExplicitClientAck
)

func (m AckMode) String() string {
	switch m {
	case AutoAck:
		return "auto"
	case ClientAck:
		return "client"
	case DupsOKAck:
		return "dups_ok"
	case ExplicitClientAck:
		return "explicit_client"
	default:
		return "unknown"
	}
}

// Broker is the full collaborator surface.
type Broker interface {
	Connector
	Sessions
	Destinations
	Messages
}

// Connector manages connections.
type Connector interface {
	Connect(url, user, password string) (ConnRef, error)
	Start(conn ConnRef) error
	ActiveURL(conn ConnRef) (string, error)
	CloseConnection(conn ConnRef) error
}

// Sessions manages sessions with their producers and consumers.
type Sessions interface {
	CreateSession(conn ConnRef, transacted bool, mode AckMode) (SessionRef, error)
	CloseSession(sess SessionRef) error

	// CreateProducer binds a producer to dest. A zero dest creates an unbound producer.
	CreateProducer(sess SessionRef, dest DestRef) (ProducerRef, error)
	CloseProducer(p ProducerRef) error

	CreateConsumer(sess SessionRef, dest DestRef, selector string, noLocal bool) (ConsumerRef, error)
	CreateSharedConsumer(sess SessionRef, dest DestRef, name, selector string) (ConsumerRef, error)
	CreateSharedDurableConsumer(sess SessionRef, dest DestRef, name, selector string) (ConsumerRef, error)
	CloseConsumer(c ConsumerRef) error

	CreateTemporaryQueue(sess SessionRef) (DestRef, error)
	CreateTemporaryTopic(sess SessionRef) (DestRef, error)
	DeleteTemporaryQueue(sess SessionRef, dest DestRef) error
	DeleteTemporaryTopic(sess SessionRef, dest DestRef) error

	// Send transmits msg. A zero dest uses the destination the producer is bound to.
	Send(p ProducerRef, dest DestRef, msg MsgRef) error
	// Receive blocks until a message arrives or the consumer is closed.
	Receive(c ConsumerRef) (MsgRef, error)
	// ReceiveTimeout waits up to timeout and returns ErrTimeout when nothing arrived.
	ReceiveTimeout(c ConsumerRef, timeout time.Duration) (MsgRef, error)
}

// Destinations manages destination references.
type Destinations interface {
	CreateDestination(kind message.DestinationKind, name string) (DestRef, error)
	DestroyDestination(dest DestRef) error
	DestinationInfo(dest DestRef) (message.Destination, error)
}

// Messages builds and inspects wire messages.
type Messages interface {
	CreateMessage(kind message.Kind) (MsgRef, error)
	DestroyMessage(msg MsgRef) error
	Acknowledge(msg MsgRef) error
	Recover(msg MsgRef) error

	BodyKind(msg MsgRef) (message.Kind, error)
	SetText(msg MsgRef, text string) error
	Text(msg MsgRef) (string, error)
	SetBytes(msg MsgRef, b []byte) error
	Bytes(msg MsgRef) ([]byte, error)
	SetObjectBytes(msg MsgRef, b []byte) error
	ObjectBytes(msg MsgRef) ([]byte, error)

	// SetMapValue stores a primitive map entry. Map values are rejected with ErrUnsupported.
	SetMapValue(msg MsgRef, name string, v message.TypedValue) error
	// SetMapMessage stores a copy of child as a nested map entry. The caller keeps ownership of child.
	SetMapMessage(msg MsgRef, name string, child MsgRef) error
	MapNames(msg MsgRef) ([]string, error)
	// MapValue returns a primitive map entry, or ErrConversion when the entry is a nested message.
	MapValue(msg MsgRef, name string) (message.TypedValue, error)
	// MapMessage returns a borrowed reference to a nested map entry. It must not be destroyed.
	MapMessage(msg MsgRef, name string) (MsgRef, error)

	SetProperty(msg MsgRef, name string, v message.TypedValue) error
	PropertyNames(msg MsgRef) ([]string, error)
	Property(msg MsgRef, name string) (message.TypedValue, error)

	SetCorrelationID(msg MsgRef, id string) error
	// CorrelationID reports false when no correlation id is set.
	CorrelationID(msg MsgRef) (string, bool, error)
	SetType(msg MsgRef, typ string) error
	Type(msg MsgRef) (string, error)
	MessageID(msg MsgRef) (string, error)

	SetReplyTo(msg MsgRef, dest DestRef) error
	// ReplyTo returns a borrowed reference, zero when unset.
	ReplyTo(msg MsgRef) (DestRef, error)
	// Destination returns a borrowed reference, zero when unset.
	Destination(msg MsgRef) (DestRef, error)
}
