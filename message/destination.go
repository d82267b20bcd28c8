// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

// DestinationKind distinguishes point-to-point from publish/subscribe addresses.
type DestinationKind uint8

// Destination kinds.
const (
	QueueKind DestinationKind = iota + 1
	TopicKind
)

// String returns the kind name.
func (k DestinationKind) String() string {
	switch k {
	case QueueKind:
		return "queue"
	case TopicKind:
		return "topic"
	default:
		return "unknown"
	}
}

// Destination is an addressable target for messages.
// Two destinations are equal when both kind and name match.
type Destination struct {
	Kind DestinationKind
	Name string
}

// Queue returns a point-to-point destination.
func Queue(name string) Destination {
	return Destination{Kind: QueueKind, Name: name}
}

// Topic returns a publish/subscribe destination.
func Topic(name string) Destination {
	return Destination{Kind: TopicKind, Name: name}
}

// IsQueue reports whether d is a queue.
func (d Destination) IsQueue() bool {
	return d.Kind == QueueKind
}

// IsTopic reports whether d is a topic.
func (d Destination) IsTopic() bool {
	return d.Kind == TopicKind
}

// String renders the destination as kind:name.
func (d Destination) String() string {
	return d.Kind.String() + ":" + d.Name
}

// Ptr returns a pointer to a copy of d, convenient for Envelope fields.
func (d Destination) Ptr() *Destination {
	return &d
}

func cloneDestination(d *Destination) *Destination {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
