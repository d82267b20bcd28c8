// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"

	"github.com/absmach/jms/message"
)

// Handler receives a raw payload delivered on a subscription. It is called
// from the link's delivery goroutine and must not block.
type Handler func(payload []byte)

// Subscription is an active link subscription.
type Subscription interface {
	Unsubscribe() error
}

// Link is a connected network client. Implementations map destinations onto
// their own subject or topic naming.
type Link interface {
	// Publish delivers payload to dest.
	Publish(ctx context.Context, dest message.Destination, payload []byte) error
	// Subscribe receives every message addressed to dest. For queues, each
	// message reaches only one subscriber.
	Subscribe(dest message.Destination, h Handler) (Subscription, error)
	// SubscribeShared joins the named subscription on a topic. Messages are
	// spread across its members. A durable subscription outlives the link,
	// and links that cannot keep one return broker.ErrUnsupported.
	SubscribeShared(dest message.Destination, name string, durable bool, h Handler) (Subscription, error)
	// TemporaryName returns a fresh name for a temporary destination.
	TemporaryName(kind message.DestinationKind) string
	// URL returns the server the link is connected to.
	URL() string
	Close() error
}

// Dialer opens a link to url.
type Dialer func(ctx context.Context, url, user, password string) (Link, error)
