// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/broker/transport"
	"github.com/absmach/jms/broker/wire"
	"github.com/absmach/jms/codec"
	"github.com/absmach/jms/message"
)

// hub is an in-memory message switch shared by every link dialed from it.
type hub struct {
	mu          sync.Mutex
	subs        []*hubSub
	next        map[string]int
	temps       int
	links       []*hubLink
	failPublish error
	responder   func(dest message.Destination, req *wire.Message) *wire.Message
}

type hubSub struct {
	dest    message.Destination
	group   string
	handler transport.Handler
}

func newHub() *hub {
	return &hub{next: make(map[string]int)}
}

func (h *hub) dial(_ context.Context, url, _, _ string) (transport.Link, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l := &hubLink{hub: h, url: url}
	h.links = append(h.links, l)
	return l, nil
}

func (h *hub) link(i int) *hubLink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.links[i]
}

func (h *hub) subscriptions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) add(s *hubSub) transport.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, s)
	return &hubSubscription{hub: h, sub: s}
}

// targets picks receivers: queues and shared groups deliver to one member in
// turn, plain topic subscriptions each get a copy.
func (h *hub) targets(dest message.Destination) []transport.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()

	groups := make(map[string][]*hubSub)
	var order []string
	var out []transport.Handler
	for _, s := range h.subs {
		if s.dest != dest {
			continue
		}
		key := s.group
		if dest.IsQueue() {
			key = "$queue"
		}
		if key == "" {
			out = append(out, s.handler)
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], s)
	}
	for _, key := range order {
		members := groups[key]
		id := dest.String() + "/" + key
		out = append(out, members[h.next[id]%len(members)].handler)
		h.next[id]++
	}
	return out
}

func (h *hub) publish(dest message.Destination, payload []byte) error {
	h.mu.Lock()
	fail, responder := h.failPublish, h.responder
	h.mu.Unlock()
	if fail != nil {
		return fail
	}

	for _, handler := range h.targets(dest) {
		handler(payload)
	}

	if responder == nil {
		return nil
	}
	req, err := codec.Unmarshal(payload)
	if err != nil || req.ReplyTo == nil {
		return nil
	}
	reply := responder(dest, req)
	if reply == nil {
		return nil
	}
	out, err := codec.Marshal(reply)
	if err != nil {
		return err
	}
	for _, handler := range h.targets(*req.ReplyTo) {
		handler(out)
	}
	return nil
}

type hubLink struct {
	hub    *hub
	url    string
	mu     sync.Mutex
	closed bool
}

func (l *hubLink) Publish(_ context.Context, dest message.Destination, payload []byte) error {
	return l.hub.publish(dest, payload)
}

func (l *hubLink) Subscribe(dest message.Destination, h transport.Handler) (transport.Subscription, error) {
	return l.hub.add(&hubSub{dest: dest, handler: h}), nil
}

func (l *hubLink) SubscribeShared(dest message.Destination, name string, durable bool, h transport.Handler) (transport.Subscription, error) {
	if durable {
		return nil, fmt.Errorf("%w: durable subscriptions", broker.ErrUnsupported)
	}
	return l.hub.add(&hubSub{dest: dest, group: name, handler: h}), nil
}

func (l *hubLink) TemporaryName(kind message.DestinationKind) string {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	l.hub.temps++
	return fmt.Sprintf("$tmp/%s/%d", kind, l.hub.temps)
}

func (l *hubLink) URL() string {
	return l.url
}

func (l *hubLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *hubLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type hubSubscription struct {
	hub *hub
	sub *hubSub
}

func (s *hubSubscription) Unsubscribe() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	for i, sub := range s.hub.subs {
		if sub == s.sub {
			s.hub.subs = append(s.hub.subs[:i], s.hub.subs[i+1:]...)
			return nil
		}
	}
	return nil
}
