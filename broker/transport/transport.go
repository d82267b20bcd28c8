// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport implements broker.Broker over a network Link.
//
// Messages are built and inspected in a local wire.Registry. Send snapshots the
// referenced message, encodes it with the codec and publishes it through the
// link behind a circuit breaker. Every consumer owns a mailbox filled by its
// link subscription. Temporary destinations are subscribed when they are
// created, so replies that arrive before a consumer is attached are kept.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/broker/wire"
	"github.com/absmach/jms/message"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// AdminPrefix marks an administrative connection URL. Links are dialed without it.
const AdminPrefix = "<$admin>:"

var _ broker.Broker = (*Broker)(nil)

type connection struct {
	link    Link
	started bool
}

type session struct {
	conn       broker.ConnRef
	transacted bool
	mode       broker.AckMode
}

type producer struct {
	session broker.SessionRef
	link    Link
	dest    *message.Destination
}

type consumer struct {
	conn broker.ConnRef
	dest message.Destination
	box  *wire.Mailbox
	// sub is nil when the consumer reads a temporary destination's mailbox.
	sub Subscription
}

type temporary struct {
	conn broker.ConnRef
	dest message.Destination
	box  *wire.Mailbox
	sub  Subscription
}

// Broker drives links opened by a Dialer.
type Broker struct {
	*wire.Registry

	dial    Dialer
	opts    options
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker

	mu        sync.Mutex
	next      uint64
	conns     map[broker.ConnRef]*connection
	sessions  map[broker.SessionRef]*session
	producers map[broker.ProducerRef]*producer
	consumers map[broker.ConsumerRef]*consumer
	temps     map[message.Destination]*temporary
	delivered map[broker.MsgRef]*wire.Mailbox
}

// New returns a broker that opens connections with dial.
func New(dial Dialer, opts ...Option) *Broker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b := &Broker{
		Registry:  wire.NewRegistry(),
		dial:      dial,
		opts:      o,
		logger:    o.logger,
		conns:     make(map[broker.ConnRef]*connection),
		sessions:  make(map[broker.SessionRef]*session),
		producers: make(map[broker.ProducerRef]*producer),
		consumers: make(map[broker.ConsumerRef]*consumer),
		temps:     make(map[message.Destination]*temporary),
		delivered: make(map[broker.MsgRef]*wire.Mailbox),
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "publish",
		MaxRequests: 1,
		Timeout:     o.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(o.failureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("publish circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return b
}

func (b *Broker) id() uint64 {
	b.next++
	return b.next
}

func (b *Broker) Connect(url, user, password string) (broker.ConnRef, error) {
	if url == "" {
		return 0, fmt.Errorf("%w: empty url", broker.ErrRejected)
	}
	if addr, ok := strings.CutPrefix(url, AdminPrefix); ok {
		b.logger.Debug("opening administrative connection", slog.String("url", addr))
		url = addr
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.connectTimeout)
	defer cancel()
	link, err := b.dial(ctx, url, user, password)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", url, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ref := broker.ConnRef(b.id())
	b.conns[ref] = &connection{link: link}
	b.logger.Debug("link connected", slog.String("url", link.URL()), slog.Uint64("conn", uint64(ref)))
	return ref, nil
}

func (b *Broker) Start(conn broker.ConnRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.conns[conn]
	if !ok {
		return fmt.Errorf("%w: connection %d", broker.ErrInvalidRef, conn)
	}
	c.started = true
	return nil
}

func (b *Broker) ActiveURL(conn broker.ConnRef) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.conns[conn]
	if !ok {
		return "", fmt.Errorf("%w: connection %d", broker.ErrInvalidRef, conn)
	}
	return c.link.URL(), nil
}

// CloseConnection releases every session, consumer and temporary destination
// opened on conn and closes its link.
func (b *Broker) CloseConnection(conn broker.ConnRef) error {
	b.mu.Lock()
	c, ok := b.conns[conn]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: connection %d", broker.ErrInvalidRef, conn)
	}
	delete(b.conns, conn)

	var subs []Subscription
	for ref, cons := range b.consumers {
		if cons.conn != conn {
			continue
		}
		if cons.sub != nil {
			subs = append(subs, cons.sub)
			cons.box.Close()
		}
		delete(b.consumers, ref)
	}
	for d, t := range b.temps {
		if t.conn != conn {
			continue
		}
		subs = append(subs, t.sub)
		t.box.Close()
		delete(b.temps, d)
	}
	for ref, s := range b.sessions {
		if s.conn == conn {
			delete(b.sessions, ref)
		}
	}
	for ref, p := range b.producers {
		if p.link == c.link {
			delete(b.producers, ref)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("unsubscribe failed", slog.String("error", err.Error()))
		}
	}
	return c.link.Close()
}

func (b *Broker) CreateSession(conn broker.ConnRef, transacted bool, mode broker.AckMode) (broker.SessionRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.conns[conn]; !ok {
		return 0, fmt.Errorf("%w: connection %d", broker.ErrInvalidRef, conn)
	}
	ref := broker.SessionRef(b.id())
	b.sessions[ref] = &session{conn: conn, transacted: transacted, mode: mode}
	return ref, nil
}

// CloseSession forgets the session. Consumers created on it stay usable until
// they are closed or their connection goes away.
func (b *Broker) CloseSession(sess broker.SessionRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[sess]; !ok {
		return fmt.Errorf("%w: session %d", broker.ErrInvalidRef, sess)
	}
	delete(b.sessions, sess)
	return nil
}

// connOf resolves the connection a session belongs to. Callers hold b.mu.
func (b *Broker) connOf(sess broker.SessionRef) (broker.ConnRef, *connection, error) {
	s, ok := b.sessions[sess]
	if !ok {
		return 0, nil, fmt.Errorf("%w: session %d", broker.ErrInvalidRef, sess)
	}
	c, ok := b.conns[s.conn]
	if !ok {
		return 0, nil, fmt.Errorf("%w: connection %d is closed", broker.ErrClosed, s.conn)
	}
	return s.conn, c, nil
}

func (b *Broker) CreateProducer(sess broker.SessionRef, dest broker.DestRef) (broker.ProducerRef, error) {
	var bound *message.Destination
	if dest != 0 {
		d, err := b.DestinationInfo(dest)
		if err != nil {
			return 0, err
		}
		bound = &d
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, c, err := b.connOf(sess)
	if err != nil {
		return 0, err
	}
	ref := broker.ProducerRef(b.id())
	b.producers[ref] = &producer{session: sess, link: c.link, dest: bound}
	return ref, nil
}

func (b *Broker) CloseProducer(p broker.ProducerRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.producers[p]; !ok {
		return fmt.Errorf("%w: producer %d", broker.ErrInvalidRef, p)
	}
	delete(b.producers, p)
	return nil
}

// CreateConsumer subscribes to dest. noLocal is accepted and not enforced.
func (b *Broker) CreateConsumer(sess broker.SessionRef, dest broker.DestRef, selector string, noLocal bool) (broker.ConsumerRef, error) {
	return b.subscribe(sess, dest, selector, func(link Link, d message.Destination, h Handler) (Subscription, error) {
		return link.Subscribe(d, h)
	})
}

func (b *Broker) CreateSharedConsumer(sess broker.SessionRef, dest broker.DestRef, name, selector string) (broker.ConsumerRef, error) {
	return b.subscribe(sess, dest, selector, func(link Link, d message.Destination, h Handler) (Subscription, error) {
		return link.SubscribeShared(d, name, false, h)
	})
}

func (b *Broker) CreateSharedDurableConsumer(sess broker.SessionRef, dest broker.DestRef, name, selector string) (broker.ConsumerRef, error) {
	return b.subscribe(sess, dest, selector, func(link Link, d message.Destination, h Handler) (Subscription, error) {
		return link.SubscribeShared(d, name, true, h)
	})
}

func (b *Broker) subscribe(sess broker.SessionRef, dest broker.DestRef, selector string, sub func(Link, message.Destination, Handler) (Subscription, error)) (broker.ConsumerRef, error) {
	if selector != "" {
		return 0, fmt.Errorf("%w: message selectors", broker.ErrUnsupported)
	}
	d, err := b.DestinationInfo(dest)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	connRef, c, err := b.connOf(sess)
	if err != nil {
		return 0, err
	}

	cons := &consumer{conn: connRef, dest: d}
	if t, ok := b.temps[d]; ok {
		cons.box = t.box
	} else {
		cons.box = wire.NewMailbox()
		if cons.sub, err = sub(c.link, d, b.deliver(cons.box, d)); err != nil {
			cons.box.Close()
			return 0, err
		}
	}

	ref := broker.ConsumerRef(b.id())
	b.consumers[ref] = cons
	b.logger.Debug("consumer subscribed", slog.String("destination", d.String()), slog.Uint64("consumer", uint64(ref)))
	return ref, nil
}

func (b *Broker) CloseConsumer(c broker.ConsumerRef) error {
	b.mu.Lock()
	cons, ok := b.consumers[c]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: consumer %d", broker.ErrInvalidRef, c)
	}
	delete(b.consumers, c)
	b.mu.Unlock()

	if cons.sub == nil {
		return nil
	}
	cons.box.Close()
	return cons.sub.Unsubscribe()
}

// deliver returns the handler that decodes link payloads into box.
func (b *Broker) deliver(box *wire.Mailbox, dest message.Destination) Handler {
	return func(payload []byte) {
		m, err := b.opts.codec.Unmarshal(payload)
		if err != nil {
			b.logger.Warn("dropping undecodable message",
				slog.String("destination", dest.String()),
				slog.String("error", err.Error()))
			return
		}
		if m.Destination == nil {
			m.Destination = &dest
		}
		box.Push(m)
	}
}

func (b *Broker) CreateTemporaryQueue(sess broker.SessionRef) (broker.DestRef, error) {
	return b.createTemporary(sess, message.QueueKind)
}

func (b *Broker) CreateTemporaryTopic(sess broker.SessionRef) (broker.DestRef, error) {
	return b.createTemporary(sess, message.TopicKind)
}

func (b *Broker) createTemporary(sess broker.SessionRef, kind message.DestinationKind) (broker.DestRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	connRef, c, err := b.connOf(sess)
	if err != nil {
		return 0, err
	}
	d := message.Destination{Kind: kind, Name: c.link.TemporaryName(kind)}
	t := &temporary{conn: connRef, dest: d, box: wire.NewMailbox()}
	if t.sub, err = c.link.Subscribe(d, b.deliver(t.box, d)); err != nil {
		t.box.Close()
		return 0, err
	}
	b.temps[d] = t

	ref, err := b.CreateDestination(kind, d.Name)
	if err != nil {
		delete(b.temps, d)
		t.box.Close()
		return 0, errors.Join(err, t.sub.Unsubscribe())
	}
	return ref, nil
}

func (b *Broker) DeleteTemporaryQueue(sess broker.SessionRef, dest broker.DestRef) error {
	return b.deleteTemporary(dest, message.QueueKind)
}

func (b *Broker) DeleteTemporaryTopic(sess broker.SessionRef, dest broker.DestRef) error {
	return b.deleteTemporary(dest, message.TopicKind)
}

// deleteTemporary unsubscribes the temporary destination and releases dest.
func (b *Broker) deleteTemporary(dest broker.DestRef, kind message.DestinationKind) error {
	d, err := b.DestinationInfo(dest)
	if err != nil {
		return err
	}
	if d.Kind != kind {
		return fmt.Errorf("%w: %s is not a temporary %s", broker.ErrIllegalState, d, kind)
	}

	b.mu.Lock()
	t, ok := b.temps[d]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: temporary destination %s", broker.ErrNotFound, d)
	}
	delete(b.temps, d)
	for ref, cons := range b.consumers {
		if cons.box == t.box {
			delete(b.consumers, ref)
		}
	}
	b.mu.Unlock()

	t.box.Close()
	return errors.Join(t.sub.Unsubscribe(), b.DestroyDestination(dest))
}

func (b *Broker) Send(p broker.ProducerRef, dest broker.DestRef, msg broker.MsgRef) error {
	b.mu.Lock()
	prod, ok := b.producers[p]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: producer %d", broker.ErrInvalidRef, p)
	}

	var target message.Destination
	switch {
	case dest != 0:
		d, err := b.DestinationInfo(dest)
		if err != nil {
			return err
		}
		target = d
	case prod.dest != nil:
		target = *prod.dest
	default:
		return fmt.Errorf("%w: unbound producer needs a destination", broker.ErrIllegalState)
	}

	id := "ID:" + uuid.NewString()
	if err := b.Update(msg, func(m *wire.Message) { m.MessageID = id }); err != nil {
		return err
	}
	snap, err := b.Snapshot(msg)
	if err != nil {
		return err
	}
	snap.Destination = &target

	payload, err := b.opts.codec.Marshal(snap)
	if err != nil {
		return err
	}

	_, err = b.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.publishTimeout)
		defer cancel()
		return nil, prod.link.Publish(ctx, target, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", broker.ErrRejected, err)
	}
	if err != nil {
		return err
	}
	b.logger.Debug("message published",
		slog.String("destination", target.String()),
		slog.String("message_id", id),
		slog.Int("bytes", len(payload)))
	return nil
}

func (b *Broker) Receive(c broker.ConsumerRef) (broker.MsgRef, error) {
	return b.receive(c, (*wire.Mailbox).Pop)
}

func (b *Broker) ReceiveTimeout(c broker.ConsumerRef, timeout time.Duration) (broker.MsgRef, error) {
	return b.receive(c, func(box *wire.Mailbox) (*wire.Message, error) {
		return box.PopTimeout(timeout)
	})
}

func (b *Broker) receive(c broker.ConsumerRef, pop func(*wire.Mailbox) (*wire.Message, error)) (broker.MsgRef, error) {
	b.mu.Lock()
	cons, ok := b.consumers[c]
	var started bool
	if ok {
		if conn, live := b.conns[cons.conn]; live {
			started = conn.started
		}
	}
	b.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: consumer %d", broker.ErrInvalidRef, c)
	}
	if !started {
		return 0, fmt.Errorf("%w: connection not started", broker.ErrIllegalState)
	}

	m, err := pop(cons.box)
	if err != nil {
		return 0, err
	}
	ref := b.Register(m)

	b.mu.Lock()
	b.delivered[ref] = cons.box
	b.mu.Unlock()
	return ref, nil
}

// Acknowledge settles a delivered message. Links deliver at most once, so
// this only stops the message from being recovered.
func (b *Broker) Acknowledge(msg broker.MsgRef) error {
	if _, err := b.BodyKind(msg); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.delivered, msg)
	b.mu.Unlock()
	return nil
}

// Recover queues a copy of an unacknowledged delivered message for redelivery.
func (b *Broker) Recover(msg broker.MsgRef) error {
	snap, err := b.Snapshot(msg)
	if err != nil {
		return err
	}
	b.mu.Lock()
	box, ok := b.delivered[msg]
	delete(b.delivered, msg)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if !box.Push(snap) {
		return fmt.Errorf("%w: consumer closed", broker.ErrClosed)
	}
	return nil
}

func (b *Broker) DestroyMessage(msg broker.MsgRef) error {
	if err := b.Registry.DestroyMessage(msg); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.delivered, msg)
	b.mu.Unlock()
	return nil
}
