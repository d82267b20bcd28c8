// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mock provides an in-memory broker for deterministic tests.
//
// Sent messages are appended to a log that is never truncated. A receive scans
// the log for the first entry addressed to the consumer's destination and returns
// a copy of it without removing it, so repeated receives yield the same message
// unless WithConsumeOnReceive is set. Timeouts are ignored and receive never blocks.
package mock

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/broker/wire"
	"github.com/absmach/jms/message"
	"github.com/google/uuid"
)

// TempPrefix prefixes the names of temporary destinations.
const TempPrefix = "$TMP$.mock."

var _ broker.Broker = (*Broker)(nil)

// Responder builds a reply for a request sent to dest. Returning nil sends no reply.
// The reply is delivered to the request's reply-to destination.
type Responder func(dest message.Destination, req *wire.Message) *wire.Message

// Entry is a sent message with the destination it was addressed to.
type Entry struct {
	Destination message.Destination
	Message     *wire.Message
	consumed    bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithResponder simulates a replying peer for request-reply.
func WithResponder(r Responder) Option {
	return func(b *Broker) {
		b.responder = r
	}
}

// WithConsumeOnReceive makes each log entry deliverable once, in send order per destination.
func WithConsumeOnReceive() Option {
	return func(b *Broker) {
		b.consume = true
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = l
	}
}

type session struct {
	conn       broker.ConnRef
	transacted bool
	mode       broker.AckMode
}

type producer struct {
	session broker.SessionRef
	dest    *message.Destination
}

type consumer struct {
	session  broker.SessionRef
	dest     message.Destination
	selector string
	name     string
}

// Broker is an in-memory broker.Broker. The zero value is not usable; call New.
type Broker struct {
	*wire.Registry

	mu         sync.Mutex
	logger     *slog.Logger
	responder  Responder
	consume    bool
	next       uint64
	conn       broker.ConnRef
	url        string
	started    bool
	active     broker.SessionRef
	sessions   map[broker.SessionRef]session
	producers  map[broker.ProducerRef]producer
	consumers  map[broker.ConsumerRef]consumer
	lastTarget *message.Destination
	log        []*Entry
	temps      map[string]struct{}
	calls      []Op
	faults     map[Op]error
	acks       int
	recovers   int
}

// New returns an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		Registry:  wire.NewRegistry(),
		logger:    slog.Default(),
		sessions:  make(map[broker.SessionRef]session),
		producers: make(map[broker.ProducerRef]producer),
		consumers: make(map[broker.ConsumerRef]consumer),
		temps:     make(map[string]struct{}),
		faults:    make(map[Op]error),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) id() uint64 {
	b.next++
	return b.next
}

// enter journals op and returns the injected fault, if any. Callers hold b.mu.
func (b *Broker) enter(op Op) error {
	b.calls = append(b.calls, op)
	if err, ok := b.faults[op]; ok {
		b.logger.Debug("mock fault injected", slog.String("op", string(op)), slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (b *Broker) Connect(url, user, password string) (broker.ConnRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpConnect); err != nil {
		return 0, err
	}
	if url == "" {
		return 0, fmt.Errorf("%w: empty url", broker.ErrRejected)
	}
	b.conn = broker.ConnRef(b.id())
	b.url = url
	b.started = false
	return b.conn, nil
}

func (b *Broker) Start(conn broker.ConnRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpStart); err != nil {
		return err
	}
	if err := b.checkConn(conn); err != nil {
		return err
	}
	b.started = true
	return nil
}

func (b *Broker) ActiveURL(conn broker.ConnRef) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkConn(conn); err != nil {
		return "", err
	}
	return b.url, nil
}

func (b *Broker) CloseConnection(conn broker.ConnRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpCloseConnection); err != nil {
		return err
	}
	if err := b.checkConn(conn); err != nil {
		return err
	}
	b.conn = 0
	b.started = false
	return nil
}

func (b *Broker) checkConn(conn broker.ConnRef) error {
	if conn == 0 || conn != b.conn {
		return fmt.Errorf("%w: connection %d", broker.ErrInvalidRef, conn)
	}
	return nil
}

func (b *Broker) CreateSession(conn broker.ConnRef, transacted bool, mode broker.AckMode) (broker.SessionRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpCreateSession); err != nil {
		return 0, err
	}
	if err := b.checkConn(conn); err != nil {
		return 0, err
	}
	ref := broker.SessionRef(b.id())
	b.sessions[ref] = session{conn: conn, transacted: transacted, mode: mode}
	b.active = ref
	return ref, nil
}

func (b *Broker) CloseSession(sess broker.SessionRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpCloseSession); err != nil {
		return err
	}
	if _, ok := b.sessions[sess]; !ok {
		return fmt.Errorf("%w: session %d", broker.ErrInvalidRef, sess)
	}
	delete(b.sessions, sess)
	if b.active == sess {
		b.active = 0
	}
	return nil
}

func (b *Broker) CreateProducer(sess broker.SessionRef, dest broker.DestRef) (broker.ProducerRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpCreateProducer); err != nil {
		return 0, err
	}
	if _, ok := b.sessions[sess]; !ok {
		return 0, fmt.Errorf("%w: session %d", broker.ErrInvalidRef, sess)
	}
	p := producer{session: sess}
	if dest != 0 {
		d, err := b.DestinationInfo(dest)
		if err != nil {
			return 0, err
		}
		p.dest = &d
	}
	ref := broker.ProducerRef(b.id())
	b.producers[ref] = p
	return ref, nil
}

func (b *Broker) CloseProducer(p broker.ProducerRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpCloseProducer); err != nil {
		return err
	}
	if _, ok := b.producers[p]; !ok {
		return fmt.Errorf("%w: producer %d", broker.ErrInvalidRef, p)
	}
	delete(b.producers, p)
	return nil
}

func (b *Broker) CreateConsumer(sess broker.SessionRef, dest broker.DestRef, selector string, noLocal bool) (broker.ConsumerRef, error) {
	return b.createConsumer(OpCreateConsumer, sess, dest, "", selector, false)
}

func (b *Broker) CreateSharedConsumer(sess broker.SessionRef, dest broker.DestRef, name, selector string) (broker.ConsumerRef, error) {
	return b.createConsumer(OpCreateSharedConsumer, sess, dest, name, selector, true)
}

func (b *Broker) CreateSharedDurableConsumer(sess broker.SessionRef, dest broker.DestRef, name, selector string) (broker.ConsumerRef, error) {
	return b.createConsumer(OpCreateSharedDurableConsumer, sess, dest, name, selector, true)
}

func (b *Broker) createConsumer(op Op, sess broker.SessionRef, dest broker.DestRef, name, selector string, topicOnly bool) (broker.ConsumerRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(op); err != nil {
		return 0, err
	}
	if _, ok := b.sessions[sess]; !ok {
		return 0, fmt.Errorf("%w: session %d", broker.ErrInvalidRef, sess)
	}
	d, err := b.DestinationInfo(dest)
	if err != nil {
		return 0, err
	}
	if topicOnly && !d.IsTopic() {
		return 0, fmt.Errorf("%w: shared subscription on %s", broker.ErrIllegalState, d)
	}
	ref := broker.ConsumerRef(b.id())
	b.consumers[ref] = consumer{session: sess, dest: d, selector: selector, name: name}
	b.lastTarget = &d
	b.logger.Debug("mock consumer created", slog.String("destination", d.String()), slog.String("selector", selector))
	return ref, nil
}

func (b *Broker) CloseConsumer(c broker.ConsumerRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpCloseConsumer); err != nil {
		return err
	}
	if _, ok := b.consumers[c]; !ok {
		return fmt.Errorf("%w: consumer %d", broker.ErrInvalidRef, c)
	}
	delete(b.consumers, c)
	return nil
}

func (b *Broker) CreateTemporaryQueue(sess broker.SessionRef) (broker.DestRef, error) {
	return b.createTemporary(OpCreateTemporaryQueue, sess, message.QueueKind)
}

func (b *Broker) CreateTemporaryTopic(sess broker.SessionRef) (broker.DestRef, error) {
	return b.createTemporary(OpCreateTemporaryTopic, sess, message.TopicKind)
}

// createTemporary names the destination after its session and kind, so a session
// holds at most one live temporary destination per kind. One that was never
// deleted makes the next creation fail.
func (b *Broker) createTemporary(op Op, sess broker.SessionRef, kind message.DestinationKind) (broker.DestRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(op); err != nil {
		return 0, err
	}
	if _, ok := b.sessions[sess]; !ok {
		return 0, fmt.Errorf("%w: session %d", broker.ErrInvalidRef, sess)
	}
	name := fmt.Sprintf("%s%s.%d", TempPrefix, kind, sess)
	if _, ok := b.temps[name]; ok {
		return 0, fmt.Errorf("%w: temporary destination %s exists", broker.ErrIllegalState, name)
	}
	b.temps[name] = struct{}{}
	return b.RegisterDestination(message.Destination{Kind: kind, Name: name}), nil
}

func (b *Broker) DeleteTemporaryQueue(sess broker.SessionRef, dest broker.DestRef) error {
	return b.deleteTemporary(OpDeleteTemporaryQueue, dest, message.QueueKind)
}

func (b *Broker) DeleteTemporaryTopic(sess broker.SessionRef, dest broker.DestRef) error {
	return b.deleteTemporary(OpDeleteTemporaryTopic, dest, message.TopicKind)
}

func (b *Broker) deleteTemporary(op Op, dest broker.DestRef, kind message.DestinationKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(op); err != nil {
		return err
	}
	d, err := b.DestinationInfo(dest)
	if err != nil {
		return err
	}
	if _, ok := b.temps[d.Name]; !ok || d.Kind != kind {
		return fmt.Errorf("%w: %s is not a temporary %s", broker.ErrIllegalState, d, kind)
	}
	delete(b.temps, d.Name)
	return b.Registry.DestroyDestination(dest)
}

// Send appends a snapshot of msg to the log. A zero dest uses the producer's destination.
func (b *Broker) Send(p broker.ProducerRef, dest broker.DestRef, msg broker.MsgRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpSend); err != nil {
		return err
	}
	prod, ok := b.producers[p]
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
	b.append(target, snap)

	if b.responder != nil && snap.ReplyTo != nil {
		if reply := b.responder(target, snap.Clone()); reply != nil {
			reply.MessageID = "ID:" + uuid.NewString()
			b.append(*snap.ReplyTo, reply)
		}
	}
	return nil
}

func (b *Broker) append(d message.Destination, m *wire.Message) {
	m.Destination = &d
	b.log = append(b.log, &Entry{Destination: d, Message: m})
	b.logger.Debug("mock message logged", slog.String("destination", d.String()), slog.Int("log_size", len(b.log)))
}

// Receive never blocks. It returns broker.ErrTimeout when no entry matches.
func (b *Broker) Receive(c broker.ConsumerRef) (broker.MsgRef, error) {
	return b.receive(c)
}

// ReceiveTimeout ignores timeout.
func (b *Broker) ReceiveTimeout(c broker.ConsumerRef, timeout time.Duration) (broker.MsgRef, error) {
	return b.receive(c)
}

func (b *Broker) receive(c broker.ConsumerRef) (broker.MsgRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpReceive); err != nil {
		return 0, err
	}
	cons, ok := b.consumers[c]
	if !ok {
		return 0, fmt.Errorf("%w: consumer %d", broker.ErrInvalidRef, c)
	}
	for _, e := range b.log {
		if e.Destination != cons.dest || (b.consume && e.consumed) {
			continue
		}
		if b.consume {
			e.consumed = true
		}
		return b.Register(e.Message.Clone()), nil
	}
	return 0, broker.ErrTimeout
}

func (b *Broker) Acknowledge(msg broker.MsgRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpAcknowledge); err != nil {
		return err
	}
	if _, err := b.BodyKind(msg); err != nil {
		return err
	}
	b.acks++
	return nil
}

func (b *Broker) Recover(msg broker.MsgRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(OpRecover); err != nil {
		return err
	}
	if _, err := b.BodyKind(msg); err != nil {
		return err
	}
	b.recovers++
	return nil
}

func (b *Broker) CreateDestination(kind message.DestinationKind, name string) (broker.DestRef, error) {
	if err := b.fault(OpCreateDestination); err != nil {
		return 0, err
	}
	return b.Registry.CreateDestination(kind, name)
}

func (b *Broker) DestroyDestination(dest broker.DestRef) error {
	if err := b.fault(OpDestroyDestination); err != nil {
		return err
	}
	return b.Registry.DestroyDestination(dest)
}

func (b *Broker) CreateMessage(kind message.Kind) (broker.MsgRef, error) {
	if err := b.fault(OpCreateMessage); err != nil {
		return 0, err
	}
	return b.Registry.CreateMessage(kind)
}

func (b *Broker) DestroyMessage(msg broker.MsgRef) error {
	if err := b.fault(OpDestroyMessage); err != nil {
		return err
	}
	return b.Registry.DestroyMessage(msg)
}

func (b *Broker) SetMapValue(msg broker.MsgRef, name string, v message.TypedValue) error {
	if err := b.fault(OpSetMapValue); err != nil {
		return err
	}
	return b.Registry.SetMapValue(msg, name, v)
}

func (b *Broker) SetMapMessage(msg broker.MsgRef, name string, child broker.MsgRef) error {
	if err := b.fault(OpSetMapMessage); err != nil {
		return err
	}
	return b.Registry.SetMapMessage(msg, name, child)
}

func (b *Broker) MapMessage(msg broker.MsgRef, name string) (broker.MsgRef, error) {
	if err := b.fault(OpMapMessage); err != nil {
		return 0, err
	}
	return b.Registry.MapMessage(msg, name)
}

func (b *Broker) SetProperty(msg broker.MsgRef, name string, v message.TypedValue) error {
	if err := b.fault(OpSetProperty); err != nil {
		return err
	}
	return b.Registry.SetProperty(msg, name, v)
}

func (b *Broker) SetReplyTo(msg broker.MsgRef, dest broker.DestRef) error {
	if err := b.fault(OpSetReplyTo); err != nil {
		return err
	}
	return b.Registry.SetReplyTo(msg, dest)
}

func (b *Broker) fault(op Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enter(op)
}

// FailOn makes every later call of op fail with err. A nil err clears the fault.
func (b *Broker) FailOn(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		delete(b.faults, op)
		return
	}
	b.faults[op] = err
}

// Calls returns the journal of calls in order, including failed ones.
func (b *Broker) Calls() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

// Count returns how many times op was called.
func (b *Broker) Count(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, c := range b.calls {
		if c == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the journal.
func (b *Broker) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// Log returns a copy of the sent messages in send order.
func (b *Broker) Log() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.log))
	for i, e := range b.log {
		out[i] = Entry{Destination: e.Destination, Message: e.Message.Clone()}
	}
	return out
}

// LastConsumerTarget returns the destination of the most recent consumer creation.
func (b *Broker) LastConsumerTarget() (message.Destination, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastTarget == nil {
		return message.Destination{}, false
	}
	return *b.lastTarget, true
}

// ActiveSession returns the most recently created session that is still open.
func (b *Broker) ActiveSession() broker.SessionRef {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// SessionMode returns the transacted flag and ack mode a session was created with.
func (b *Broker) SessionMode(sess broker.SessionRef) (bool, broker.AckMode, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[sess]
	return s.transacted, s.mode, ok
}

// Started reports whether the active connection was started.
func (b *Broker) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// LiveTemporaries returns the names of temporary destinations not yet deleted.
func (b *Broker) LiveTemporaries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.temps))
	for n := range b.temps {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Acknowledged returns the number of successful Acknowledge calls.
func (b *Broker) Acknowledged() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acks
}

// Recovered returns the number of successful Recover calls.
func (b *Broker) Recovered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recovers
}

// Counts reports live references of every kind.
type Counts struct {
	wire.Counts
	Connections int
	Sessions    int
	Producers   int
	Consumers   int
}

// Outstanding reports references that were handed out and not released.
func (b *Broker) Outstanding() Counts {
	c := Counts{Counts: b.Registry.Outstanding()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != 0 {
		c.Connections = 1
	}
	c.Sessions = len(b.sessions)
	c.Producers = len(b.producers)
	c.Consumers = len(b.consumers)
	return c
}
