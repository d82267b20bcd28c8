// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mock

import (
	"errors"
	"strings"
	"testing"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/broker/wire"
	"github.com/absmach/jms/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	b    *Broker
	conn broker.ConnRef
	sess broker.SessionRef
}

func setup(t *testing.T, opts ...Option) fixture {
	t.Helper()

	b := New(opts...)
	conn, err := b.Connect("tcp://mock:7222", "admin", "")
	require.NoError(t, err)
	require.NoError(t, b.Start(conn))
	sess, err := b.CreateSession(conn, false, broker.AutoAck)
	require.NoError(t, err)
	return fixture{b: b, conn: conn, sess: sess}
}

func (f fixture) dest(t *testing.T, d message.Destination) broker.DestRef {
	t.Helper()
	ref, err := f.b.CreateDestination(d.Kind, d.Name)
	require.NoError(t, err)
	return ref
}

func (f fixture) send(t *testing.T, d message.Destination, text string) {
	t.Helper()
	dest := f.dest(t, d)
	p, err := f.b.CreateProducer(f.sess, 0)
	require.NoError(t, err)
	msg, err := f.b.CreateMessage(message.TextKind)
	require.NoError(t, err)
	require.NoError(t, f.b.SetText(msg, text))
	require.NoError(t, f.b.Send(p, dest, msg))
	require.NoError(t, f.b.DestroyMessage(msg))
	require.NoError(t, f.b.CloseProducer(p))
	require.NoError(t, f.b.DestroyDestination(dest))
}

func (f fixture) consumer(t *testing.T, d message.Destination) broker.ConsumerRef {
	t.Helper()
	dest := f.dest(t, d)
	c, err := f.b.CreateConsumer(f.sess, dest, "", false)
	require.NoError(t, err)
	require.NoError(t, f.b.DestroyDestination(dest))
	return c
}

func TestSendThenReceiveOnSameQueue(t *testing.T) {
	f := setup(t)
	f.send(t, message.Queue("q1"), "hello")

	c1 := f.consumer(t, message.Queue("q1"))
	ref, err := f.b.ReceiveTimeout(c1, 0)
	require.NoError(t, err)
	text, err := f.b.Text(ref)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	id, err := f.b.MessageID(ref)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "ID:"))
	require.NoError(t, f.b.DestroyMessage(ref))

	c2 := f.consumer(t, message.Queue("q2"))
	_, err = f.b.Receive(c2)
	assert.ErrorIs(t, err, broker.ErrTimeout)

	target, ok := f.b.LastConsumerTarget()
	require.True(t, ok)
	assert.Equal(t, message.Queue("q2"), target)
}

func TestReceiveDoesNotRemove(t *testing.T) {
	f := setup(t)
	f.send(t, message.Topic("t"), "first")
	f.send(t, message.Topic("t"), "second")
	c := f.consumer(t, message.Topic("t"))

	for range 3 {
		ref, err := f.b.Receive(c)
		require.NoError(t, err)
		text, err := f.b.Text(ref)
		require.NoError(t, err)
		assert.Equal(t, "first", text)
		require.NoError(t, f.b.DestroyMessage(ref))
	}
	assert.Len(t, f.b.Log(), 2)
}

func TestConsumeOnReceiveIsFIFO(t *testing.T) {
	f := setup(t, WithConsumeOnReceive())
	f.send(t, message.Queue("q"), "a")
	f.send(t, message.Queue("other"), "x")
	f.send(t, message.Queue("q"), "b")
	c := f.consumer(t, message.Queue("q"))

	for _, want := range []string{"a", "b"} {
		ref, err := f.b.Receive(c)
		require.NoError(t, err)
		text, err := f.b.Text(ref)
		require.NoError(t, err)
		assert.Equal(t, want, text)
	}
	_, err := f.b.Receive(c)
	assert.ErrorIs(t, err, broker.ErrTimeout)
	assert.Len(t, f.b.Log(), 3)
}

func TestQueueAndTopicWithSameNameAreDistinct(t *testing.T) {
	f := setup(t)
	f.send(t, message.Queue("same"), "q")
	c := f.consumer(t, message.Topic("same"))

	_, err := f.b.Receive(c)
	assert.ErrorIs(t, err, broker.ErrTimeout)
}

func TestTemporaryDestinations(t *testing.T) {
	f := setup(t)

	q, err := f.b.CreateTemporaryQueue(f.sess)
	require.NoError(t, err)
	tp, err := f.b.CreateTemporaryTopic(f.sess)
	require.NoError(t, err)
	assert.Len(t, f.b.LiveTemporaries(), 2)

	d, err := f.b.DestinationInfo(q)
	require.NoError(t, err)
	assert.True(t, d.IsQueue())
	assert.True(t, strings.HasPrefix(d.Name, TempPrefix))

	assert.ErrorIs(t, f.b.DeleteTemporaryTopic(f.sess, q), broker.ErrIllegalState)
	require.NoError(t, f.b.DeleteTemporaryQueue(f.sess, q))
	require.NoError(t, f.b.DeleteTemporaryTopic(f.sess, tp))
	assert.Empty(t, f.b.LiveTemporaries())
	assert.ErrorIs(t, f.b.DeleteTemporaryQueue(f.sess, q), broker.ErrInvalidRef)
}

func TestTemporaryNamesCollideUntilDeleted(t *testing.T) {
	f := setup(t)

	q, err := f.b.CreateTemporaryQueue(f.sess)
	require.NoError(t, err)
	first, err := f.b.DestinationInfo(q)
	require.NoError(t, err)

	_, err = f.b.CreateTemporaryQueue(f.sess)
	assert.ErrorIs(t, err, broker.ErrIllegalState, "live temporary queue in the same session")

	other, err := f.b.CreateSession(f.conn, false, broker.AutoAck)
	require.NoError(t, err)
	oq, err := f.b.CreateTemporaryQueue(other)
	require.NoError(t, err)
	od, err := f.b.DestinationInfo(oq)
	require.NoError(t, err)
	assert.NotEqual(t, first.Name, od.Name)

	require.NoError(t, f.b.DeleteTemporaryQueue(f.sess, q))
	again, err := f.b.CreateTemporaryQueue(f.sess)
	require.NoError(t, err)
	d, err := f.b.DestinationInfo(again)
	require.NoError(t, err)
	assert.Equal(t, first.Name, d.Name, "name reused once deleted")
}

func TestResponderRepliesToReplyTo(t *testing.T) {
	f := setup(t, WithResponder(func(dest message.Destination, req *wire.Message) *wire.Message {
		reply := &wire.Message{Kind: message.TextKind, Text: "pong:" + req.Text}
		reply.CorrelationID = &req.MessageID
		return reply
	}))

	tmp, err := f.b.CreateTemporaryQueue(f.sess)
	require.NoError(t, err)
	dest := f.dest(t, message.Queue("service"))
	p, err := f.b.CreateProducer(f.sess, dest)
	require.NoError(t, err)
	msg, err := f.b.CreateMessage(message.TextKind)
	require.NoError(t, err)
	require.NoError(t, f.b.SetText(msg, "ping"))
	require.NoError(t, f.b.SetReplyTo(msg, tmp))
	require.NoError(t, f.b.Send(p, 0, msg))

	c, err := f.b.CreateConsumer(f.sess, tmp, "", false)
	require.NoError(t, err)
	reply, err := f.b.ReceiveTimeout(c, 0)
	require.NoError(t, err)
	text, err := f.b.Text(reply)
	require.NoError(t, err)
	assert.Equal(t, "pong:ping", text)

	reqID, err := f.b.MessageID(msg)
	require.NoError(t, err)
	corr, ok, err := f.b.CorrelationID(reply)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, reqID, corr)
}

func TestFaultInjectionAndJournal(t *testing.T) {
	f := setup(t)
	boom := errors.New("boom")

	f.b.FailOn(OpCloseProducer, boom)
	p, err := f.b.CreateProducer(f.sess, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, f.b.CloseProducer(p), boom)
	assert.Equal(t, 1, f.b.Outstanding().Producers)

	f.b.FailOn(OpCloseProducer, nil)
	require.NoError(t, f.b.CloseProducer(p))

	calls := f.b.Calls()
	assert.Equal(t, []Op{OpConnect, OpStart, OpCreateSession, OpCreateProducer, OpCloseProducer, OpCloseProducer}, calls)
	assert.Equal(t, 2, f.b.Count(OpCloseProducer))

	f.b.ResetCalls()
	assert.Empty(t, f.b.Calls())
}

func TestUnboundProducerNeedsDestination(t *testing.T) {
	f := setup(t)
	p, err := f.b.CreateProducer(f.sess, 0)
	require.NoError(t, err)
	msg, err := f.b.CreateMessage(message.BytesKind)
	require.NoError(t, err)

	assert.ErrorIs(t, f.b.Send(p, 0, msg), broker.ErrIllegalState)
}

func TestSharedConsumersRequireTopic(t *testing.T) {
	f := setup(t)
	q := f.dest(t, message.Queue("q"))

	_, err := f.b.CreateSharedConsumer(f.sess, q, "sub", "")
	assert.ErrorIs(t, err, broker.ErrIllegalState)

	tp := f.dest(t, message.Topic("t"))
	c, err := f.b.CreateSharedDurableConsumer(f.sess, tp, "durable", "")
	require.NoError(t, err)
	require.NoError(t, f.b.CloseConsumer(c))
}

func TestAcknowledgeAndRecover(t *testing.T) {
	f := setup(t)
	f.send(t, message.Queue("q"), "x")
	c := f.consumer(t, message.Queue("q"))

	ref, err := f.b.Receive(c)
	require.NoError(t, err)
	require.NoError(t, f.b.Acknowledge(ref))
	require.NoError(t, f.b.Recover(ref))
	assert.Equal(t, 1, f.b.Acknowledged())
	assert.Equal(t, 1, f.b.Recovered())

	require.NoError(t, f.b.DestroyMessage(ref))
	assert.ErrorIs(t, f.b.Acknowledge(ref), broker.ErrInvalidRef)
}

func TestConnectionLifecycle(t *testing.T) {
	b := New()

	_, err := b.Connect("", "u", "p")
	assert.ErrorIs(t, err, broker.ErrRejected)

	conn, err := b.Connect("tcp://a:1", "u", "p")
	require.NoError(t, err)
	assert.False(t, b.Started())
	require.NoError(t, b.Start(conn))
	assert.True(t, b.Started())

	url, err := b.ActiveURL(conn)
	require.NoError(t, err)
	assert.Equal(t, "tcp://a:1", url)

	sess, err := b.CreateSession(conn, true, broker.ExplicitClientAck)
	require.NoError(t, err)
	assert.Equal(t, sess, b.ActiveSession())
	transacted, mode, ok := b.SessionMode(sess)
	require.True(t, ok)
	assert.True(t, transacted)
	assert.Equal(t, broker.ExplicitClientAck, mode)

	require.NoError(t, b.CloseSession(sess))
	assert.Zero(t, b.ActiveSession())
	require.NoError(t, b.CloseConnection(conn))
	assert.Equal(t, Counts{}, b.Outstanding())

	_, err = b.CreateSession(conn, false, broker.AutoAck)
	assert.ErrorIs(t, err, broker.ErrInvalidRef)
}
