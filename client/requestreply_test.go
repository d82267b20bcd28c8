// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client_test

import (
	"strings"
	"testing"
	"time"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/broker/mock"
	"github.com/absmach/jms/broker/wire"
	"github.com/absmach/jms/client"
	"github.com/absmach/jms/message"
	"github.com/absmach/jms/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(dest message.Destination, req *wire.Message) *wire.Message {
	reply := wire.New(message.TextKind)
	reply.Text = "re: " + req.Text
	if id := req.MessageID; id != "" {
		reply.CorrelationID = &id
	}
	return reply
}

func assertReleased(t *testing.T, b *mock.Broker) {
	t.Helper()
	out := b.Outstanding()
	assert.Empty(t, b.LiveTemporaries(), "temporary destination deleted")
	assert.Zero(t, out.Destinations)
	assert.Zero(t, out.Consumers)
	assert.Equal(t, 1, out.Producers, "only the implicit producer")
}

func TestRequestReplyTimeout(t *testing.T) {
	sess, b := testutil.NewMockSession(t)

	start := time.Now()
	reply, err := sess.RequestReply(message.Queue("q1"), message.NewText("ping"), 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, reply)
	assert.Less(t, time.Since(start), time.Second)
	assertReleased(t, b)
	assert.Zero(t, b.Outstanding().Messages)

	// A second call must not collide with the first temporary destination.
	reply, err = sess.RequestReply(message.Queue("q1"), message.NewText("ping"), 50*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, reply)
	assertReleased(t, b)

	log := b.Log()
	require.Len(t, log, 2, "request sent as a normal message")
	assert.Equal(t, message.Queue("q1"), log[0].Destination)
}

func TestRequestReplyWithResponder(t *testing.T) {
	sess, b := testutil.NewMockSession(t, mock.WithResponder(echo))

	req := message.NewText("ping")
	req.ReplyTo = message.Queue("ignored").Ptr()

	reply, err := sess.RequestReply(message.Queue("svc"), req, time.Second)
	require.NoError(t, err)
	require.NotNil(t, reply)

	text, ok := reply.(*message.TextMessage)
	require.True(t, ok)
	assert.Equal(t, "re: ping", text.Body)
	_, ok = text.HeaderValue(message.HeaderCorrelationID)
	assert.True(t, ok)

	assert.Equal(t, message.Queue("ignored"), *req.ReplyTo, "caller message not mutated")
	assert.Nil(t, req.Header)

	log := b.Log()
	require.NotEmpty(t, log)
	sent := log[0].Message
	require.NotNil(t, sent.ReplyTo)
	assert.True(t, sent.ReplyTo.IsQueue())
	assert.True(t, strings.HasPrefix(sent.ReplyTo.Name, mock.TempPrefix), "reply-to overwritten with the temporary destination")

	assertReleased(t, b)
	assert.Equal(t, 1, b.Outstanding().Messages, "reply owned by the caller")
	require.NoError(t, reply.Destroy())
	assert.Zero(t, b.Outstanding().Messages)
}

func TestRequestReplyTopicUsesTemporaryTopic(t *testing.T) {
	sess, b := testutil.NewMockSession(t, mock.WithResponder(echo))

	reply, err := sess.RequestReply(message.Topic("svc"), message.NewText("ping"), time.Second)
	require.NoError(t, err)
	require.NotNil(t, reply)
	defer reply.Destroy()

	assert.Equal(t, 1, b.Count(mock.OpCreateTemporaryTopic))
	assert.Equal(t, 1, b.Count(mock.OpDeleteTemporaryTopic))
	assert.Zero(t, b.Count(mock.OpCreateTemporaryQueue))
}

func TestRequestReplyProtocolOrder(t *testing.T) {
	sess, b := testutil.NewMockSession(t)
	b.ResetCalls()

	_, err := sess.RequestReply(message.Queue("q"), message.NewText("ping"), 10*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, []mock.Op{
		mock.OpCreateTemporaryQueue,
		mock.OpCreateDestination,
		mock.OpCreateProducer,
		mock.OpCreateMessage,
		mock.OpSetReplyTo,
		mock.OpSend,
		mock.OpCreateConsumer,
		mock.OpReceive,
		mock.OpDestroyMessage,
		mock.OpCloseProducer,
		mock.OpDestroyDestination,
		mock.OpCloseConsumer,
		mock.OpDeleteTemporaryQueue,
	}, b.Calls())
}

func TestRequestReplyFailuresReleaseEverything(t *testing.T) {
	cases := []struct {
		name    string
		op      mock.Op
		wantErr error
	}{
		{name: "temporary destination", op: mock.OpCreateTemporaryQueue, wantErr: client.ErrSend},
		{name: "destination", op: mock.OpCreateDestination, wantErr: client.ErrSend},
		{name: "producer", op: mock.OpCreateProducer, wantErr: client.ErrProducerCreate},
		{name: "encode", op: mock.OpSetReplyTo, wantErr: client.ErrSend},
		{name: "send", op: mock.OpSend, wantErr: client.ErrSend},
		{name: "consumer", op: mock.OpCreateConsumer, wantErr: client.ErrConsumerCreate},
		{name: "receive", op: mock.OpReceive, wantErr: client.ErrReceive},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess, b := testutil.NewMockSession(t)
			b.FailOn(tc.op, errBoom)

			reply, err := sess.RequestReply(message.Queue("q"), message.NewText("ping"), 10*time.Millisecond)
			assert.Nil(t, reply)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.ErrorIs(t, err, errBoom)

			assertReleased(t, b)
			assert.Zero(t, b.Outstanding().Messages)
		})
	}
}

func TestRequestReplyUndeletedTemporaryCollides(t *testing.T) {
	sess, b := testutil.NewMockSession(t)
	b.FailOn(mock.OpDeleteTemporaryQueue, errBoom)

	reply, err := sess.RequestReply(message.Queue("q"), message.NewText("ping"), 10*time.Millisecond)
	assert.NoError(t, err, "delete failure is logged, not returned")
	assert.Nil(t, reply)
	assert.Len(t, b.LiveTemporaries(), 1)

	b.FailOn(mock.OpDeleteTemporaryQueue, nil)
	reply, err = sess.RequestReply(message.Queue("q"), message.NewText("ping"), 10*time.Millisecond)
	assert.Nil(t, reply)
	assert.ErrorIs(t, err, client.ErrSend)
	assert.ErrorIs(t, err, broker.ErrIllegalState)
}
