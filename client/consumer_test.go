// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client_test

import (
	"testing"
	"time"

	"github.com/absmach/jms/broker/mock"
	"github.com/absmach/jms/client"
	"github.com/absmach/jms/message"
	"github.com/absmach/jms/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedReceive(t *testing.T) {
	q := message.Queue("typed")
	sess, b := testutil.NewMockSession(t, mock.WithConsumeOnReceive())

	require.NoError(t, sess.Send(q, message.NewText("t")))
	require.NoError(t, sess.Send(q, message.NewBytes([]byte{1})))
	require.NoError(t, sess.Send(q, message.NewMap().Set("k", message.Boolean(true))))
	require.NoError(t, sess.Send(q, message.NewObject([]byte("o"))))
	require.NoError(t, sess.Send(q, message.NewText("wrong")))

	c, err := sess.QueueConsumer(q, "")
	require.NoError(t, err)
	defer c.Close()

	text, err := c.ReceiveText(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "t", text.Body)
	require.NoError(t, text.Destroy())

	bytes, err := c.ReceiveBytes(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, bytes.Body)
	require.NoError(t, bytes.Destroy())

	mm, err := c.ReceiveMap(time.Second)
	require.NoError(t, err)
	v, ok := mm.Get("k")
	require.True(t, ok)
	assert.True(t, v.Equal(message.Boolean(true)))
	require.NoError(t, mm.Destroy())

	obj, err := c.ReceiveObject(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("o"), obj.Body)
	require.NoError(t, obj.Destroy())

	_, err = c.ReceiveMap(time.Second)
	assert.ErrorIs(t, err, client.ErrUnexpectedType)
	assert.Zero(t, b.Outstanding().Messages, "mismatched message released")

	none, err := c.ReceiveText(time.Second)
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestUntimedReceive(t *testing.T) {
	q := message.Queue("q")
	sess, _ := testutil.NewMockSession(t)
	require.NoError(t, sess.Send(q, message.NewText("x")))

	c, err := sess.QueueConsumer(q, "")
	require.NoError(t, err)
	defer c.Close()

	m, err := c.Receive()
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, m.Destroy())

	blocking, err := c.ReceiveText(-1)
	require.NoError(t, err)
	require.NotNil(t, blocking)
	require.NoError(t, blocking.Destroy())
}

func TestReceiveFailure(t *testing.T) {
	sess, b := testutil.NewMockSession(t)
	c, err := sess.QueueConsumer(message.Queue("q"), "")
	require.NoError(t, err)
	defer c.Close()

	b.FailOn(mock.OpReceive, errBoom)
	_, err = c.ReceiveTimeout(time.Millisecond)
	assert.ErrorIs(t, err, client.ErrReceive)
	assert.ErrorIs(t, err, errBoom)
}

func TestTransactedConfirmRollback(t *testing.T) {
	conn, b := testutil.NewMockConnection(t)
	sess, err := conn.TransactedSession()
	require.NoError(t, err)
	defer sess.Close()

	q := message.Queue("tx")
	require.NoError(t, sess.Send(q, message.NewText("x")))

	c, err := sess.QueueConsumer(q, "")
	require.NoError(t, err)
	defer c.Close()

	first, err := c.ReceiveTimeout(time.Second)
	require.NoError(t, err)
	require.NoError(t, first.Confirm())
	assert.Equal(t, 1, b.Acknowledged())

	second, err := c.ReceiveTimeout(time.Second)
	require.NoError(t, err)
	require.NoError(t, second.Rollback())
	assert.Equal(t, 1, b.Recovered())

	clone := second.Clone()
	require.NoError(t, clone.Confirm(), "clone has no handle")
	assert.Equal(t, 1, b.Acknowledged())

	require.NoError(t, first.Destroy())
	require.NoError(t, second.Destroy())
	assert.Zero(t, b.Outstanding().Messages)
}

func TestReceiveRepeatsWithoutConsume(t *testing.T) {
	q := message.Queue("sticky")
	sess, b := testutil.NewMockSession(t)
	require.NoError(t, sess.Send(q, message.NewText("again")))

	c, err := sess.QueueConsumer(q, "")
	require.NoError(t, err)
	defer c.Close()

	for range 3 {
		m, err := c.ReceiveText(0)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "again", m.Body)
		require.NoError(t, m.Destroy())
	}
	assert.Len(t, b.Log(), 1)
}
