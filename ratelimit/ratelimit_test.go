// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/jms/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendLimiterAllow(t *testing.T) {
	// 5 sends per second, burst of 2
	l := NewSendLimiter(5, 2, time.Minute)
	defer l.Stop()

	q := message.Queue("q1")
	assert.True(t, l.Allow(q))
	assert.True(t, l.Allow(q))
	assert.False(t, l.Allow(q), "burst exhausted")

	time.Sleep(250 * time.Millisecond)
	assert.True(t, l.Allow(q), "token refilled")
}

func TestSendLimiterPerDestination(t *testing.T) {
	l := NewSendLimiter(1, 1, time.Minute)
	defer l.Stop()

	assert.True(t, l.Allow(message.Queue("a")))
	assert.True(t, l.Allow(message.Queue("b")))
	assert.True(t, l.Allow(message.Topic("a")), "topic and queue with the same name are distinct")

	assert.False(t, l.Allow(message.Queue("a")))
	assert.False(t, l.Allow(message.Queue("b")))
	assert.Equal(t, 3, l.Len())
}

func TestSendLimiterWait(t *testing.T) {
	l := NewSendLimiter(1, 1, time.Minute)
	defer l.Stop()

	q := message.Queue("slow")
	require.NoError(t, l.Wait(context.Background(), q))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, q), "second send within a second must not fit the deadline")
}

func TestSendLimiterRemoveAndEvict(t *testing.T) {
	l := NewSendLimiter(1, 1, time.Minute)
	defer l.Stop()

	l.Allow(message.Queue("a"))
	l.Allow(message.Queue("b"))
	l.Remove(message.Queue("a"))
	assert.Equal(t, 1, l.Len())

	l.evict(time.Now().Add(time.Second))
	assert.Zero(t, l.Len())
}

func TestNilSendLimiter(t *testing.T) {
	var l *SendLimiter
	assert.True(t, l.Allow(message.Queue("q")))
	assert.NoError(t, l.Wait(context.Background(), message.Queue("q")))
}

func TestStopIsIdempotent(t *testing.T) {
	l := NewSendLimiter(1, 1, 0)
	assert.Equal(t, DefaultCleanupInterval, l.cleanup)
	l.Stop()
	assert.NotPanics(t, l.Stop)
}
