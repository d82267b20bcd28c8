// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	acks     atomic.Int32
	recovers atomic.Int32
	releases atomic.Int32
	err      error
}

func (h *fakeHandle) Acknowledge() error {
	h.acks.Add(1)
	return h.err
}

func (h *fakeHandle) Recover() error {
	h.recovers.Add(1)
	return h.err
}

func (h *fakeHandle) Release() error {
	h.releases.Add(1)
	return nil
}

func allKinds() []Message {
	return []Message{
		NewText("hello"),
		NewBytes([]byte{0xca, 0xfe}),
		NewMap().Set("a", Integer(1)),
		NewObject([]byte("obj")),
	}
}

func TestMessageKinds(t *testing.T) {
	want := []string{"TextMessage", "BytesMessage", "MapMessage", "ObjectMessage"}
	for i, m := range allKinds() {
		assert.Equal(t, want[i], m.Kind().String())
	}
	assert.Equal(t, "UnknownMessage", Kind(0).String())
}

func TestCloneNeverCarriesHandle(t *testing.T) {
	for _, m := range allKinds() {
		t.Run(m.Kind().String(), func(t *testing.T) {
			h := &fakeHandle{}
			m.Base().SetHeader(HeaderCorrelationID, String("c-1"))
			m.Base().ReplyTo = Queue("reply").Ptr()
			Attach(m, h)
			require.True(t, m.Base().HasHandle())

			cp := m.Clone()
			assert.False(t, cp.Base().HasHandle())
			assert.Equal(t, m.Kind(), cp.Kind())
			assert.True(t, BodyEqual(m.Base().Header, cp.Base().Header))
			assert.Equal(t, *m.Base().ReplyTo, *cp.Base().ReplyTo)

			require.NoError(t, cp.Confirm())
			require.NoError(t, cp.Destroy())
			assert.Zero(t, h.acks.Load())
			assert.Zero(t, h.releases.Load())

			require.NoError(t, m.Destroy())
			assert.Equal(t, int32(1), h.releases.Load())
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := NewMap().Set("a", Integer(1))
	m.SetHeader("h", String("v"))
	m.Destination = Topic("t").Ptr()

	cp := m.Clone().(*MapMessage)
	cp.Set("b", Integer(2))
	cp.SetHeader("h", String("changed"))
	cp.Destination.Name = "other"

	assert.Len(t, m.Body, 1)
	assert.Equal(t, "v", m.Header["h"].String())
	assert.Equal(t, "t", m.Destination.Name)
}

func TestDestroyReleasesOnce(t *testing.T) {
	h := &fakeHandle{}
	m := NewText("x")
	Attach(m, h)

	require.NoError(t, m.Destroy())
	require.NoError(t, m.Destroy())
	assert.Equal(t, int32(1), h.releases.Load())
	assert.False(t, m.HasHandle())
}

func TestAttachReplacesPreviousHandle(t *testing.T) {
	first, second := &fakeHandle{}, &fakeHandle{}
	m := NewBytes(nil)
	Attach(m, first)
	Attach(m, second)

	assert.Equal(t, int32(1), first.releases.Load())
	require.NoError(t, m.Destroy())
	assert.Equal(t, int32(1), second.releases.Load())
}

func TestConfirmAndRollback(t *testing.T) {
	boom := errors.New("boom")
	h := &fakeHandle{err: boom}
	m := NewObject(nil)

	require.NoError(t, m.Confirm())
	require.NoError(t, m.Rollback())

	Attach(m, h)
	assert.ErrorIs(t, m.Confirm(), boom)
	assert.ErrorIs(t, m.Rollback(), boom)
	assert.Equal(t, int32(1), h.acks.Load())
	assert.Equal(t, int32(1), h.recovers.Load())
}

func TestUnreachableMessageReleasesHandle(t *testing.T) {
	h := &fakeHandle{}
	func() {
		m := NewText("lost")
		Attach(m, h)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for h.releases.Load() == 0 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int32(1), h.releases.Load())
}

func TestHeaderHelpers(t *testing.T) {
	var e Envelope
	_, ok := e.HeaderValue("missing")
	assert.False(t, ok)

	e.SetHeader(HeaderType, String("order"))
	v, ok := e.HeaderValue(HeaderType)
	require.True(t, ok)
	assert.Equal(t, "order", v.String())
}

func TestDestination(t *testing.T) {
	assert.Equal(t, Queue("a"), Queue("a"))
	assert.NotEqual(t, Queue("a"), Topic("a"))
	assert.NotEqual(t, Queue("a"), Queue("b"))
	assert.True(t, Queue("a").IsQueue())
	assert.True(t, Topic("a").IsTopic())
	assert.Equal(t, "topic:news", Topic("news").String())
}
