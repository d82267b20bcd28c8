// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/broker/mock"
	"github.com/absmach/jms/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMarshaler(t *testing.T) (marshaler, *mock.Broker) {
	t.Helper()
	b := mock.New()
	return marshaler{b: b, logger: slog.Default()}, b
}

func roundTrip(t *testing.T, ms marshaler, m message.Message) message.Message {
	t.Helper()
	ref, err := ms.encode(m, 0)
	require.NoError(t, err)
	got, err := ms.decode(ref)
	require.NoError(t, err)
	t.Cleanup(func() { _ = got.Destroy() })
	return got
}

func TestEncodeDecodeValues(t *testing.T) {
	values := map[string]message.TypedValue{
		"string":  message.String("x"),
		"integer": message.Integer(-7),
		"long":    message.Long(1 << 40),
		"float":   message.Float(1.5),
		"double":  message.Double(-2.25),
		"binary":  message.Binary([]byte{0, 1, 2}),
		"boolean": message.Boolean(true),
		"map":     message.Map(message.NewMap().Set("inner", message.Long(3))),
	}

	for name, v := range values {
		t.Run(name, func(t *testing.T) {
			ms, _ := newMarshaler(t)
			got := roundTrip(t, ms, message.NewMap().Set("v", v))

			mm, ok := got.(*message.MapMessage)
			require.True(t, ok)
			out, ok := mm.Get("v")
			require.True(t, ok)
			assert.True(t, v.Equal(out), "want %s, got %s", v, out)
		})
	}
}

func TestNestedMapRoundTrip(t *testing.T) {
	ms, b := newMarshaler(t)

	in := message.NewMap().
		Set("a", message.Integer(1)).
		Set("b", message.Map(message.NewMap().Set("c", message.String("x"))))

	ref, err := ms.encode(in, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Outstanding().Messages, "nested child is destroyed once attached")

	got, err := ms.decode(ref)
	require.NoError(t, err)

	mm, ok := got.(*message.MapMessage)
	require.True(t, ok)
	assert.True(t, message.BodyEqual(in.Body, mm.Body))

	require.NoError(t, got.Destroy())
	assert.Zero(t, b.Outstanding().Messages)
}

func TestDeeplyNestedMap(t *testing.T) {
	ms, _ := newMarshaler(t)

	leaf := message.NewMap().Set("leaf", message.Boolean(false))
	mid := message.NewMap().Set("deeper", message.Map(leaf)).Set("n", message.Double(0.5))
	in := message.NewMap().Set("mid", message.Map(mid))

	got := roundTrip(t, ms, in)
	assert.True(t, message.BodyEqual(in.Body, got.(*message.MapMessage).Body))
}

func TestEncodeDecodeKinds(t *testing.T) {
	cases := map[string]message.Message{
		"text":   message.NewText("hello"),
		"bytes":  message.NewBytes([]byte{1, 2, 3}),
		"object": message.NewObject([]byte("serialized")),
		"map":    message.NewMap().Set("k", message.String("v")),
	}

	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			ms, _ := newMarshaler(t)
			got := roundTrip(t, ms, m)
			assert.Equal(t, m.Kind(), got.Kind())

			switch want := m.(type) {
			case *message.TextMessage:
				assert.Equal(t, want.Body, got.(*message.TextMessage).Body)
			case *message.BytesMessage:
				assert.Equal(t, want.Body, got.(*message.BytesMessage).Body)
			case *message.ObjectMessage:
				assert.Equal(t, want.Body, got.(*message.ObjectMessage).Body)
			case *message.MapMessage:
				assert.True(t, message.BodyEqual(want.Body, got.(*message.MapMessage).Body))
			}
			assert.Nil(t, got.Base().Header, "no header without properties")
			assert.Nil(t, got.Base().ReplyTo)
		})
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	ms, _ := newMarshaler(t)

	in := message.NewText("body")
	in.SetHeader(message.HeaderCorrelationID, message.String("corr-1"))
	in.SetHeader(message.HeaderType, message.String("order"))
	in.SetHeader("priority", message.Integer(4))
	in.SetHeader("urgent", message.Boolean(true))
	in.ReplyTo = message.Topic("replies").Ptr()

	got := roundTrip(t, ms, in)
	env := got.Base()

	for name, want := range in.Header {
		v, ok := env.HeaderValue(name)
		require.True(t, ok, name)
		assert.True(t, want.Equal(v), name)
	}
	require.NotNil(t, env.ReplyTo)
	assert.Equal(t, message.Topic("replies"), *env.ReplyTo)
}

func TestAbsentCorrelationIDIsOmitted(t *testing.T) {
	ms, _ := newMarshaler(t)

	in := message.NewText("x")
	in.SetHeader("k", message.String("v"))

	got := roundTrip(t, ms, in)
	_, ok := got.Base().HeaderValue(message.HeaderCorrelationID)
	assert.False(t, ok)
	_, ok = got.Base().HeaderValue(message.HeaderType)
	assert.False(t, ok)
}

func TestReplyToOverride(t *testing.T) {
	ms, b := newMarshaler(t)

	temp, err := b.CreateDestination(message.QueueKind, "temp")
	require.NoError(t, err)

	in := message.NewText("x")
	in.ReplyTo = message.Queue("caller").Ptr()

	ref, err := ms.encode(in, temp)
	require.NoError(t, err)
	got, err := ms.decode(ref)
	require.NoError(t, err)
	defer got.Destroy()

	assert.Equal(t, message.Queue("temp"), *got.Base().ReplyTo)
	assert.Equal(t, message.Queue("caller"), *in.ReplyTo, "caller message is untouched")
}

func TestEncodeErrors(t *testing.T) {
	cases := []struct {
		name    string
		msg     func() message.Message
		wantErr error
	}{
		{
			name: "binary header",
			msg: func() message.Message {
				m := message.NewText("x")
				m.SetHeader("blob", message.Binary([]byte{1}))
				return m
			},
			wantErr: ErrUnsupportedType,
		},
		{
			name: "map header",
			msg: func() message.Message {
				m := message.NewText("x")
				m.SetHeader("nested", message.Map(message.NewMap()))
				return m
			},
			wantErr: ErrUnsupportedType,
		},
		{
			name: "non-string correlation id",
			msg: func() message.Message {
				m := message.NewBytes(nil)
				m.SetHeader(message.HeaderCorrelationID, message.Integer(1))
				return m
			},
			wantErr: ErrConversion,
		},
		{
			name: "non-string type",
			msg: func() message.Message {
				m := message.NewBytes(nil)
				m.SetHeader(message.HeaderType, message.Boolean(true))
				return m
			},
			wantErr: ErrConversion,
		},
		{
			name:    "nil message",
			msg:     func() message.Message { return nil },
			wantErr: ErrUnsupportedType,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ms, b := newMarshaler(t)
			_, err := ms.encode(tc.msg(), 0)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Zero(t, b.Outstanding().Messages, "partial wire message destroyed")
		})
	}
}

func TestEncodeRefusedMapValue(t *testing.T) {
	ms, b := newMarshaler(t)
	b.FailOn(mock.OpSetMapValue, broker.ErrUnsupported)

	_, err := ms.encode(message.NewMap().Set("k", message.Integer(1)), 0)
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.ErrorIs(t, err, broker.ErrUnsupported)
	assert.Zero(t, b.Outstanding().Messages)
}

func TestEncodeNestedFailureReleasesChild(t *testing.T) {
	ms, b := newMarshaler(t)
	boom := errors.New("boom")
	b.FailOn(mock.OpSetMapMessage, boom)

	in := message.NewMap().Set("b", message.Map(message.NewMap().Set("c", message.String("x"))))
	_, err := ms.encode(in, 0)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, b.Outstanding().Messages)
}

func TestDecodeNestedFailureIsUnsupported(t *testing.T) {
	ms, b := newMarshaler(t)

	in := message.NewMap().Set("b", message.Map(message.NewMap().Set("c", message.String("x"))))
	ref, err := ms.encode(in, 0)
	require.NoError(t, err)

	b.FailOn(mock.OpMapMessage, errors.New("cannot read nested"))
	_, err = ms.decode(ref)
	assert.ErrorIs(t, err, ErrUnsupportedType)
	require.NoError(t, b.DestroyMessage(ref))
}

func TestDecodedMessageOwnsRef(t *testing.T) {
	ms, b := newMarshaler(t)

	ref, err := ms.encode(message.NewText("x"), 0)
	require.NoError(t, err)
	got, err := ms.decode(ref)
	require.NoError(t, err)

	assert.True(t, got.Base().HasHandle())
	clone := got.Clone()
	assert.False(t, clone.Base().HasHandle())

	require.NoError(t, got.Confirm())
	require.NoError(t, got.Rollback())
	assert.Equal(t, 1, b.Acknowledged())
	assert.Equal(t, 1, b.Recovered())

	require.NoError(t, got.Destroy())
	require.NoError(t, got.Destroy())
	assert.Zero(t, b.Outstanding().Messages)
	assert.Equal(t, 1, b.Count(mock.OpDestroyMessage))
}
