// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package testutil wires an in-memory broker into connected client sessions for tests.
package testutil

import (
	"context"
	"testing"

	"github.com/absmach/jms/broker/mock"
	"github.com/absmach/jms/client"
	"github.com/stretchr/testify/require"
)

// MockURL is the URL test connections are opened with.
const MockURL = "tcp://mock:7222"

// NewMockConnection connects to a fresh mock broker. The connection is closed
// when the test ends.
func NewMockConnection(t testing.TB, opts ...mock.Option) (*client.Connection, *mock.Broker) {
	t.Helper()

	b := mock.New(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn, err := client.Connect(ctx, b, MockURL, "admin", "", nil)
	require.NoError(t, err)
	return conn, b
}

// NewMockSession returns an open session on a fresh mock broker. The session
// is closed when the test ends.
func NewMockSession(t testing.TB, opts ...mock.Option) (*client.Session, *mock.Broker) {
	t.Helper()

	conn, b := NewMockConnection(t, opts...)
	sess, err := conn.Session()
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess, b
}
