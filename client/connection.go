// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client implements sessions, consumers and the request-reply protocol
// on top of a broker.Broker collaborator.
package client

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/absmach/jms/broker"
)

// Connection is a started broker connection. It is safe for concurrent use and
// stays open until the context passed to Connect is done.
type Connection struct {
	broker broker.Broker
	ref    broker.ConnRef
	opts   *Options
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// Connect opens and starts a connection. A connection whose start step fails is
// closed again before Connect returns. A nil opts uses NewOptions().
func Connect(ctx context.Context, b broker.Broker, url, user, password string, opts *Options) (*Connection, error) {
	if opts == nil {
		opts = NewOptions()
	}
	logger := opts.logger()

	ref, err := b.Connect(url, user, password)
	if err != nil {
		logger.Error("connect failed", slog.String("url", url), slog.String("error", err.Error()))
		return nil, stepError(ErrConnect, StepConnect, err)
	}
	if err := b.Start(ref); err != nil {
		logger.Error("connection start failed", slog.String("url", url), slog.String("error", err.Error()))
		if cerr := b.CloseConnection(ref); cerr != nil {
			logger.Warn("failed to close unstarted connection", slog.String("error", cerr.Error()))
		}
		return nil, stepError(ErrConnect, StepStart, err)
	}

	c := &Connection{
		broker: b,
		ref:    ref,
		opts:   opts,
		logger: logger,
		done:   make(chan struct{}),
	}
	context.AfterFunc(ctx, c.close)
	logger.Debug("connected", slog.String("url", url))
	return c, nil
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		if err := c.broker.CloseConnection(c.ref); err != nil {
			c.logger.Warn("failed to close connection", slog.String("error", err.Error()))
		}
		close(c.done)
		c.logger.Debug("connection closed")
	})
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Session opens an auto-acknowledge session.
func (c *Connection) Session() (*Session, error) {
	return c.newSession(false, broker.AutoAck)
}

// TransactedSession opens a session whose delivered messages are acknowledged
// individually through Confirm or recovered through Rollback.
func (c *Connection) TransactedSession() (*Session, error) {
	return c.newSession(true, broker.ExplicitClientAck)
}

func (c *Connection) newSession(transacted bool, mode broker.AckMode) (*Session, error) {
	ref, err := c.broker.CreateSession(c.ref, transacted, mode)
	if err != nil {
		c.logger.Error("create session failed", slog.String("mode", mode.String()), slog.String("error", err.Error()))
		return nil, stepError(ErrSessionCreate, StepCreateSession, err)
	}

	producer, err := c.broker.CreateProducer(ref, 0)
	if err != nil {
		c.logger.Error("create implicit producer failed", slog.String("error", err.Error()))
		if cerr := c.broker.CloseSession(ref); cerr != nil {
			c.logger.Warn("failed to close session", slog.String("error", cerr.Error()))
		}
		return nil, stepError(ErrProducerCreate, StepCreateProducer, err)
	}

	s := &Session{
		conn:     c,
		broker:   c.broker,
		ref:      ref,
		producer: producer,
		logger:   c.logger,
		ms:       marshaler{b: c.broker, logger: c.logger},
		handle:   &sessionHandle{broker: c.broker, ref: ref, producer: producer, logger: c.logger},
	}
	s.cleanup = runtime.AddCleanup(s, releaseSession, s.handle)
	return s, nil
}

// ActiveURL returns the URL of the server the connection is attached to.
func (c *Connection) ActiveURL() (string, error) {
	return c.broker.ActiveURL(c.ref)
}
