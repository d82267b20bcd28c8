// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/message"
	jmsotel "github.com/absmach/jms/otel"
)

// Consumer receives messages from one destination. It is owned by its creator,
// independently of the Session it was created from.
type Consumer struct {
	broker  broker.Broker
	ref     broker.ConsumerRef
	dest    message.Destination
	logger  *slog.Logger
	ms      marshaler
	metrics *jmsotel.Metrics
	closed  bool
}

// Destination returns the destination the consumer was created on.
func (c *Consumer) Destination() message.Destination {
	return c.dest
}

// Receive blocks until a message arrives. It returns (nil, nil) when the
// collaborator reports that nothing is available.
func (c *Consumer) Receive() (message.Message, error) {
	return c.receive(-1)
}

// ReceiveTimeout waits up to timeout and returns (nil, nil) when nothing arrived.
func (c *Consumer) ReceiveTimeout(timeout time.Duration) (message.Message, error) {
	if timeout < 0 {
		timeout = 0
	}
	return c.receive(timeout)
}

// ReceiveText receives a text message. A negative timeout blocks.
// Any other message kind fails with ErrUnexpectedType.
func (c *Consumer) ReceiveText(timeout time.Duration) (*message.TextMessage, error) {
	return receiveAs[*message.TextMessage](c, timeout)
}

// ReceiveBytes receives a bytes message. A negative timeout blocks.
func (c *Consumer) ReceiveBytes(timeout time.Duration) (*message.BytesMessage, error) {
	return receiveAs[*message.BytesMessage](c, timeout)
}

// ReceiveMap receives a map message. A negative timeout blocks.
func (c *Consumer) ReceiveMap(timeout time.Duration) (*message.MapMessage, error) {
	return receiveAs[*message.MapMessage](c, timeout)
}

// ReceiveObject receives an object message. A negative timeout blocks.
func (c *Consumer) ReceiveObject(timeout time.Duration) (*message.ObjectMessage, error) {
	return receiveAs[*message.ObjectMessage](c, timeout)
}

func receiveAs[T message.Message](c *Consumer, timeout time.Duration) (T, error) {
	var zero T
	m, err := c.receive(timeout)
	if err != nil || m == nil {
		return zero, err
	}
	t, ok := m.(T)
	if !ok {
		if derr := m.Destroy(); derr != nil {
			c.logger.Error("failed to destroy message", slog.String("error", derr.Error()))
		}
		return zero, fmt.Errorf("%w: expected %T, found %s", ErrUnexpectedType, zero, m.Kind())
	}
	return t, nil
}

func (c *Consumer) receive(timeout time.Duration) (message.Message, error) {
	var (
		ref broker.MsgRef
		err error
	)
	if timeout < 0 {
		ref, err = c.broker.Receive(c.ref)
	} else {
		ref, err = c.broker.ReceiveTimeout(c.ref, timeout)
	}
	switch {
	case errors.Is(err, broker.ErrTimeout):
		return nil, nil
	case err != nil:
		c.logger.Error("receive failed", slog.String("destination", c.dest.String()), slog.String("error", err.Error()))
		c.metrics.RecordError(context.Background(), "receive")
		return nil, stepError(ErrReceive, StepReceive, err)
	}

	m, err := c.ms.decode(ref)
	if err != nil {
		c.ms.destroyMessage(ref)
		c.metrics.RecordError(context.Background(), "decode")
		return nil, stepError(ErrReceive, StepDecode, err)
	}
	c.metrics.RecordReceived(context.Background(), m.Kind())
	return m, nil
}

// Close closes the consumer. Failures are logged. Close is idempotent.
func (c *Consumer) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if err := c.broker.CloseConsumer(c.ref); err != nil {
		c.logger.Error("failed to close consumer", slog.String("destination", c.dest.String()), slog.String("error", err.Error()))
	}
}
