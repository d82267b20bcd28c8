// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/message"
)

// Session is a single-goroutine messaging context with one implicit producer.
// Consumers created from it are owned by the caller and outlive Close.
// Callers should Close a session; one that becomes unreachable first is closed
// by the garbage collector.
type Session struct {
	conn     *Connection
	broker   broker.Broker
	ref      broker.SessionRef
	producer broker.ProducerRef
	logger   *slog.Logger
	ms       marshaler
	handle   *sessionHandle
	cleanup  runtime.Cleanup
	closed   bool
}

// sessionHandle owns the broker session and its implicit producer. It holds no
// reference back to the Session so it can be released from a cleanup.
type sessionHandle struct {
	broker   broker.Broker
	ref      broker.SessionRef
	producer broker.ProducerRef
	logger   *slog.Logger
	once     sync.Once
}

func (h *sessionHandle) release() {
	h.once.Do(func() {
		if h.producer != 0 {
			if err := h.broker.CloseProducer(h.producer); err != nil {
				h.logger.Error("failed to close producer", slog.Uint64("producer", uint64(h.producer)), slog.String("error", err.Error()))
			}
		}
		if err := h.broker.CloseSession(h.ref); err != nil {
			h.logger.Error("failed to close session", slog.String("error", err.Error()))
			return
		}
		h.logger.Debug("session closed")
	})
}

func releaseSession(h *sessionHandle) {
	h.logger.Warn("session released without Close", slog.Uint64("session", uint64(h.ref)))
	h.release()
}

// Close closes the implicit producer and then the session. Each step is
// attempted once; failures are logged and not returned. Close is idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.producer = 0
	s.cleanup.Stop()
	s.handle.release()
}

func (s *Session) closeProducer(p broker.ProducerRef) {
	if err := s.broker.CloseProducer(p); err != nil {
		s.logger.Error("failed to close producer", slog.Uint64("producer", uint64(p)), slog.String("error", err.Error()))
	}
}

// QueueConsumer creates a consumer on dest. Any destination kind is accepted.
func (s *Session) QueueConsumer(dest message.Destination, selector string) (*Consumer, error) {
	return s.consumer(dest, func(d broker.DestRef) (broker.ConsumerRef, error) {
		return s.broker.CreateConsumer(s.ref, d, selector, true)
	})
}

// TopicConsumer creates a shared subscription named subscription on a topic.
func (s *Session) TopicConsumer(dest message.Destination, subscription, selector string) (*Consumer, error) {
	if !dest.IsTopic() {
		return nil, stepError(ErrWrongDestinationKind, StepDestinationKind, fmt.Errorf("%s is not a topic", dest))
	}
	return s.consumer(dest, func(d broker.DestRef) (broker.ConsumerRef, error) {
		return s.broker.CreateSharedConsumer(s.ref, d, subscription, selector)
	})
}

// TopicDurableConsumer creates a shared durable subscription named durable on a topic.
func (s *Session) TopicDurableConsumer(dest message.Destination, durable, selector string) (*Consumer, error) {
	if !dest.IsTopic() {
		return nil, stepError(ErrWrongDestinationKind, StepDestinationKind, fmt.Errorf("%s is not a topic", dest))
	}
	return s.consumer(dest, func(d broker.DestRef) (broker.ConsumerRef, error) {
		return s.broker.CreateSharedDurableConsumer(s.ref, d, durable, selector)
	})
}

func (s *Session) consumer(dest message.Destination, create func(broker.DestRef) (broker.ConsumerRef, error)) (*Consumer, error) {
	d, err := s.broker.CreateDestination(dest.Kind, dest.Name)
	if err != nil {
		s.logger.Error("create destination failed", slog.String("destination", dest.String()), slog.String("error", err.Error()))
		return nil, stepError(ErrConsumerCreate, StepCreateDestination, err)
	}
	defer s.ms.destroyDestination(d)

	ref, err := create(d)
	if err != nil {
		s.logger.Error("create consumer failed", slog.String("destination", dest.String()), slog.String("error", err.Error()))
		return nil, stepError(ErrConsumerCreate, StepCreateConsumer, err)
	}

	s.logger.Debug("consumer created", slog.String("destination", dest.String()))
	return &Consumer{
		broker:  s.broker,
		ref:     ref,
		dest:    dest,
		logger:  s.logger,
		ms:      s.ms,
		metrics: s.conn.opts.Metrics,
	}, nil
}
