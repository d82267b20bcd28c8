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

// requestState tracks the progress of one request-reply exchange.
type requestState uint8

const (
	stateInit requestState = iota
	stateTempDestCreated
	stateProducerCreated
	stateSent
	stateConsumerCreated
	stateAwaitingReply
	stateReplyReceived
	stateTimedOut
	stateTempDestDeleted
	stateDone
)

func (s requestState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateTempDestCreated:
		return "temp_dest_created"
	case stateProducerCreated:
		return "producer_created"
	case stateSent:
		return "sent"
	case stateConsumerCreated:
		return "consumer_created"
	case stateAwaitingReply:
		return "awaiting_reply"
	case stateReplyReceived:
		return "reply_received"
	case stateTimedOut:
		return "timed_out"
	case stateTempDestDeleted:
		return "temp_dest_deleted"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// request holds every collaborator resource acquired for one exchange.
type request struct {
	s        *Session
	target   message.Destination
	state    requestState
	temp     broker.DestRef
	dest     broker.DestRef
	producer broker.ProducerRef
	consumer broker.ConsumerRef
	msg      broker.MsgRef
}

func (r *request) advance(next requestState) {
	r.state = next
	r.s.logger.Debug("request-reply", slog.String("state", next.String()), slog.String("destination", r.target.String()))
}

// release frees everything acquired so far. The temporary destination is
// always deleted last.
func (r *request) release() {
	if r.msg != 0 {
		r.s.ms.destroyMessage(r.msg)
		r.msg = 0
	}
	if r.producer != 0 {
		r.s.closeProducer(r.producer)
		r.producer = 0
	}
	if r.dest != 0 {
		r.s.ms.destroyDestination(r.dest)
		r.dest = 0
	}
	if r.consumer != 0 {
		if err := r.s.broker.CloseConsumer(r.consumer); err != nil {
			r.s.logger.Error("failed to close reply consumer", slog.String("error", err.Error()))
		}
		r.consumer = 0
	}
	if r.temp != 0 {
		if err := r.deleteTemporary(); err != nil {
			r.s.logger.Error("failed to delete temporary destination", slog.String("error", err.Error()))
		}
		r.temp = 0
		r.advance(stateTempDestDeleted)
	}
	r.advance(stateDone)
}

func (r *request) createTemporary() (broker.DestRef, error) {
	if r.target.IsTopic() {
		return r.s.broker.CreateTemporaryTopic(r.s.ref)
	}
	return r.s.broker.CreateTemporaryQueue(r.s.ref)
}

func (r *request) deleteTemporary() error {
	if r.target.IsTopic() {
		return r.s.broker.DeleteTemporaryTopic(r.s.ref, r.temp)
	}
	return r.s.broker.DeleteTemporaryQueue(r.s.ref, r.temp)
}

// RequestReply sends m to dest with a fresh temporary destination as reply-to
// and waits up to timeout for the reply.
func (s *Session) RequestReply(dest message.Destination, m message.Message, timeout time.Duration) (message.Message, error) {
	return s.RequestReplyContext(context.Background(), dest, m, timeout)
}

// RequestReplyContext is RequestReply with a context for the rate limiter and span.
//
// It returns (nil, nil) when no reply arrived in time. Any reply-to set on m is
// ignored and m itself is never modified. The temporary destination, producer
// and consumer created for the call are released before it returns.
func (s *Session) RequestReplyContext(ctx context.Context, dest message.Destination, m message.Message, timeout time.Duration) (reply message.Message, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "request_reply", dest)
	r := &request{s: s, target: dest}
	defer func() {
		r.release()

		outcome := jmsotel.OutcomeReply
		switch {
		case err != nil:
			outcome = jmsotel.OutcomeError
		case reply == nil:
			outcome = jmsotel.OutcomeTimeout
		}
		s.conn.opts.Metrics.RecordRequest(ctx, outcome, time.Since(start))
		s.endSpan(ctx, span, "request_reply", err)
	}()
	m = injectTrace(m, span)

	if r.temp, err = r.createTemporary(); err != nil {
		return nil, stepError(ErrSend, StepCreateTemporary, err)
	}
	r.advance(stateTempDestCreated)

	if r.dest, err = s.broker.CreateDestination(dest.Kind, dest.Name); err != nil {
		return nil, stepError(ErrSend, StepCreateDestination, err)
	}
	if r.producer, err = s.broker.CreateProducer(s.ref, r.dest); err != nil {
		return nil, stepError(ErrProducerCreate, StepCreateProducer, err)
	}
	r.advance(stateProducerCreated)

	if r.msg, err = s.ms.encode(m, r.temp); err != nil {
		return nil, stepError(ErrSend, StepEncode, err)
	}
	if err = s.conn.opts.SendLimiter.Wait(ctx, dest); err != nil {
		return nil, stepError(ErrSend, StepRateLimit, err)
	}
	if err = s.broker.Send(r.producer, 0, r.msg); err != nil {
		return nil, stepError(ErrSend, StepSend, err)
	}
	s.conn.opts.Metrics.RecordSent(ctx, dest, m.Kind())
	r.advance(stateSent)

	if r.consumer, err = s.broker.CreateConsumer(s.ref, r.temp, "", true); err != nil {
		return nil, stepError(ErrConsumerCreate, StepCreateConsumer, err)
	}
	r.advance(stateConsumerCreated)

	if timeout < 0 {
		timeout = 0
	}
	r.advance(stateAwaitingReply)
	ref, err := s.broker.ReceiveTimeout(r.consumer, timeout)
	if errors.Is(err, broker.ErrTimeout) {
		r.advance(stateTimedOut)
		return nil, nil
	}
	if err != nil {
		return nil, stepError(ErrReceive, StepReceive, err)
	}

	reply, err = s.ms.decode(ref)
	if err != nil {
		s.ms.destroyMessage(ref)
		return nil, stepError(ErrReceive, StepDecode, fmt.Errorf("reply: %w", err))
	}
	r.advance(stateReplyReceived)
	return reply, nil
}
