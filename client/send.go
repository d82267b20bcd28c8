// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"log/slog"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const messagingSystem = "jms"

// Send sends m to dest.
func (s *Session) Send(dest message.Destination, m message.Message) error {
	return s.SendContext(context.Background(), dest, m)
}

// SendContext sends m to dest. ctx bounds the rate limiter wait and parents the send span.
//
// The destination reference, any ad hoc producer and the wire message are
// released in that order after the send, whether it succeeded or not.
func (s *Session) SendContext(ctx context.Context, dest message.Destination, m message.Message) (err error) {
	ctx, span := s.startSpan(ctx, "send", dest)
	defer func() {
		s.endSpan(ctx, span, "send", err)
	}()
	m = injectTrace(m, span)

	var (
		d     broker.DestRef
		adhoc broker.ProducerRef
		ref   broker.MsgRef
	)
	defer func() {
		if adhoc != 0 {
			s.closeProducer(adhoc)
		}
		if ref != 0 {
			s.ms.destroyMessage(ref)
		}
		if d != 0 {
			s.ms.destroyDestination(d)
		}
	}()

	if d, err = s.broker.CreateDestination(dest.Kind, dest.Name); err != nil {
		return stepError(ErrSend, StepCreateDestination, err)
	}

	producer := s.producer
	if producer == 0 {
		if adhoc, err = s.broker.CreateProducer(s.ref, d); err != nil {
			return stepError(ErrSend, StepCreateProducer, err)
		}
		producer = adhoc
	}

	if ref, err = s.ms.encode(m, 0); err != nil {
		return stepError(ErrSend, StepEncode, err)
	}

	if err = s.conn.opts.SendLimiter.Wait(ctx, dest); err != nil {
		return stepError(ErrSend, StepRateLimit, err)
	}

	if err = s.broker.Send(producer, d, ref); err != nil {
		return stepError(ErrSend, StepSend, err)
	}

	s.conn.opts.Metrics.RecordSent(ctx, dest, m.Kind())
	s.logger.Debug("message sent", slog.String("destination", dest.String()), slog.String("kind", m.Kind().String()))
	return nil
}

func (s *Session) startSpan(ctx context.Context, name string, dest message.Destination) (context.Context, trace.Span) {
	tracer := s.conn.opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", messagingSystem),
			attribute.String("messaging.destination", dest.Name),
			attribute.String("messaging.destination_kind", dest.Kind.String()),
		),
	)
}

func (s *Session) endSpan(ctx context.Context, span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.conn.opts.Metrics.RecordError(ctx, op)
		s.logger.Error(op+" failed", slog.String("error", err.Error()))
	}
	span.End()
}

// injectTrace returns a copy of m carrying the span and trace ids in its header.
// Messages without a header, and unsampled spans, are returned unchanged.
func injectTrace(m message.Message, span trace.Span) message.Message {
	sc := span.SpanContext()
	if m == nil || m.Base().Header == nil || !sc.IsValid() {
		return m
	}
	out := m.Clone()
	out.Base().SetHeader(message.HeaderSpanID, message.String(sc.SpanID().String()))
	out.Base().SetHeader(message.HeaderTraceID, message.String(sc.TraceID().String()))
	return out
}
