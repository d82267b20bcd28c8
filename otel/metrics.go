// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/jms/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Request-reply outcomes.
const (
	OutcomeReply   = "reply"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Metrics holds OpenTelemetry instruments for the messaging client.
// A nil *Metrics records nothing.
type Metrics struct {
	meter metric.Meter

	messagesSent     metric.Int64Counter
	messagesReceived metric.Int64Counter
	requestsTotal    metric.Int64Counter
	errorsTotal      metric.Int64Counter

	requestDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on mp. A nil mp uses the global provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := &Metrics{
		meter: mp.Meter("github.com/absmach/jms"),
	}

	var err error

	m.messagesSent, err = m.meter.Int64Counter(
		"jms.messages.sent.total",
		metric.WithDescription("Total messages sent"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesSent counter: %w", err)
	}

	m.messagesReceived, err = m.meter.Int64Counter(
		"jms.messages.received.total",
		metric.WithDescription("Total messages received"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesReceived counter: %w", err)
	}

	m.requestsTotal, err = m.meter.Int64Counter(
		"jms.requests.total",
		metric.WithDescription("Total request-reply exchanges by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requestsTotal counter: %w", err)
	}

	m.errorsTotal, err = m.meter.Int64Counter(
		"jms.errors.total",
		metric.WithDescription("Total errors by operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errorsTotal counter: %w", err)
	}

	m.requestDuration, err = m.meter.Float64Histogram(
		"jms.request.duration.ms",
		metric.WithDescription("Request-reply duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requestDuration histogram: %w", err)
	}

	return m, nil
}

// RecordSent records a message sent to dest.
func (m *Metrics) RecordSent(ctx context.Context, dest message.Destination, kind message.Kind) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("destination.kind", dest.Kind.String()),
		attribute.String("message.kind", kind.String()),
	))
}

// RecordReceived records a delivered message.
func (m *Metrics) RecordReceived(ctx context.Context, kind message.Kind) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("message.kind", kind.String()),
	))
}

// RecordRequest records a finished request-reply exchange.
func (m *Metrics) RecordRequest(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.requestsTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

// RecordError records a failed operation.
func (m *Metrics) RecordError(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
	))
}
