// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"

	jmsotel "github.com/absmach/jms/otel"
	"github.com/absmach/jms/ratelimit"
	"go.opentelemetry.io/otel/trace"
)

// Options configures a Connection and the sessions derived from it.
type Options struct {
	Logger      *slog.Logger           // nil uses slog.Default()
	Metrics     *jmsotel.Metrics       // nil disables metrics
	Tracer      trace.Tracer           // nil disables send spans
	SendLimiter *ratelimit.SendLimiter // nil disables send rate limiting
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Logger: slog.Default(),
	}
}

// SetLogger sets the logger.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

// SetMetrics sets the metrics instruments.
func (o *Options) SetMetrics(m *jmsotel.Metrics) *Options {
	o.Metrics = m
	return o
}

// SetTracer sets the tracer used for send spans.
func (o *Options) SetTracer(t trace.Tracer) *Options {
	o.Tracer = t
	return o
}

// SetSendLimiter sets the per-destination send limiter.
func (o *Options) SetSendLimiter(l *ratelimit.SendLimiter) *Options {
	o.SendLimiter = l
	return o
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
