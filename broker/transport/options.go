// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"log/slog"
	"time"

	"github.com/absmach/jms/codec"
)

// Defaults.
const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultPublishTimeout   = 5 * time.Second
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

type options struct {
	logger           *slog.Logger
	codec            *codec.Codec
	connectTimeout   time.Duration
	publishTimeout   time.Duration
	failureThreshold int
	resetTimeout     time.Duration
}

func defaultOptions() options {
	return options{
		logger:           slog.Default(),
		codec:            codec.Default,
		connectTimeout:   DefaultConnectTimeout,
		publishTimeout:   DefaultPublishTimeout,
		failureThreshold: DefaultFailureThreshold,
		resetTimeout:     DefaultResetTimeout,
	}
}

// Option configures a Broker.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCodec sets the payload codec.
func WithCodec(c *codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithConnectTimeout bounds dialing.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithPublishTimeout bounds a single publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.publishTimeout = d
		}
	}
}

// WithCircuitBreaker trips sends after threshold consecutive publish failures
// and lets a trial send through after reset.
func WithCircuitBreaker(threshold int, reset time.Duration) Option {
	return func(o *options) {
		if threshold > 0 {
			o.failureThreshold = threshold
		}
		if reset > 0 {
			o.resetTimeout = reset
		}
	}
}
