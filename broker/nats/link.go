// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package nats links the transport broker to a NATS server.
//
// Queues are published on "queue.<name>" and consumed through a queue group
// named after the queue, so each message reaches one consumer. Topics use
// "topic.<name>". Shared subscriptions join a queue group named after the
// subscription. Temporary destinations are inbox subjects. NATS core keeps no
// subscription state, so durable subscriptions are unsupported.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/broker/transport"
	"github.com/absmach/jms/message"
	"github.com/nats-io/nats.go"
)

// Subject prefixes.
const (
	QueuePrefix = "queue."
	TopicPrefix = "topic."
)

// Option configures dialed links.
type Option func(*config)

type config struct {
	name   string
	logger *slog.Logger
}

// WithName sets the client name reported to the server.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Dialer returns a transport.Dialer that opens NATS connections.
func Dialer(opts ...Option) transport.Dialer {
	cfg := config{name: "jms", logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}

	return func(ctx context.Context, url, user, password string) (transport.Link, error) {
		logger := cfg.logger.With(slog.String("url", url))
		nopts := []nats.Option{
			nats.Name(cfg.name),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", slog.String("error", err.Error()))
				}
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("nats reconnected")
			}),
		}
		if user != "" {
			nopts = append(nopts, nats.UserInfo(user, password))
		}
		if deadline, ok := ctx.Deadline(); ok {
			nopts = append(nopts, nats.Timeout(time.Until(deadline)))
		}

		nc, err := nats.Connect(url, nopts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", broker.ErrRejected, err)
		}
		logger.Debug("nats link connected", slog.String("server", nc.ConnectedUrlRedacted()))
		return &link{conn: nc, url: url, logger: logger}, nil
	}
}

type link struct {
	conn   *nats.Conn
	url    string
	logger *slog.Logger
}

func (l *link) Publish(ctx context.Context, dest message.Destination, payload []byte) error {
	if err := l.conn.Publish(Subject(dest), payload); err != nil {
		return err
	}
	// Flush so write errors reach the caller.
	return l.conn.FlushWithContext(ctx)
}

func (l *link) Subscribe(dest message.Destination, h transport.Handler) (transport.Subscription, error) {
	subject := Subject(dest)
	if dest.IsQueue() && !isInbox(dest.Name) {
		return l.queueSubscribe(subject, dest.Name, h)
	}
	sub, err := l.conn.Subscribe(subject, func(m *nats.Msg) { h(m.Data) })
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (l *link) SubscribeShared(dest message.Destination, name string, durable bool, h transport.Handler) (transport.Subscription, error) {
	if durable {
		return nil, fmt.Errorf("%w: durable subscriptions over nats core", broker.ErrUnsupported)
	}
	return l.queueSubscribe(Subject(dest), name, h)
}

func (l *link) queueSubscribe(subject, group string, h transport.Handler) (transport.Subscription, error) {
	sub, err := l.conn.QueueSubscribe(subject, group, func(m *nats.Msg) { h(m.Data) })
	if err != nil {
		return nil, err
	}
	l.logger.Debug("nats queue subscribed", slog.String("subject", subject), slog.String("group", group))
	return sub, nil
}

func (l *link) TemporaryName(message.DestinationKind) string {
	return l.conn.NewRespInbox()
}

func (l *link) URL() string {
	if u := l.conn.ConnectedUrlRedacted(); u != "" {
		return u
	}
	return l.url
}

func (l *link) Close() error {
	if err := l.conn.Drain(); err != nil {
		l.conn.Close()
		return err
	}
	return nil
}

// Subject returns the NATS subject dest is published on.
func Subject(dest message.Destination) string {
	if isInbox(dest.Name) {
		return dest.Name
	}
	if dest.IsQueue() {
		return QueuePrefix + dest.Name
	}
	return TopicPrefix + dest.Name
}

func isInbox(name string) bool {
	return strings.HasPrefix(name, nats.InboxPrefix)
}
