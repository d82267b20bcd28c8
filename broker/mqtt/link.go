// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt links the transport broker to an MQTT server.
//
// Topics map to MQTT topics verbatim. Queues map to "$queue/<name>", which a
// queue-aware server delivers to one subscriber at a time.
// Shared subscriptions use "$share/<name>/<topic>". Temporary destinations
// live under "$tmp/" and are never queue-mapped.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/broker/transport"
	"github.com/absmach/jms/message"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Topic prefixes.
const (
	QueuePrefix = "$queue/"
	SharePrefix = "$share/"
	TempPrefix  = "$tmp/"
)

const disconnectQuiesce = 250 // milliseconds

// Option configures dialed links.
type Option func(*config)

type config struct {
	clientID  string
	qos       byte
	keepAlive time.Duration
	logger    *slog.Logger
}

// WithClientID sets the MQTT client id. A random id is generated when empty.
func WithClientID(id string) Option {
	return func(c *config) { c.clientID = id }
}

// WithQoS sets the publish and subscribe quality of service.
func WithQoS(qos byte) Option {
	return func(c *config) {
		if qos <= 2 {
			c.qos = qos
		}
	}
}

// WithKeepAlive sets the keep-alive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.keepAlive = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Dialer returns a transport.Dialer that opens paho clients.
func Dialer(opts ...Option) transport.Dialer {
	cfg := config{qos: 1, keepAlive: 30 * time.Second, logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}

	return func(ctx context.Context, url, user, password string) (transport.Link, error) {
		id := cfg.clientID
		if id == "" {
			id = "jms-" + uuid.NewString()
		}
		logger := cfg.logger.With(slog.String("client_id", id))

		po := paho.NewClientOptions().
			AddBroker(url).
			SetClientID(id).
			SetUsername(user).
			SetPassword(password).
			SetCleanSession(true).
			SetProtocolVersion(4).
			SetKeepAlive(cfg.keepAlive).
			SetAutoReconnect(true).
			SetConnectionLostHandler(func(_ paho.Client, err error) {
				logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
			})
		if deadline, ok := ctx.Deadline(); ok {
			po.SetConnectTimeout(time.Until(deadline))
		}

		c := paho.NewClient(po)
		if err := wait(ctx, c.Connect()); err != nil {
			return nil, fmt.Errorf("%w: %w", broker.ErrRejected, err)
		}
		logger.Debug("mqtt link connected", slog.String("url", url))
		return &link{client: c, url: url, qos: cfg.qos, logger: logger}, nil
	}
}

type link struct {
	client paho.Client
	url    string
	qos    byte
	logger *slog.Logger
}

func (l *link) Publish(ctx context.Context, dest message.Destination, payload []byte) error {
	return wait(ctx, l.client.Publish(Topic(dest), l.qos, false, payload))
}

func (l *link) Subscribe(dest message.Destination, h transport.Handler) (transport.Subscription, error) {
	return l.subscribe(Topic(dest), h)
}

// SubscribeShared rejects durable subscriptions, which need a persistent session.
func (l *link) SubscribeShared(dest message.Destination, name string, durable bool, h transport.Handler) (transport.Subscription, error) {
	if durable {
		return nil, fmt.Errorf("%w: durable subscriptions over mqtt", broker.ErrUnsupported)
	}
	return l.subscribe(SharePrefix+name+"/"+Topic(dest), h)
}

func (l *link) subscribe(filter string, h transport.Handler) (transport.Subscription, error) {
	tok := l.client.Subscribe(filter, l.qos, func(_ paho.Client, m paho.Message) {
		h(m.Payload())
	})
	if err := wait(context.Background(), tok); err != nil {
		return nil, err
	}
	l.logger.Debug("mqtt subscribed", slog.String("filter", filter))
	return &subscription{client: l.client, filter: filter}, nil
}

func (l *link) TemporaryName(message.DestinationKind) string {
	return TempPrefix + uuid.NewString()
}

func (l *link) URL() string {
	return l.url
}

func (l *link) Close() error {
	l.client.Disconnect(disconnectQuiesce)
	return nil
}

type subscription struct {
	client paho.Client
	filter string
}

func (s *subscription) Unsubscribe() error {
	return wait(context.Background(), s.client.Unsubscribe(s.filter))
}

// Topic returns the MQTT topic dest is published on.
func Topic(dest message.Destination) string {
	if dest.IsQueue() && !strings.HasPrefix(dest.Name, TempPrefix) {
		return QueuePrefix + dest.Name
	}
	return dest.Name
}

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", broker.ErrTimeout, ctx.Err())
	}
}
