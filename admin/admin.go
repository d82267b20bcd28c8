// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package admin issues administrative commands to a broker over request-reply.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/client"
	"github.com/absmach/jms/message"
)

const (
	// URLPrefix marks a connection URL as administrative.
	URLPrefix = "<$admin>:"

	// DefaultTimeout bounds a single command round trip.
	DefaultTimeout = 60 * time.Second

	// Header names carried by every command and reply.
	HeaderCode   = "code"
	HeaderSave   = "save"
	HeaderSeq    = "arseq"
	HeaderStatus = "rc"
	HeaderText   = "et"
)

// Queue is the administrative command queue.
var Queue = message.Queue("$sys.admin")

// Connect opens an administrative connection to url.
func Connect(ctx context.Context, b broker.Broker, url, user, password string, opts *client.Options) (*client.Connection, error) {
	return client.Connect(ctx, b, URLPrefix+url, user, password, opts)
}

// Option configures an Admin.
type Option func(*Admin)

// WithTimeout sets the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Admin) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Admin) {
		if l != nil {
			a.logger = l
		}
	}
}

// Admin sends commands on a session. Like the session, it is not safe for concurrent use.
type Admin struct {
	sess    *client.Session
	timeout time.Duration
	logger  *slog.Logger
	seq     atomic.Int32
}

// New returns an Admin that sends commands on sess.
func New(sess *client.Session, opts ...Option) *Admin {
	a := &Admin{
		sess:    sess,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ListQueues returns every queue known to the server, sorted by name.
func (a *Admin) ListQueues(ctx context.Context) ([]QueueInfo, error) {
	body, err := a.list(ctx, destinationTypeQueue)
	if err != nil {
		return nil, err
	}
	queues := make([]QueueInfo, 0, len(body))
	for _, name := range slices.Sorted(maps.Keys(body)) {
		fields, err := nested(body, name)
		if err != nil {
			return nil, err
		}
		q, err := parseQueue(name, fields)
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	return queues, nil
}

// ListTopics returns every topic known to the server, sorted by name.
func (a *Admin) ListTopics(ctx context.Context) ([]TopicInfo, error) {
	body, err := a.list(ctx, destinationTypeTopic)
	if err != nil {
		return nil, err
	}
	topics := make([]TopicInfo, 0, len(body))
	for _, name := range slices.Sorted(maps.Keys(body)) {
		fields, err := nested(body, name)
		if err != nil {
			return nil, err
		}
		t, err := parseTopic(name, fields)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, nil
}

// CreateQueue creates a queue. Unset fields of q use server defaults.
func (a *Admin) CreateQueue(ctx context.Context, q QueueInfo) error {
	if q.Name == "" {
		return ErrInvalidName
	}
	_, err := a.do(ctx, CreateDestination, queueBody(q))
	return err
}

// CreateTopic creates a topic. Unset fields of t use server defaults.
func (a *Admin) CreateTopic(ctx context.Context, t TopicInfo) error {
	if t.Name == "" {
		return ErrInvalidName
	}
	_, err := a.do(ctx, CreateDestination, topicBody(t))
	return err
}

// DeleteQueue deletes the named queue.
func (a *Admin) DeleteQueue(ctx context.Context, name string) error {
	return a.delete(ctx, name, destinationTypeQueue)
}

// DeleteTopic deletes the named topic.
func (a *Admin) DeleteTopic(ctx context.Context, name string) error {
	return a.delete(ctx, name, destinationTypeTopic)
}

// CreateBridge forwards messages from b.Source to b.Target.
func (a *Admin) CreateBridge(ctx context.Context, b BridgeInfo) error {
	if b.Source.Name == "" || b.Target.Name == "" {
		return ErrInvalidName
	}
	_, err := a.do(ctx, CreateBridge, bridgeBody(b))
	return err
}

// DeleteBridge removes the bridge between b.Source and b.Target.
func (a *Admin) DeleteBridge(ctx context.Context, b BridgeInfo) error {
	if b.Source.Name == "" || b.Target.Name == "" {
		return ErrInvalidName
	}
	_, err := a.do(ctx, DeleteBridge, bridgeBody(BridgeInfo{Source: b.Source, Target: b.Target}))
	return err
}

// ServerState reports whether the server is active or standby.
func (a *Admin) ServerState(ctx context.Context) (ServerState, error) {
	body, err := a.do(ctx, GetStateInfo, message.NewMap())
	if err != nil {
		return 0, err
	}
	fields := attrs{body: body}
	n := fields.int64(fieldState)
	if fields.err != nil {
		return 0, fields.err
	}
	if n == nil {
		return 0, fmt.Errorf("%w: missing %q", ErrUnexpectedResponse, fieldState)
	}
	return ServerState(*n), nil
}

func (a *Admin) delete(ctx context.Context, name string, destType int32) error {
	if name == "" {
		return ErrInvalidName
	}
	body := message.NewMap().
		Set(fieldName, message.String(name)).
		Set(fieldType, message.Integer(destType))
	_, err := a.do(ctx, DeleteDestination, body)
	return err
}

func (a *Admin) list(ctx context.Context, destType int32) (map[string]message.TypedValue, error) {
	return a.do(ctx, ListDestination, listBody(destType))
}

// do sends cmd with body and returns the reply body once the status is checked.
func (a *Admin) do(ctx context.Context, cmd Command, body *message.MapMessage) (map[string]message.TypedValue, error) {
	seq := a.seq.Add(1)
	body.SetHeader(HeaderCode, message.Integer(int32(cmd)))
	body.SetHeader(HeaderSave, message.Boolean(true))
	body.SetHeader(HeaderSeq, message.Integer(seq))

	timeout := a.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reply, err := a.sess.RequestReplyContext(ctx, Queue, body, timeout)
	if err != nil {
		a.logger.Error("admin command failed",
			slog.String("command", cmd.String()),
			slog.Int("seq", int(seq)),
			slog.String("error", err.Error()))
		return nil, err
	}
	if reply == nil {
		return nil, fmt.Errorf("%w: %s after %s", ErrNoResponse, cmd, timeout)
	}
	defer func() {
		if err := reply.Destroy(); err != nil {
			a.logger.Warn("failed to release admin reply", slog.String("error", err.Error()))
		}
	}()

	if err := status(reply.Base()); err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	m, ok := reply.(*message.MapMessage)
	if !ok {
		return nil, fmt.Errorf("%w: %s reply is %s", ErrUnexpectedResponse, cmd, reply.Kind())
	}
	a.logger.Debug("admin command done",
		slog.String("command", cmd.String()),
		slog.Int("seq", int(seq)))
	return m.Body, nil
}

func status(env *message.Envelope) error {
	v, ok := env.HeaderValue(HeaderStatus)
	if !ok {
		return nil
	}
	rc, err := v.IntValue()
	if err != nil {
		return fmt.Errorf("%w: status: %w", ErrUnexpectedResponse, err)
	}
	if rc == 0 {
		return nil
	}
	text := ""
	if t, ok := env.HeaderValue(HeaderText); ok {
		text, _ = t.StringValue()
	}
	return fmt.Errorf("%w: status %d: %s", ErrCommandFailed, rc, text)
}

func nested(body map[string]message.TypedValue, name string) (map[string]message.TypedValue, error) {
	m, err := body[name].MapValue()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnexpectedResponse, name, err)
	}
	if m == nil {
		return nil, nil
	}
	return m.Body, nil
}
