// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/absmach/jms/admin"
	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/broker/mock"
	"github.com/absmach/jms/broker/wire"
	"github.com/absmach/jms/client"
	"github.com/absmach/jms/config"
	"github.com/absmach/jms/message"
	json "github.com/goccy/go-json"
)

var errDestination = errors.New("destination must be queue:<name> or topic:<name>")

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string, out io.Writer) error {
	b, err := newBroker(cfg, logger)
	if err != nil {
		return err
	}
	return execute(ctx, cfg, logger, b, args, out)
}

// execute runs one subcommand on its own connection, which is closed before
// execute returns.
func execute(ctx context.Context, cfg *config.Config, logger *slog.Logger, b broker.Broker, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "send", "receive", "request", "admin":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	ctx, cancel := context.WithCancel(ctx)
	conn, cleanup, err := connect(ctx, cfg, logger, b)
	if err != nil {
		cancel()
		return err
	}
	defer func() {
		cancel()
		<-conn.Done()
		cleanup()
	}()

	sess, err := conn.Session()
	if err != nil {
		return err
	}
	defer sess.Close()

	switch cmd {
	case "send":
		return send(ctx, sess, args, out)
	case "receive":
		return receive(sess, cfg.Client.ReceiveTimeout, args, out)
	case "request":
		return request(ctx, sess, cfg.Client.RequestTimeout, args, out)
	default:
		return administer(ctx, sess, cfg.Client.RequestTimeout, logger, args, out)
	}
}

// mockBroker consumes each message once and echoes requests that carry a
// reply-to destination, except admin commands.
func mockBroker(logger *slog.Logger) *mock.Broker {
	echo := func(dest message.Destination, req *wire.Message) *wire.Message {
		if dest == admin.Queue {
			return nil
		}
		reply := req.Clone()
		reply.ReplyTo = nil
		return reply
	}
	return mock.New(mock.WithLogger(logger), mock.WithConsumeOnReceive(), mock.WithResponder(echo))
}

func send(ctx context.Context, sess *client.Session, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(out)
	to := fs.String("to", "", "Destination as queue:<name> or topic:<name>")
	text := fs.String("text", "", "Text message body")
	doc := fs.String("json", "", "Message in its JSON form")
	typ := fs.String("type", "", "JMSType header")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dest, err := parseDestination(*to)
	if err != nil {
		return err
	}
	m, err := buildMessage(*text, *doc)
	if err != nil {
		return err
	}
	if *typ != "" {
		m.Base().SetHeader(message.HeaderType, message.String(*typ))
	}
	if err := sess.SendContext(ctx, dest, m); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "sent %s to %s\n", m.Kind(), dest)
	return err
}

func receive(sess *client.Session, timeout time.Duration, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("receive", flag.ContinueOnError)
	fs.SetOutput(out)
	from := fs.String("from", "", "Destination as queue:<name> or topic:<name>")
	fs.DurationVar(&timeout, "timeout", timeout, "Wait per message")
	count := fs.Int("count", 1, "Messages to receive before exiting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dest, err := parseDestination(*from)
	if err != nil {
		return err
	}
	c, err := sess.QueueConsumer(dest, "")
	if err != nil {
		return err
	}
	defer c.Close()

	for range *count {
		m, err := c.ReceiveTimeout(timeout)
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		err = printMessage(out, m)
		if derr := m.Destroy(); derr != nil {
			slog.Warn("Failed to destroy message", "error", derr)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func request(ctx context.Context, sess *client.Session, timeout time.Duration, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	fs.SetOutput(out)
	to := fs.String("to", "", "Destination as queue:<name> or topic:<name>")
	text := fs.String("text", "", "Text message body")
	doc := fs.String("json", "", "Message in its JSON form")
	fs.DurationVar(&timeout, "timeout", timeout, "Wait for the reply")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dest, err := parseDestination(*to)
	if err != nil {
		return err
	}
	m, err := buildMessage(*text, *doc)
	if err != nil {
		return err
	}
	reply, err := sess.RequestReplyContext(ctx, dest, m, timeout)
	if err != nil {
		return err
	}
	if reply == nil {
		return fmt.Errorf("no reply from %s within %s", dest, timeout)
	}
	defer func() {
		if err := reply.Destroy(); err != nil {
			slog.Warn("Failed to destroy reply", "error", err)
		}
	}()
	return printMessage(out, reply)
}

func administer(ctx context.Context, sess *client.Session, timeout time.Duration, logger *slog.Logger, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: admin needs an operation", errUsage)
	}
	op, args := args[0], args[1:]
	a := admin.New(sess, admin.WithTimeout(timeout), admin.WithLogger(logger))

	name := func() (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("%w: admin %s <name>", errUsage, op)
		}
		return args[0], nil
	}

	switch op {
	case "list-queues":
		queues, err := a.ListQueues(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, queues)
	case "list-topics":
		topics, err := a.ListTopics(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, topics)
	case "state":
		state, err := a.ServerState(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, state)
		return err
	case "create-queue", "create-topic", "delete-queue", "delete-topic":
		n, err := name()
		if err != nil {
			return err
		}
		switch op {
		case "create-queue":
			return a.CreateQueue(ctx, admin.QueueInfo{Name: n})
		case "create-topic":
			return a.CreateTopic(ctx, admin.TopicInfo{Name: n})
		case "delete-queue":
			return a.DeleteQueue(ctx, n)
		default:
			return a.DeleteTopic(ctx, n)
		}
	default:
		return fmt.Errorf("%w: unknown admin operation %q", errUsage, op)
	}
}

func parseDestination(s string) (message.Destination, error) {
	kind, name, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return message.Destination{}, fmt.Errorf("%w: %q", errDestination, s)
	}
	switch kind {
	case "queue":
		return message.Queue(name), nil
	case "topic":
		return message.Topic(name), nil
	default:
		return message.Destination{}, fmt.Errorf("%w: %q", errDestination, s)
	}
}

func buildMessage(text, doc string) (message.Message, error) {
	switch {
	case doc != "" && text != "":
		return nil, errors.New("-text and -json are mutually exclusive")
	case doc != "":
		return message.UnmarshalMessage([]byte(doc))
	default:
		return message.NewText(text), nil
	}
}

func printMessage(out io.Writer, m message.Message) error {
	data, err := message.MarshalMessage(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
