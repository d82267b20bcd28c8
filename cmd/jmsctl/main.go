// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command jmsctl sends, receives and administers messages through a broker.
//
//	jmsctl [-config file] send -to queue:orders -text hello
//	jmsctl [-config file] receive -from queue:orders -count 10
//	jmsctl [-config file] request -to queue:svc -text ping
//	jmsctl [-config file] admin list-queues
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/jms/admin"
	"github.com/absmach/jms/broker"
	"github.com/absmach/jms/broker/mqtt"
	"github.com/absmach/jms/broker/nats"
	"github.com/absmach/jms/broker/transport"
	"github.com/absmach/jms/client"
	"github.com/absmach/jms/codec"
	"github.com/absmach/jms/config"
	jmsotel "github.com/absmach/jms/otel"
	"github.com/absmach/jms/ratelimit"
	"go.opentelemetry.io/otel"
)

var errUsage = errors.New("usage: jmsctl [-config file] send|receive|request|admin [flags]")

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := jmsotel.InitProvider(ctx, cfg.Otel, jmsotel.Client{ID: cfg.Broker.ClientID, System: cfg.Broker.Type})
	if err != nil {
		slog.Error("Failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Error("Failed to shut down OpenTelemetry", "error", err)
		}
	}()

	if err := run(ctx, cfg, logger, flag.Args(), os.Stdout); err != nil {
		slog.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// newBroker selects the collaborator named by the configuration.
func newBroker(cfg *config.Config, logger *slog.Logger) (broker.Broker, error) {
	if cfg.Broker.Type == config.BrokerMock {
		return mockBroker(logger), nil
	}

	comp, err := codec.ParseCompression(cfg.Broker.Compression)
	if err != nil {
		return nil, err
	}
	opts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithCodec(codec.New(comp)),
		transport.WithConnectTimeout(cfg.Broker.ConnectTimeout),
		transport.WithPublishTimeout(cfg.Broker.PublishTimeout),
		transport.WithCircuitBreaker(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.ResetTimeout),
	}

	switch cfg.Broker.Type {
	case config.BrokerMQTT:
		return transport.New(mqtt.Dialer(mqtt.WithClientID(cfg.Broker.ClientID), mqtt.WithLogger(logger)), opts...), nil
	case config.BrokerNATS:
		name := cfg.Broker.ClientID
		if name == "" {
			name = "jmsctl"
		}
		return transport.New(nats.Dialer(nats.WithName(name), nats.WithLogger(logger)), opts...), nil
	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
	}
}

// connect opens a connection with the client options derived from cfg. The
// returned cleanup stops the send limiter.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger, b broker.Broker) (*client.Connection, func(), error) {
	metrics, err := jmsotel.NewMetrics(nil)
	if err != nil {
		return nil, nil, err
	}
	opts := client.NewOptions().
		SetLogger(logger).
		SetMetrics(metrics).
		SetTracer(otel.Tracer("github.com/absmach/jms/cmd/jmsctl"))

	cleanup := func() {}
	if cfg.Client.SendRate > 0 {
		limiter := ratelimit.NewSendLimiter(cfg.Client.SendRate, cfg.Client.SendBurst, 0)
		opts.SetSendLimiter(limiter)
		cleanup = limiter.Stop
	}

	var conn *client.Connection
	if cfg.Broker.Admin {
		conn, err = admin.Connect(ctx, b, cfg.Broker.URL, cfg.Broker.User, cfg.Broker.Password, opts)
	} else {
		conn, err = client.Connect(ctx, b, cfg.Broker.URL, cfg.Broker.User, cfg.Broker.Password, opts)
	}
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return conn, cleanup, nil
}
