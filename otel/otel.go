// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/absmach/jms/config"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	exportTimeout  = 30 * time.Second
	batchTimeout   = 5 * time.Second
	metricInterval = 10 * time.Second
)

// Resource attribute keys describing the messaging client.
const (
	AttrMessagingSystem = attribute.Key("messaging.system")
	AttrClientID        = attribute.Key("messaging.client_id")
)

// Client identifies the messaging client in exported telemetry.
type Client struct {
	ID     string // broker client id; a random id is used when empty
	System string // collaborator type: mock, mqtt or nats
}

type shutdownFunc func(context.Context) error

// InitProvider registers global trace and metric providers exporting over OTLP
// gRPC. Disabled signals get noop providers. The returned function flushes and
// stops the providers in reverse order of creation.
func InitProvider(ctx context.Context, cfg config.OtelConfig, c Client) (func(context.Context) error, error) {
	res, err := NewResource(ctx, cfg, c)
	if err != nil {
		return nil, err
	}

	var shutdowns []shutdownFunc
	stop := func(ctx context.Context) error {
		var errs []error
		for _, fn := range slices.Backward(shutdowns) {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	if cfg.TracesEnabled {
		fn, err := initTracerProvider(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
		}
		shutdowns = append(shutdowns, fn)
	} else {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	}

	if cfg.MetricsEnabled {
		fn, err := initMeterProvider(ctx, cfg, res)
		if err != nil {
			_ = stop(ctx)
			return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
		}
		shutdowns = append(shutdowns, fn)
	} else {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
	}

	return stop, nil
}

// NewResource describes the client process: service identity, the messaging
// system it talks to and its client id, which doubles as the instance id.
func NewResource(ctx context.Context, cfg config.OtelConfig, c Client) (*resource.Resource, error) {
	id := c.ID
	if id == "" {
		id = "jms-" + uuid.NewString()
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		semconv.ServiceInstanceIDKey.String(id),
		AttrClientID.String(id),
	}
	if c.System != "" {
		attrs = append(attrs, AttrMessagingSystem.String(c.System))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...), resource.WithTelemetrySDK())
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func initTracerProvider(ctx context.Context, cfg config.OtelConfig, res *resource.Resource) (shutdownFunc, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(exportTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.TraceSampleRate))),
		trace.WithBatcher(exporter, trace.WithBatchTimeout(batchTimeout)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func initMeterProvider(ctx context.Context, cfg config.OtelConfig, res *resource.Resource) (shutdownFunc, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithTimeout(exportTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(metricInterval))),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}
