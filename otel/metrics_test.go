// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/jms/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sum(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is %T", m.Name, m.Data)
	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSent(ctx, message.Queue("q"), message.TextKind)
	m.RecordSent(ctx, message.Topic("t"), message.MapKind)
	m.RecordReceived(ctx, message.TextKind)
	m.RecordRequest(ctx, OutcomeTimeout, 50*time.Millisecond)
	m.RecordError(ctx, "send")

	got := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, got["jms.messages.sent.total"]))
	assert.Equal(t, int64(1), sum(t, got["jms.messages.received.total"]))
	assert.Equal(t, int64(1), sum(t, got["jms.requests.total"]))
	assert.Equal(t, int64(1), sum(t, got["jms.errors.total"]))

	hist, ok := got["jms.request.duration.ms"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 50.0, hist.DataPoints[0].Sum, 0.001)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordSent(ctx, message.Queue("q"), message.TextKind)
		m.RecordReceived(ctx, message.BytesKind)
		m.RecordRequest(ctx, OutcomeReply, time.Second)
		m.RecordError(ctx, "receive")
	})
}

func TestNewMetricsDefaultsToGlobalProvider(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
