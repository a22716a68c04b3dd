// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package telemetry provides OpenTelemetry instruments for the sync core.
// Every recorder is nil-safe: a nil *SyncMetrics records nothing.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name of the meter all sync instruments live on.
const SyncMetricsMeterName = "github.com/MKhiriev/go-offline-sync/sync"

// Operation outcomes used as the "outcome" attribute.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeConflict  = "conflict"
	OutcomeRetried   = "retried"
)

// SyncMetrics holds the OpenTelemetry instruments for sync metrics.
type SyncMetrics struct {
	operations      metric.Int64Counter
	requestDuration metric.Float64Histogram
	passDuration    metric.Float64Histogram
	chunks          metric.Int64Counter
	queueDepth      metric.Int64Gauge
}

// NewSyncMetrics creates the instruments on provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	operations, err := meter.Int64Counter(
		"offline_sync_operations_total",
		metric.WithDescription("Sync operation attempts by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"offline_sync_request_duration_seconds",
		metric.WithDescription("Duration of remote calls made for sync operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	passDuration, err := meter.Float64Histogram(
		"offline_sync_pass_duration_seconds",
		metric.WithDescription("Duration of sync passes"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	chunks, err := meter.Int64Counter(
		"offline_sync_chunks_total",
		metric.WithDescription("Progressive sync chunks by result"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge(
		"offline_sync_queue_depth",
		metric.WithDescription("Operations waiting in the sync queue"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		operations:      operations,
		requestDuration: requestDuration,
		passDuration:    passDuration,
		chunks:          chunks,
		queueDepth:      queueDepth,
	}, nil
}

// RecordOperation counts one operation attempt with its outcome.
func (m *SyncMetrics) RecordOperation(ctx context.Context, opType, outcome string) {
	if m == nil || m.operations == nil {
		return
	}

	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", opType),
		attribute.String("outcome", outcome),
	))
}

// RecordRequest records the duration of a remote call.
func (m *SyncMetrics) RecordRequest(ctx context.Context, method string, duration time.Duration, success bool) {
	if m == nil || m.requestDuration == nil {
		return
	}

	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("success", success),
	))
}

// RecordPass records the duration of a sync pass.
func (m *SyncMetrics) RecordPass(ctx context.Context, duration time.Duration, paused bool) {
	if m == nil || m.passDuration == nil {
		return
	}

	m.passDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("paused", paused)))
}

// RecordChunk counts one finished progressive chunk.
func (m *SyncMetrics) RecordChunk(ctx context.Context, success bool) {
	if m == nil || m.chunks == nil {
		return
	}

	m.chunks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordQueueDepth records the number of unsynced operations.
func (m *SyncMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	if m == nil || m.queueDepth == nil {
		return
	}

	m.queueDepth.Record(ctx, int64(depth))
}
