// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the orchestrator.
//
// # Description
//
// Metrics cover the query-answering pipeline:
//   - Request counters by endpoint, status, and chosen strategy
//   - Stream event counters by kind
//   - Stream duration histograms and active-stream gauges
//   - Keepalive and client-disconnect counters
//
// Metrics are exposed on /metrics; scrape with Prometheus.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace   = "queryline"
	streamingSubsystem = "streaming"
)

// StreamingMetrics holds all Prometheus metrics for the chat endpoints.
// Initialize once at startup via InitMetrics.
type StreamingMetrics struct {
	// RequestsTotal counts requests by endpoint and status.
	// Labels: endpoint (completion, stream), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// StrategiesTotal counts dispatched turns by strategy provider.
	// Labels: provider (raw_sql, graph, nl2sql_multi, nl2sql_single, llm)
	StrategiesTotal *prometheus.CounterVec

	// EventsTotal counts emitted stream events by kind.
	// Labels: kind (meta, sql, rows, plan, cypher, delta, done, error)
	EventsTotal *prometheus.CounterVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streaming connections.
	ActiveStreams prometheus.Gauge

	// ErrorsTotal counts terminal errors by code.
	// Labels: endpoint, error_code (backend_error, internal_error)
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts keepalive pings sent.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts clients that left mid-stream.
	ClientDisconnectsTotal prometheus.Counter
}

// DefaultMetrics is the process-wide metrics instance, set by InitMetrics.
var DefaultMetrics *StreamingMetrics

// InitMetrics registers all metrics on the default registry. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *StreamingMetrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics registers all metrics on the given registerer. Tests pass
// their own registry to avoid cross-test duplicate registration.
func NewMetrics(reg prometheus.Registerer) *StreamingMetrics {
	factory := promauto.With(reg)

	return &StreamingMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		StrategiesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "strategies_total",
				Help:      "Dispatched turns by strategy provider",
			},
			[]string{"provider"},
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "events_total",
				Help:      "Stream events emitted by kind",
			},
			[]string{"kind"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open streaming connections",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Terminal stream errors by code",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
		),

		ClientDisconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Clients that disconnected mid-stream",
			},
		),
	}
}

// Endpoint names for metrics labeling.
const (
	EndpointCompletion = "completion"
	EndpointStream     = "stream"
)

// RecordRequest records a completed request.
func (m *StreamingMetrics) RecordRequest(endpoint string, success bool) {
	m.RequestsTotal.WithLabelValues(endpoint, statusLabel(success)).Inc()
}

// RecordStrategy records which strategy answered a turn.
func (m *StreamingMetrics) RecordStrategy(provider string) {
	m.StrategiesTotal.WithLabelValues(provider).Inc()
}

// RecordEvent records one emitted stream event.
func (m *StreamingMetrics) RecordEvent(kind string) {
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// RecordError records a terminal stream error.
func (m *StreamingMetrics) RecordError(endpoint, code string) {
	m.ErrorsTotal.WithLabelValues(endpoint, code).Inc()
}

// RecordStreamDuration records the total stream duration.
func (m *StreamingMetrics) RecordStreamDuration(endpoint string, seconds float64, success bool) {
	m.StreamDurationSeconds.WithLabelValues(endpoint, statusLabel(success)).Observe(seconds)
}

// StreamStarted increments the active streams gauge.
func (m *StreamingMetrics) StreamStarted() { m.ActiveStreams.Inc() }

// StreamEnded decrements the active streams gauge.
func (m *StreamingMetrics) StreamEnded() { m.ActiveStreams.Dec() }

// RecordKeepAlive increments the keepalive counter.
func (m *StreamingMetrics) RecordKeepAlive() { m.KeepAlivesTotal.Inc() }

// RecordClientDisconnect increments the client disconnect counter.
func (m *StreamingMetrics) RecordClientDisconnect() { m.ClientDisconnectsTotal.Inc() }

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
