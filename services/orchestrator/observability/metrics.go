// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the conversation
// pipeline.
//
// # Description
//
// Metrics cover conversational turns end to end:
//   - Turn counters by endpoint and status
//   - Per-stage latency histograms
//   - Safety outcome counters
//   - Retrieval depth histograms
//   - Token usage counters
//   - Active stream gauges
//
// # Integration
//
// Metrics are exposed on the /metrics endpoint. Use with Prometheus and
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "wisdom"

const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for the conversation
// pipeline. Initialize once at startup via InitMetrics().
type PipelineMetrics struct {
	// TurnsTotal counts conversational turns.
	// Labels: endpoint (chat, chat_stream), status (complete, error)
	TurnsTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage latency.
	// Labels: stage (router, librarian, interpreter, safety)
	StageDurationSeconds *prometheus.HistogramVec

	// SafetyOutcomesTotal counts safety gate outcomes.
	// Labels: flag (safe, blocked, disclaimer_added_*, tone_adjusted,
	// empty_response)
	SafetyOutcomesTotal *prometheus.CounterVec

	// RetrievedChunks measures how many chunks survived merge and
	// truncation per turn.
	RetrievedChunks prometheus.Histogram

	// TokensTotal counts model tokens by direction.
	// Labels: direction (prompt, completion)
	TokensTotal *prometheus.CounterVec

	// ActiveStreams tracks currently open streaming connections.
	ActiveStreams prometheus.Gauge
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics creates and registers all pipeline metrics on the default
// Prometheus registry. Call once at startup; a second call panics on
// duplicate registration.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "turns_total",
				Help:      "Total conversational turns by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"stage"},
		),

		SafetyOutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "safety_outcomes_total",
				Help:      "Safety gate outcomes by flag",
			},
			[]string{"flag"},
		),

		RetrievedChunks: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "retrieved_chunks",
				Help:      "Chunks retained after merge and truncation per turn",
				Buckets:   []float64{0, 1, 2, 3, 4, 5, 8, 10},
			},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "tokens_total",
				Help:      "Model tokens consumed by direction",
			},
			[]string{"direction"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_streams",
				Help:      "Currently open streaming connections",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint labels a chat surface for metrics.
type Endpoint string

const (
	// EndpointChat is the request/response chat endpoint.
	EndpointChat Endpoint = "chat"

	// EndpointChatStream is the SSE streaming chat endpoint.
	EndpointChatStream Endpoint = "chat_stream"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTurn records a finished turn. All helpers tolerate a nil
// receiver so the pipeline can run without registered metrics in tests.
func (m *PipelineMetrics) RecordTurn(endpoint Endpoint, status string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordStageDuration records one stage's latency.
func (m *PipelineMetrics) RecordStageDuration(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordSafetyFlags records every flag the safety gate set on a turn.
func (m *PipelineMetrics) RecordSafetyFlags(flags []string) {
	if m == nil {
		return
	}
	for _, flag := range flags {
		m.SafetyOutcomesTotal.WithLabelValues(flag).Inc()
	}
}

// RecordRetrievedChunks records retrieval depth for a turn.
func (m *PipelineMetrics) RecordRetrievedChunks(count int) {
	if m == nil {
		return
	}
	m.RetrievedChunks.Observe(float64(count))
}

// RecordTokens records token usage for a turn.
func (m *PipelineMetrics) RecordTokens(promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	m.TokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
}

// StreamStarted increments the active streams gauge.
func (m *PipelineMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *PipelineMetrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}
