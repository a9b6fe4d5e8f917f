// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the executor.
//
// # Description
//
// Metrics include:
//   - Execution counters and duration histograms by outcome
//   - An in-flight executions gauge
//   - Rejected request counters by reason (rate limit, concurrency cap)
//
// The outcome label is "success" or the lower-cased error kind of the
// response, e.g. "compilation_error".
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Methods on a nil *ExecutionMetrics are no-ops.
package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "testforge"

// OutcomeSuccess labels a successful execution.
const OutcomeSuccess = "success"

// ExecutionMetrics holds the Prometheus metrics for pipeline executions.
type ExecutionMetrics struct {
	// ExecutionsTotal counts finished executions.
	// Labels: outcome
	ExecutionsTotal *prometheus.CounterVec

	// ExecutionDurationSeconds measures wall-clock time per execution.
	// Labels: outcome
	ExecutionDurationSeconds *prometheus.HistogramVec

	// InflightExecutions tracks executions currently running.
	InflightExecutions prometheus.Gauge

	// RejectedTotal counts requests turned away before reaching the pipeline.
	// Labels: reason (rate_limited, at_capacity)
	RejectedTotal *prometheus.CounterVec
}

// NewExecutionMetrics creates and registers the metrics with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Tests pass prometheus.NewRegistry().
//
// # Outputs
//
//   - *ExecutionMetrics: The metrics instance.
//
// # Limitations
//
//   - Panics on duplicate registration within the same registry.
func NewExecutionMetrics(reg prometheus.Registerer) *ExecutionMetrics {
	factory := promauto.With(reg)
	return &ExecutionMetrics{
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "executions_total",
				Help:      "Total number of pipeline executions by outcome",
			},
			[]string{"outcome"},
		),

		ExecutionDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "execution_duration_seconds",
				Help:      "Pipeline execution duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),

		InflightExecutions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "inflight_executions",
				Help:      "Number of pipeline executions currently running",
			},
		),

		RejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rejected_requests_total",
				Help:      "Requests rejected before execution by reason",
			},
			[]string{"reason"},
		),
	}
}

var (
	defaultMetrics *ExecutionMetrics
	defaultOnce    sync.Once
)

// Default returns metrics registered with the default Prometheus registry.
// Safe to call more than once.
func Default() *ExecutionMetrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewExecutionMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// =============================================================================
// Rejection Reasons
// =============================================================================

// RejectReason categorizes requests turned away at admission.
type RejectReason string

const (
	// RejectRateLimited indicates the token bucket was empty.
	RejectRateLimited RejectReason = "rate_limited"

	// RejectAtCapacity indicates the concurrency cap was reached.
	RejectAtCapacity RejectReason = "at_capacity"
)

// =============================================================================
// Helper Methods
// =============================================================================

// Outcome returns the outcome label for resp.
func Outcome(resp datatypes.ExecutionResponse) string {
	if resp.Success {
		return OutcomeSuccess
	}
	if kind := resp.ErrorKindOrEmpty(); kind != "" {
		return strings.ToLower(kind)
	}
	return "unknown"
}

// RecordExecution records a finished execution.
//
// # Inputs
//
//   - outcome: Label from Outcome.
//   - seconds: Wall-clock duration.
func (m *ExecutionMetrics) RecordExecution(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(outcome).Inc()
	m.ExecutionDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// ExecutionStarted increments the in-flight gauge.
func (m *ExecutionMetrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.InflightExecutions.Inc()
}

// ExecutionEnded decrements the in-flight gauge.
func (m *ExecutionMetrics) ExecutionEnded() {
	if m == nil {
		return
	}
	m.InflightExecutions.Dec()
}

// RecordRejection counts a request rejected at admission.
func (m *ExecutionMetrics) RecordRejection(reason RejectReason) {
	if m == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(string(reason)).Inc()
}
