// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for engine operations.
var (
	tracer = otel.Tracer("testforge.engine")
	meter  = otel.Meter("testforge.engine")
)

// Metrics for engine operations.
var (
	stageRuns     metric.Int64Counter
	stageDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		stageRuns, err = meter.Int64Counter(
			"testforge_engine_runs_total",
			metric.WithDescription("Total number of compile and test stages run"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stageDuration, err = meter.Float64Histogram(
			"testforge_engine_stage_duration_seconds",
			metric.WithDescription("Duration of compile and test stages"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startStageSpan creates a span for one engine stage.
func startStageSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endStageSpan records the stage outcome on span and ends it.
func endStageSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("engine.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}

// recordStage records metrics for one engine stage.
func recordStage(ctx context.Context, stage, outcome string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	stageRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
	stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
	))
}
