// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs security check, test synthesis, compile-and-run and
// aggregation for one submission under a hard deadline.
//
// Stages run strictly in order and the first failure ends the run. Every
// outcome, including a timeout or a panic, becomes a well-formed
// datatypes.ExecutionResponse.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
	"github.com/AleutianAI/TestForge/services/executor/engine"
)

var tracer = otel.Tracer("testforge.pipeline")

// =============================================================================
// STAGE INTERFACES
// =============================================================================

// SecurityChecker screens submitted source. *security.Validator implements it.
type SecurityChecker interface {
	Validate(source string) datatypes.SecurityVerdict
}

// TestSynthesizer produces test source. synthesis.Client implements it.
type TestSynthesizer interface {
	Synthesize(ctx context.Context, source string) (string, error)
}

// TestRunner compiles and runs source with tests. *engine.Engine implements it.
type TestRunner interface {
	CompileAndRun(ctx context.Context, source, testSource string) (*engine.TestExecutionResult, error)
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline runs the stages for one submission without a deadline of its own.
//
// Thread Safety: Safe for concurrent use if the stages are.
type Pipeline struct {
	checker     SecurityChecker
	synthesizer TestSynthesizer
	runner      TestRunner
	logger      *slog.Logger
}

// newPipeline wires the stages. Callers have checked them for nil.
func newPipeline(checker SecurityChecker, synthesizer TestSynthesizer, runner TestRunner, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		checker:     checker,
		synthesizer: synthesizer,
		runner:      runner,
		logger:      logger,
	}
}

// Run executes the stages in order and folds the result into a response.
//
// Description:
//
//	security -> synthesis -> compile and run -> aggregate. A failed verdict,
//	a synthesis error, blank tests or an engine error ends the run with the
//	matching failure response. ctx is checked between stages so a cancelled
//	run does not start the next subprocess.
func (p *Pipeline) Run(ctx context.Context, code string) datatypes.ExecutionResponse {
	ctx, span := tracer.Start(ctx, "Pipeline.Run",
		trace.WithAttributes(attribute.Int("pipeline.code_length", len(code))),
	)
	defer span.End()

	verdict := p.checker.Validate(code)
	if !verdict.Valid {
		p.logger.Info("Submission rejected by security check", slog.String("kind", string(verdict.Kind)))
		span.SetAttributes(attribute.String("pipeline.stage_failed", "security"))
		return FromError(verdict.Err())
	}
	span.AddEvent("security_passed")

	if err := ctx.Err(); err != nil {
		return cancelledResponse()
	}

	tests, err := p.synthesizer.Synthesize(ctx, code)
	if err != nil {
		span.SetAttributes(attribute.String("pipeline.stage_failed", "synthesis"))
		if ctx.Err() != nil {
			return cancelledResponse()
		}
		return FromError(err)
	}
	if strings.TrimSpace(tests) == "" {
		span.SetAttributes(attribute.String("pipeline.stage_failed", "synthesis"))
		return NoTestsGenerated()
	}
	span.AddEvent("tests_synthesized", trace.WithAttributes(attribute.Int("pipeline.tests_length", len(tests))))

	if err := ctx.Err(); err != nil {
		return cancelledResponse()
	}

	result, err := p.runner.CompileAndRun(ctx, code, tests)
	if err != nil {
		span.SetAttributes(attribute.String("pipeline.stage_failed", "engine"))
		if ctx.Err() != nil {
			return cancelledResponse()
		}
		return FromError(err)
	}

	return Aggregate(code, tests, result)
}

// cancelledResponse is produced by a worker whose run was abandoned. The
// supervisor has normally answered already and discards it.
func cancelledResponse() datatypes.ExecutionResponse {
	return datatypes.NewFailureResponse(datatypes.ErrExecutionTimeout, "Execution cancelled")
}
