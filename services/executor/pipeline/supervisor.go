// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
	"github.com/AleutianAI/TestForge/services/executor/observability"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the supervisor's fixed settings.
type Config struct {
	// Timeout is the hard deadline for one run.
	// Default: 30s
	Timeout time.Duration
}

// DefaultConfig returns a Config with a 30 second timeout.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, c.Timeout)
	}
	return nil
}

// Deps are the collaborators of a Supervisor.
type Deps struct {
	// Checker, Synthesizer and Runner are the pipeline stages. Required.
	Checker     SecurityChecker
	Synthesizer TestSynthesizer
	Runner      TestRunner

	// Metrics records executions. Nil disables metrics.
	Metrics *observability.ExecutionMetrics

	// Logger for structured logging. Nil uses slog.Default().
	Logger *slog.Logger

	// Observer receives every state transition. It is called synchronously
	// and may be called from several runs at once.
	Observer func(RunEvent)

	// Owned is closed by Close. Set it when the supervisor owns the
	// synthesis client, as in one-shot CLI runs.
	Owned io.Closer
}

// =============================================================================
// RUN STATE
// =============================================================================

// RunState is the lifecycle state of one supervised run.
type RunState string

const (
	StatePending   RunState = "PENDING"
	StateRunning   RunState = "RUNNING"
	StateCompleted RunState = "COMPLETED"
	StateTimedOut  RunState = "TIMED_OUT"
)

// RunEvent describes one state transition.
type RunEvent struct {
	RunID string
	From  RunState
	To    RunState
	At    time.Time
}

// run tracks one execution's state.
type run struct {
	id       string
	state    RunState
	observer func(RunEvent)
	logger   *slog.Logger
}

func (r *run) transition(to RunState) {
	from := r.state
	r.state = to
	r.logger.Debug("Run state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	if r.observer != nil {
		r.observer(RunEvent{RunID: r.id, From: from, To: to, At: time.Now()})
	}
}

// =============================================================================
// SUPERVISOR
// =============================================================================

// Supervisor runs the pipeline under a hard deadline.
//
// Thread Safety: Safe for concurrent use. Each Execute call runs its own
// worker goroutine.
type Supervisor struct {
	cfg       Config
	pipeline  *Pipeline
	metrics   *observability.ExecutionMetrics
	logger    *slog.Logger
	observer  func(RunEvent)
	owned     io.Closer
	closeOnce sync.Once
	closeErr  error
}

// NewSupervisor creates a Supervisor.
//
// Inputs:
//
//	cfg - Fixed settings. Copied.
//	deps - Stage implementations and optional hooks.
//
// Outputs:
//
//	*Supervisor - Ready to execute.
//	error - ErrInvalidTimeout or ErrMissingDependency.
func NewSupervisor(cfg Config, deps Deps) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Checker == nil {
		return nil, fmt.Errorf("%w: security checker", ErrMissingDependency)
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("%w: test synthesizer", ErrMissingDependency)
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("%w: test runner", ErrMissingDependency)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		cfg:      cfg,
		pipeline: newPipeline(deps.Checker, deps.Synthesizer, deps.Runner, logger),
		metrics:  deps.Metrics,
		logger:   logger,
		observer: deps.Observer,
		owned:    deps.Owned,
	}, nil
}

// Timeout returns the configured deadline.
func (s *Supervisor) Timeout() time.Duration {
	return s.cfg.Timeout
}

// Execute runs the pipeline for code and returns its response.
//
// Description:
//
//	The pipeline runs in a worker goroutine under a context derived from
//	ctx with the configured timeout. Whichever comes first wins: the
//	worker's response is returned as is, or, once the deadline passes or
//	ctx is cancelled, EXECUTION_TIMEOUT is returned immediately and the
//	cancellation propagates to the model call and any subprocess. A
//	failure the worker reports after the deadline is also EXECUTION_TIMEOUT.
//	A panic in the worker becomes UNEXPECTED_ERROR.
//
// Inputs:
//
//	ctx - Parent context, typically the HTTP request's.
//	code - Submitted source.
//
// Outputs:
//
//	datatypes.ExecutionResponse - Always well-formed.
func (s *Supervisor) Execute(ctx context.Context, code string) datatypes.ExecutionResponse {
	if ctx == nil {
		ctx = context.Background()
	}

	runID := uuid.NewString()
	logger := s.logger.With(slog.String("run_id", runID))
	r := &run{id: runID, state: StatePending, observer: s.observer, logger: logger}

	start := time.Now()
	s.metrics.ExecutionStarted()
	defer s.metrics.ExecutionEnded()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(cancel)
	}
	defer release()

	logger.Info("Execution started", slog.Int("code_length", len(code)))

	done := make(chan datatypes.ExecutionResponse, 1)
	r.transition(StateRunning)
	go s.work(runCtx, code, done, logger)

	var resp datatypes.ExecutionResponse
	select {
	case resp = <-done:
	case <-runCtx.Done():
		select {
		case resp = <-done:
		default:
		}
	}

	// Past the deadline only a finished success stands; a failure may be
	// the worker observing the cancellation itself.
	if runCtx.Err() != nil && !resp.Success {
		r.transition(StateTimedOut)
		release()
		resp = s.timeoutResponse(ctx)
	} else {
		r.transition(StateCompleted)
	}

	elapsed := time.Since(start)
	outcome := observability.Outcome(resp)
	s.metrics.RecordExecution(outcome, elapsed.Seconds())
	logger.Info("Execution finished",
		slog.String("outcome", outcome),
		slog.Duration("duration", elapsed),
	)
	return resp
}

// work runs the pipeline and sends exactly one response on done.
func (s *Supervisor) work(ctx context.Context, code string, done chan<- datatypes.ExecutionResponse, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Pipeline panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			done <- datatypes.NewFailureResponse(datatypes.ErrUnexpectedError,
				fmt.Sprintf("Unexpected error: %v", rec))
		}
	}()
	done <- s.pipeline.Run(ctx, code)
}

func (s *Supervisor) timeoutResponse(parent context.Context) datatypes.ExecutionResponse {
	if errors.Is(parent.Err(), context.Canceled) {
		return datatypes.NewFailureResponse(datatypes.ErrExecutionTimeout,
			"Execution cancelled: the request was cancelled before execution finished")
	}
	return datatypes.NewFailureResponse(datatypes.ErrExecutionTimeout,
		"Execution exceeded maximum allowed time of "+formatTimeout(s.cfg.Timeout))
}

func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int64(d/time.Second))
	}
	return d.String()
}

// Close releases resources the supervisor owns. Safe to call more than once.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		if s.owned != nil {
			s.closeErr = s.owned.Close()
		}
	})
	return s.closeErr
}
