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
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
	"github.com/AleutianAI/TestForge/services/executor/engine"
	"github.com/AleutianAI/TestForge/services/executor/observability"
)

// =============================================================================
// Mocks
// =============================================================================

type mockChecker struct {
	ValidateFunc func(source string) datatypes.SecurityVerdict
}

func (m *mockChecker) Validate(source string) datatypes.SecurityVerdict {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(source)
	}
	return datatypes.SecurityVerdict{Valid: true}
}

type mockSynthesizer struct {
	calls          atomic.Int32
	SynthesizeFunc func(ctx context.Context, source string) (string, error)
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, source string) (string, error) {
	m.calls.Add(1)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, source)
	}
	return "class GeneratedTests", nil
}

type mockRunner struct {
	calls             atomic.Int32
	CompileAndRunFunc func(ctx context.Context, source, tests string) (*engine.TestExecutionResult, error)
}

func (m *mockRunner) CompileAndRun(ctx context.Context, source, tests string) (*engine.TestExecutionResult, error) {
	m.calls.Add(1)
	if m.CompileAndRunFunc != nil {
		return m.CompileAndRunFunc(ctx, source, tests)
	}
	return &engine.TestExecutionResult{
		Outcomes: engine.BuildOutcomes(&engine.TestReport{Run: 2, TimeMs: 4}),
	}, nil
}

type countingCloser struct {
	closed atomic.Int32
}

func (c *countingCloser) Close() error {
	c.closed.Add(1)
	return nil
}

type fixture struct {
	checker *mockChecker
	synth   *mockSynthesizer
	runner  *mockRunner
	metrics *observability.ExecutionMetrics

	mu     sync.Mutex
	events []RunEvent
}

func newFixture() *fixture {
	return &fixture{
		checker: &mockChecker{},
		synth:   &mockSynthesizer{},
		runner:  &mockRunner{},
		metrics: observability.NewExecutionMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) supervisor(t *testing.T, timeout time.Duration) *Supervisor {
	t.Helper()
	s, err := NewSupervisor(Config{Timeout: timeout}, Deps{
		Checker:     f.checker,
		Synthesizer: f.synth,
		Runner:      f.runner,
		Metrics:     f.metrics,
		Observer: func(ev RunEvent) {
			f.mu.Lock()
			f.events = append(f.events, ev)
			f.mu.Unlock()
		},
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) states() []RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RunState, 0, len(f.events)+1)
	if len(f.events) > 0 {
		out = append(out, f.events[0].From)
	}
	for _, ev := range f.events {
		out = append(out, ev.To)
	}
	return out
}

func requireFailure(t *testing.T, resp datatypes.ExecutionResponse, kind datatypes.ErrorKind) string {
	t.Helper()
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.NotNil(t, resp.Details)
	assert.Equal(t, kind, *resp.Error)
	assert.Nil(t, resp.TestResults)
	return *resp.Details
}

// =============================================================================
// Construction
// =============================================================================

func TestNewSupervisor_Validation(t *testing.T) {
	f := newFixture()

	_, err := NewSupervisor(Config{}, Deps{Checker: f.checker, Synthesizer: f.synth, Runner: f.runner})
	assert.ErrorIs(t, err, ErrInvalidTimeout)

	_, err = NewSupervisor(DefaultConfig(), Deps{Synthesizer: f.synth, Runner: f.runner})
	assert.ErrorIs(t, err, ErrMissingDependency)

	_, err = NewSupervisor(DefaultConfig(), Deps{Checker: f.checker, Runner: f.runner})
	assert.ErrorIs(t, err, ErrMissingDependency)

	_, err = NewSupervisor(DefaultConfig(), Deps{Checker: f.checker, Synthesizer: f.synth})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

// =============================================================================
// Stage sequencing
// =============================================================================

func TestExecute_Success(t *testing.T) {
	f := newFixture()
	s := f.supervisor(t, 5*time.Second)

	resp := s.Execute(context.Background(), "fun add(a: Int, b: Int) = a + b")

	require.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Nil(t, resp.Details)
	require.Len(t, resp.TestResults, 1)
	assert.Equal(t, "Test Summary", resp.TestResults[0].TestName)
	assert.Equal(t, "fun add(a: Int, b: Int) = a + b", *resp.OriginalCode)
	assert.Equal(t, "class GeneratedTests", *resp.GeneratedTestCode)

	assert.Equal(t, []RunState{StatePending, StateRunning, StateCompleted}, f.states())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ExecutionsTotal.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.InflightExecutions))
}

func TestExecute_SecurityFailureStopsPipeline(t *testing.T) {
	f := newFixture()
	f.checker.ValidateFunc = func(source string) datatypes.SecurityVerdict {
		return datatypes.SecurityVerdict{
			Kind:    datatypes.ErrBlacklistedPatterns,
			Details: "Code contains forbidden patterns: System.exit",
		}
	}
	s := f.supervisor(t, 5*time.Second)

	resp := s.Execute(context.Background(), "System.exit(0)")

	details := requireFailure(t, resp, datatypes.ErrBlacklistedPatterns)
	assert.Equal(t, "Code contains forbidden patterns: System.exit", details)
	assert.Zero(t, f.synth.calls.Load())
	assert.Zero(t, f.runner.calls.Load())
}

func TestExecute_BlankTests(t *testing.T) {
	for _, blank := range []string{"", "   ", "\n\t\n"} {
		f := newFixture()
		f.synth.SynthesizeFunc = func(ctx context.Context, source string) (string, error) {
			return blank, nil
		}
		s := f.supervisor(t, 5*time.Second)

		resp := s.Execute(context.Background(), "fun f() = 1")

		details := requireFailure(t, resp, datatypes.ErrNoTestsGenerated)
		assert.Equal(t, "LLM failed to generate valid test code", details)
		assert.Zero(t, f.runner.calls.Load())
	}
}

func TestExecute_StageErrorsPassThrough(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		kind  datatypes.ErrorKind
	}{
		{
			name: "llm error",
			setup: func(f *fixture) {
				f.synth.SynthesizeFunc = func(ctx context.Context, source string) (string, error) {
					return "", datatypes.NewStageError(datatypes.ErrLLMAPIError, "yandex API error: status 500 - boom", nil)
				}
			},
			kind: datatypes.ErrLLMAPIError,
		},
		{
			name: "llm timeout",
			setup: func(f *fixture) {
				f.synth.SynthesizeFunc = func(ctx context.Context, source string) (string, error) {
					return "", datatypes.NewStageError(datatypes.ErrLLMAPITimeout, "Timed out waiting for yandex response", nil)
				}
			},
			kind: datatypes.ErrLLMAPITimeout,
		},
		{
			name: "compilation error",
			setup: func(f *fixture) {
				f.runner.CompileAndRunFunc = func(ctx context.Context, source, tests string) (*engine.TestExecutionResult, error) {
					return nil, datatypes.NewStageError(datatypes.ErrCompilationError, "error: unresolved reference", nil)
				}
			},
			kind: datatypes.ErrCompilationError,
		},
		{
			name: "untyped error",
			setup: func(f *fixture) {
				f.runner.CompileAndRunFunc = func(ctx context.Context, source, tests string) (*engine.TestExecutionResult, error) {
					return nil, errors.New("disk on fire")
				}
			},
			kind: datatypes.ErrUnexpectedError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)
			s := f.supervisor(t, 5*time.Second)

			resp := s.Execute(context.Background(), "fun f() = 1")
			requireFailure(t, resp, tt.kind)

			label := strings.ToLower(string(tt.kind))
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ExecutionsTotal.WithLabelValues(label)))
		})
	}
}

// =============================================================================
// Deadline
// =============================================================================

func TestExecute_TimeoutCancelsWorker(t *testing.T) {
	f := newFixture()
	cancelled := make(chan struct{})
	f.synth.SynthesizeFunc = func(ctx context.Context, source string) (string, error) {
		select {
		case <-ctx.Done():
			close(cancelled)
			return "", ctx.Err()
		case <-time.After(10 * time.Second):
			return "class GeneratedTests", nil
		}
	}
	s := f.supervisor(t, 100*time.Millisecond)

	start := time.Now()
	resp := s.Execute(context.Background(), "fun f() = 1")
	elapsed := time.Since(start)

	details := requireFailure(t, resp, datatypes.ErrExecutionTimeout)
	assert.Equal(t, "Execution exceeded maximum allowed time of 100ms", details)
	assert.Less(t, elapsed, time.Second)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("worker context was not cancelled")
	}
	assert.Equal(t, []RunState{StatePending, StateRunning, StateTimedOut}, f.states())
	assert.Zero(t, f.runner.calls.Load())
}

func TestExecute_TimeoutWithUncooperativeStage(t *testing.T) {
	f := newFixture()
	f.runner.CompileAndRunFunc = func(ctx context.Context, source, tests string) (*engine.TestExecutionResult, error) {
		time.Sleep(500 * time.Millisecond)
		return &engine.TestExecutionResult{}, nil
	}
	s := f.supervisor(t, 50*time.Millisecond)

	start := time.Now()
	resp := s.Execute(context.Background(), "fun f() = 1")

	requireFailure(t, resp, datatypes.ErrExecutionTimeout)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestExecute_WholeSecondTimeoutMessage(t *testing.T) {
	f := newFixture()
	f.synth.SynthesizeFunc = func(ctx context.Context, source string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	s := f.supervisor(t, time.Second)

	resp := s.Execute(context.Background(), "fun f() = 1")
	details := requireFailure(t, resp, datatypes.ErrExecutionTimeout)
	assert.Equal(t, "Execution exceeded maximum allowed time of 1 seconds", details)
}

func TestExecute_DeadlineDuringSynthesisIsAlwaysTimeout(t *testing.T) {
	f := newFixture()
	f.synth.SynthesizeFunc = func(ctx context.Context, source string) (string, error) {
		<-ctx.Done()
		return "", datatypes.NewStageError(datatypes.ErrLLMAPITimeout, "Timed out waiting for yandex response", ctx.Err())
	}
	s := f.supervisor(t, 5*time.Millisecond)

	const runs = 500
	var mu sync.Mutex
	kinds := map[datatypes.ErrorKind]int{}
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.Execute(context.Background(), "fun f() = 1")
			mu.Lock()
			defer mu.Unlock()
			if resp.Error != nil {
				kinds[*resp.Error]++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, map[datatypes.ErrorKind]int{datatypes.ErrExecutionTimeout: runs}, kinds)
}

func TestExecute_ParentCancelled(t *testing.T) {
	f := newFixture()
	f.synth.SynthesizeFunc = func(ctx context.Context, source string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	s := f.supervisor(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	resp := s.Execute(ctx, "fun f() = 1")
	details := requireFailure(t, resp, datatypes.ErrExecutionTimeout)
	assert.Contains(t, details, "cancelled")
}

// =============================================================================
// Panics and cleanup
// =============================================================================

func TestExecute_PanicBecomesUnexpectedError(t *testing.T) {
	f := newFixture()
	f.runner.CompileAndRunFunc = func(ctx context.Context, source, tests string) (*engine.TestExecutionResult, error) {
		panic("kaboom")
	}
	s := f.supervisor(t, 5*time.Second)

	resp := s.Execute(context.Background(), "fun f() = 1")
	details := requireFailure(t, resp, datatypes.ErrUnexpectedError)
	assert.Contains(t, details, "kaboom")
	assert.Equal(t, []RunState{StatePending, StateRunning, StateCompleted}, f.states())
}

func TestExecute_ConcurrentRuns(t *testing.T) {
	f := newFixture()
	s := f.supervisor(t, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, s.Execute(context.Background(), "fun f() = 1").Success)
		}()
	}
	wg.Wait()

	assert.Equal(t, 16.0, testutil.ToFloat64(f.metrics.ExecutionsTotal.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.InflightExecutions))

	ids := map[string]bool{}
	for _, ev := range f.events {
		ids[ev.RunID] = true
	}
	assert.Len(t, ids, 16)
}

func TestClose_ClosesOwnedOnce(t *testing.T) {
	f := newFixture()
	owned := &countingCloser{}
	s, err := NewSupervisor(DefaultConfig(), Deps{
		Checker:     f.checker,
		Synthesizer: f.synth,
		Runner:      f.runner,
		Owned:       owned,
	})
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, int32(1), owned.closed.Load())
}

func TestClose_WithoutOwned(t *testing.T) {
	f := newFixture()
	s := f.supervisor(t, time.Second)
	assert.NoError(t, s.Close())
}
