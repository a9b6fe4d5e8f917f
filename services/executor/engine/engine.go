// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine compiles user code together with synthesized JUnit tests
// and runs them in a separate JVM.
//
// A run writes the combined unit and the embedded ForgeRunner source into a
// fresh work directory, compiles both with kotlinc, then starts java on
// ForgeRunnerKt which drives JUnit and reports results as prefixed JSON
// lines on stdout. The work directory is removed on every path.
//
// Every subprocess runs in its own process group and is killed as a group
// when the caller's context ends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
)

// stderrTailBytes bounds the stderr excerpt placed in error details.
const stderrTailBytes = 2000

// Engine compiles and runs one unit per call.
//
// Thread Safety: Safe for concurrent use. Each call uses its own work
// directory and processes.
type Engine struct {
	cfg       Config
	toolchain Toolchain
	runner    ProcessRunner
	logger    *slog.Logger
}

// New creates an Engine and resolves its toolchain.
//
// Inputs:
//
//	cfg - Engine configuration. Copied; later changes have no effect.
//	runner - Spawns subprocesses. Must not be nil.
//	logger - Logger for structured logging. Nil uses slog.Default().
//
// Outputs:
//
//	*Engine - Ready to run.
//	error - ErrNilRunner, or a toolchain error wrapping ErrToolNotFound or
//	        ErrJarNotFound.
func New(cfg Config, runner ProcessRunner, logger *slog.Logger) (*Engine, error) {
	if runner == nil {
		return nil, ErrNilRunner
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.DepsDirs = append([]string(nil), cfg.DepsDirs...)
	cfg.applyDefaults()

	tc, err := ResolveToolchain(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve toolchain: %w", err)
	}

	logger.Info("Toolchain resolved",
		slog.String("kotlinc", tc.Kotlinc),
		slog.String("java", tc.Java),
		slog.String("junit", tc.JUnitJar),
		slog.String("hamcrest", tc.HamcrestJar),
		slog.String("kotlin_stdlib", tc.KotlinStdlibJar),
	)

	return &Engine{
		cfg:       cfg,
		toolchain: tc,
		runner:    runner,
		logger:    logger,
	}, nil
}

// Toolchain returns the resolved toolchain.
func (e *Engine) Toolchain() Toolchain {
	return e.toolchain
}

// CompileAndRun composes, compiles and runs source with testSource.
//
// Description:
//
//	Failures come back as *datatypes.StageError: COMPILATION_ERROR when
//	kotlinc rejects the unit, TEST_EXECUTION_ERROR when the runner cannot
//	report results or anything else goes wrong, EXECUTION_TIMEOUT when ctx
//	ended while a subprocess was running. Failing tests are not an error;
//	they show up in the outcomes.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	source - User code.
//	testSource - Synthesized tests declaring class GeneratedTests.
//
// Outputs:
//
//	*TestExecutionResult - Outcomes and raw report on success.
//	error - Non-nil on failure.
func (e *Engine) CompileAndRun(ctx context.Context, source, testSource string) (result *TestExecutionResult, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic during compile and run", slog.Any("panic", r))
			result = nil
			err = datatypes.NewStageError(datatypes.ErrTestExecutionError,
				fmt.Sprintf("Unexpected error during test execution: %v", r), nil)
		}
	}()

	workDir, err := os.MkdirTemp(e.cfg.TempDir, "testforge-*")
	if err != nil {
		return nil, executionError("Failed to create work directory", err)
	}
	defer e.removeWorkDir(workDir)

	unit := Compose(source, testSource)
	if err := os.WriteFile(filepath.Join(workDir, UnitFileName), []byte(unit), 0o600); err != nil {
		return nil, executionError("Failed to write compilation unit", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, RunnerFileName), []byte(runnerSource), 0o600); err != nil {
		return nil, executionError("Failed to write test runner", err)
	}

	classesDir := filepath.Join(workDir, "classes")

	compileDuration, err := e.compile(ctx, workDir, classesDir)
	if err != nil {
		return nil, err
	}

	report, runDuration, err := e.runTests(ctx, workDir, classesDir)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Tests executed",
		slog.Int("total", report.Run),
		slog.Int("failed", report.Failed),
		slog.Int("ignored", report.Ignored),
		slog.Duration("compile", compileDuration),
		slog.Duration("run", runDuration),
	)

	return &TestExecutionResult{
		Outcomes:        BuildOutcomes(report),
		Report:          report,
		CompileDuration: compileDuration,
		RunDuration:     runDuration,
	}, nil
}

// =============================================================================
// STAGES
// =============================================================================

// compile runs kotlinc on the unit and the runner.
func (e *Engine) compile(ctx context.Context, workDir, classesDir string) (time.Duration, error) {
	ctx, span := startStageSpan(ctx, "Engine.Compile",
		attribute.String("engine.jvm_target", e.cfg.JVMTarget),
	)

	spec := ProcessSpec{
		Stage: "compile",
		Path:  e.toolchain.Kotlinc,
		Args: []string{
			UnitFileName,
			RunnerFileName,
			"-d", classesDir,
			"-jvm-target", e.cfg.JVMTarget,
			"-classpath", e.toolchain.CompileClasspath(),
			"-nowarn",
		},
		Dir:            workDir,
		MaxOutputBytes: e.cfg.MaxOutputBytes,
	}

	start := time.Now()
	res, runErr := e.runner.Run(ctx, spec)
	duration := time.Since(start)

	outcome, err := e.checkCompile(res, runErr, classesDir)
	recordStage(ctx, "compile", outcome, duration)
	endStageSpan(span, outcome, err)

	if err != nil {
		e.logger.Info("Compilation failed",
			slog.String("outcome", outcome),
			slog.Duration("duration", duration),
		)
	}
	return duration, err
}

func (e *Engine) checkCompile(res *ProcessResult, runErr error, classesDir string) (string, error) {
	if runErr != nil {
		return processFailure("compiler", runErr)
	}
	if res.ExitCode != 0 {
		return "failed", datatypes.NewStageError(datatypes.ErrCompilationError, diagnostics(res),
			&ProcessExitError{Stage: "compile", ExitCode: res.ExitCode, Output: res.Stderr})
	}

	classFile := filepath.Join(classesDir, datatypes.GeneratedTestClass+".class")
	if !isFile(classFile) {
		return "failed", datatypes.NewStageError(datatypes.ErrCompilationError,
			"compiled test class "+datatypes.GeneratedTestClass+" not found", ErrArtifactMissing)
	}
	return "ok", nil
}

// runTests starts the test JVM and parses the runner's records.
func (e *Engine) runTests(ctx context.Context, workDir, classesDir string) (*TestReport, time.Duration, error) {
	ctx, span := startStageSpan(ctx, "Engine.RunTests",
		attribute.Int("engine.heap_mb", e.cfg.TestHeapMB),
	)

	nonce := uuid.NewString()
	spec := ProcessSpec{
		Stage: "test",
		Path:  e.toolchain.Java,
		Args: []string{
			fmt.Sprintf("-Xmx%dm", e.cfg.TestHeapMB),
			"-Djava.awt.headless=true",
			"-cp", e.toolchain.RunClasspath(classesDir),
			RunnerMainClass,
			datatypes.GeneratedTestClass,
			nonce,
		},
		Dir: workDir,
		Limits: ResourceLimits{
			CPUSeconds:   e.cfg.CPUSeconds,
			MaxFileBytes: e.cfg.MaxFileBytes,
		},
		MaxOutputBytes: e.cfg.MaxOutputBytes,
	}

	start := time.Now()
	res, runErr := e.runner.Run(ctx, spec)
	duration := time.Since(start)

	report, outcome, err := checkRun(res, runErr, nonce)
	recordStage(ctx, "test", outcome, duration)
	if report != nil {
		span.SetAttributes(
			attribute.Int("engine.tests_run", report.Run),
			attribute.Int("engine.tests_failed", report.Failed),
		)
	}
	endStageSpan(span, outcome, err)

	return report, duration, err
}

func checkRun(res *ProcessResult, runErr error, nonce string) (*TestReport, string, error) {
	if runErr != nil {
		outcome, err := processFailure("test runner", runErr)
		return nil, outcome, err
	}

	report := ParseReport(res.Stdout, nonce)
	if report.RunnerError != "" {
		return nil, "error", datatypes.NewStageError(datatypes.ErrTestExecutionError,
			"Test runner error: "+report.RunnerError, nil)
	}
	if !report.Summarized {
		details := fmt.Sprintf("Test runner exited with code %d without reporting results", res.ExitCode)
		if tail := tailString(strings.TrimSpace(res.Stderr), stderrTailBytes); tail != "" {
			details += ": " + tail
		}
		return nil, "error", datatypes.NewStageError(datatypes.ErrTestExecutionError, details,
			fmt.Errorf("%w (exit code %d)", ErrNoSummary, res.ExitCode))
	}

	if report.Failed > 0 {
		return report, "tests_failed", nil
	}
	return report, "passed", nil
}

// =============================================================================
// HELPERS
// =============================================================================

// processFailure maps a ProcessRunner error to a stage error.
func processFailure(what string, err error) (string, error) {
	if errors.Is(err, ErrProcessCancelled) {
		return "cancelled", datatypes.NewStageError(datatypes.ErrExecutionTimeout,
			"Execution cancelled while the "+what+" was running", err)
	}
	return "error", executionError("Failed to run "+what, err)
}

func executionError(msg string, err error) error {
	return datatypes.NewStageError(datatypes.ErrTestExecutionError, msg+": "+err.Error(), err)
}

// diagnostics picks compiler output for the error details.
func diagnostics(res *ProcessResult) string {
	out := strings.TrimSpace(res.Stderr)
	if out == "" {
		out = strings.TrimSpace(res.Stdout)
	}
	if out == "" {
		out = fmt.Sprintf("kotlinc exited with code %d", res.ExitCode)
	}
	if res.Truncated {
		out += "\n... (output truncated)"
	}
	return out
}

func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

func (e *Engine) removeWorkDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		e.logger.Warn("Failed to remove work directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
}
