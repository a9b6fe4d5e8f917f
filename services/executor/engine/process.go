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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// =============================================================================
// PROCESS RUNNER
// =============================================================================

// ResourceLimits are applied to a child process after it starts.
// Zero values leave the corresponding limit unchanged.
type ResourceLimits struct {
	CPUSeconds   uint64
	MaxFileBytes uint64
}

// ProcessSpec describes one subprocess invocation.
type ProcessSpec struct {
	// Stage labels the process in logs and errors ("compile", "test").
	Stage string

	// Path is the executable.
	Path string

	// Args are the arguments, excluding the executable.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env is the environment. Nil inherits a sanitized copy of ours.
	Env []string

	// Limits are resource limits for the child.
	Limits ResourceLimits

	// MaxOutputBytes caps captured stdout and stderr individually.
	MaxOutputBytes int
}

// ProcessResult is the outcome of a completed subprocess.
type ProcessResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
	Duration  time.Duration
}

// ProcessRunner spawns subprocesses.
//
// Run returns a nil error when the process ran to completion, whatever its
// exit code. A non-nil error means the process could not be started, or it
// was killed because ctx ended (wrapping ErrProcessCancelled).
type ProcessRunner interface {
	Run(ctx context.Context, spec ProcessSpec) (*ProcessResult, error)
}

// ExecRunner is the os/exec implementation of ProcessRunner.
//
// Every child runs in its own process group. When ctx ends the whole group
// receives SIGKILL, so the JVM started by the kotlinc wrapper script dies
// together with the script.
//
// Thread Safety: Safe for concurrent use. Each call creates its own process.
type ExecRunner struct {
	waitDelay time.Duration
	logger    *slog.Logger
}

// NewExecRunner creates an ExecRunner.
//
// Inputs:
//
//	logger - Logger for structured logging. Nil uses slog.Default().
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		waitDelay: 2 * time.Second,
		logger:    logger,
	}
}

// Run implements ProcessRunner.
func (r *ExecRunner) Run(ctx context.Context, spec ProcessSpec) (*ProcessResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	if cmd.Env == nil {
		cmd.Env = sanitizedEnv(os.Environ())
	}
	configureProcessGroup(cmd)
	cmd.WaitDelay = r.waitDelay

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: spec.MaxOutputBytes}
	stderrLimited := &limitedWriter{w: &stderr, limit: spec.MaxOutputBytes}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	r.logger.Debug("Executing command",
		slog.String("stage", spec.Stage),
		slog.String("command", spec.Path),
		slog.Any("args", spec.Args),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessStart, spec.Path, err)
	}

	if err := applyLimits(cmd.Process.Pid, spec.Limits); err != nil {
		r.logger.Warn("Could not apply resource limits",
			slog.String("stage", spec.Stage),
			slog.String("error", err.Error()),
		)
	}

	waitErr := cmd.Wait()

	result := &ProcessResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
		Duration:  time.Since(start),
	}

	// Handle context cancellation (deadline or caller gone)
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		r.logger.Warn("Process killed on cancellation",
			slog.String("stage", spec.Stage),
			slog.Duration("after", result.Duration),
		)
		return result, fmt.Errorf("%w: %s: %w", ErrProcessCancelled, spec.Stage, ctxErr)
	}

	// Extract exit code
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("wait for %s process: %w", spec.Stage, waitErr)
	}

	return result, nil
}

// sensitiveEnvMarkers mark variables that never reach child processes.
var sensitiveEnvMarkers = []string{"KEY", "SECRET", "TOKEN", "PASSWORD", "CREDENTIAL"}

// sanitizedEnv drops credential-looking variables from env.
func sanitizedEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		upper := strings.ToUpper(name)
		sensitive := false
		for _, marker := range sensitiveEnvMarkers {
			if strings.Contains(upper, marker) {
				sensitive = true
				break
			}
		}
		if !sensitive {
			out = append(out, kv)
		}
	}
	return out
}

// =============================================================================
// LIMITED WRITER
// =============================================================================

// limitedWriter wraps a writer with a size limit.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	if lw.written >= lw.limit {
		lw.truncated = true
		return len(p), nil // Silently discard
	}

	// Report the full length so io.Copy does not fail with ErrShortWrite.
	total := len(p)
	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}

	n, err = lw.w.Write(p)
	lw.written += n
	return total, err
}

var _ ProcessRunner = (*ExecRunner)(nil)
