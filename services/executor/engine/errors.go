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
	"errors"
	"strconv"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNilContext indicates a nil context.Context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrToolNotFound indicates kotlinc or java could not be located.
	ErrToolNotFound = errors.New("toolchain executable not found")

	// ErrJarNotFound indicates a required jar could not be located.
	ErrJarNotFound = errors.New("required jar not found")

	// ErrNilRunner indicates New was called without a ProcessRunner.
	ErrNilRunner = errors.New("process runner must not be nil")

	// ErrProcessStart indicates a subprocess could not be started.
	ErrProcessStart = errors.New("failed to start process")

	// ErrProcessCancelled indicates a subprocess was killed because its
	// context was cancelled or its deadline expired.
	ErrProcessCancelled = errors.New("process cancelled")

	// ErrArtifactMissing indicates the compiler exited cleanly but the
	// expected class file is absent.
	ErrArtifactMissing = errors.New("compiled artifact missing")

	// ErrNoSummary indicates the test runner exited without reporting a
	// summary record.
	ErrNoSummary = errors.New("test runner reported no summary")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ProcessExitError describes a subprocess that exited unsuccessfully.
type ProcessExitError struct {
	// Stage is "compile" or "test".
	Stage string

	// ExitCode is the exit code, or -1 when killed by a signal.
	ExitCode int

	// Output is the captured diagnostic text.
	Output string
}

// Error implements the error interface.
func (e *ProcessExitError) Error() string {
	return e.Stage + " process exited with code " + strconv.Itoa(e.ExitCode)
}
