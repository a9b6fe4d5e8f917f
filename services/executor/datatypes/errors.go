// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// ErrorKind is the machine-readable code carried by a failed response.
type ErrorKind string

const (
	ErrCodeTooLong         ErrorKind = "CODE_TOO_LONG"
	ErrBlacklistedPatterns ErrorKind = "BLACKLISTED_PATTERNS"
	ErrDangerousImports    ErrorKind = "DANGEROUS_IMPORTS"
	ErrLLMAPIError         ErrorKind = "LLM_API_ERROR"
	ErrLLMAPITimeout       ErrorKind = "LLM_API_TIMEOUT"
	ErrNoTestsGenerated    ErrorKind = "NO_TESTS_GENERATED"
	ErrCompilationError    ErrorKind = "COMPILATION_ERROR"
	ErrTestExecutionError  ErrorKind = "TEST_EXECUTION_ERROR"
	ErrExecutionTimeout    ErrorKind = "EXECUTION_TIMEOUT"
	ErrUnexpectedError     ErrorKind = "UNEXPECTED_ERROR"
)

var allErrorKinds = map[ErrorKind]struct{}{
	ErrCodeTooLong:         {},
	ErrBlacklistedPatterns: {},
	ErrDangerousImports:    {},
	ErrLLMAPIError:         {},
	ErrLLMAPITimeout:       {},
	ErrNoTestsGenerated:    {},
	ErrCompilationError:    {},
	ErrTestExecutionError:  {},
	ErrExecutionTimeout:    {},
	ErrUnexpectedError:     {},
}

// Valid reports whether k belongs to the closed set of error kinds.
func (k ErrorKind) Valid() bool {
	_, ok := allErrorKinds[k]
	return ok
}

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrRequestTooLarge indicates the request body exceeds the transport cap.
	ErrRequestTooLarge = errors.New("code exceeds maximum request size")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// StageError is the typed verdict a pipeline stage returns on failure.
//
// The first StageError produced by a run determines the response: its Kind
// and Details are copied into ExecutionResponse verbatim.
type StageError struct {
	// Kind is the error kind reported to the client.
	Kind ErrorKind

	// Details is the human-readable explanation reported to the client.
	Details string

	// Cause is the underlying error, if any. Never serialized.
	Cause error
}

// NewStageError creates a StageError.
func NewStageError(kind ErrorKind, details string, cause error) *StageError {
	return &StageError{Kind: kind, Details: details, Cause: cause}
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Details == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Details
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Cause
}

// AsStageError extracts a StageError from err's chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
