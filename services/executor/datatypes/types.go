// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the request, verdict and response types shared by
// every stage of the execution pipeline.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

// DefaultMaxRequestBytes caps the size of the code field accepted by the
// transport before the request ever reaches the pipeline.
const DefaultMaxRequestBytes = 1 << 20

// GeneratedTestClass is the name of the test class the synthesis prompt asks
// for and the runner loads. Both sides must agree on it.
const GeneratedTestClass = "GeneratedTests"

// =============================================================================
// Shared Validator Instance
// =============================================================================

var requestValidate = validator.New()

// =============================================================================
// Request Types
// =============================================================================

// ExecutionRequest is the body of POST /api/execute.
type ExecutionRequest struct {
	Code string `json:"code" validate:"required"`
}

// Validate checks the request against its struct tags and the transport cap.
//
// # Inputs
//
//   - maxBytes: Upper bound on len(Code). Zero or negative uses DefaultMaxRequestBytes.
//
// # Outputs
//
//   - error: validator.ValidationErrors or ErrRequestTooLarge.
func (r *ExecutionRequest) Validate(maxBytes int) error {
	if err := requestValidate.Struct(r); err != nil {
		return err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBytes
	}
	if len(r.Code) > maxBytes {
		return ErrRequestTooLarge
	}
	return nil
}

// =============================================================================
// Verdicts and Outcomes
// =============================================================================

// SecurityVerdict is the result of the pre-execution policy check.
//
// Kind and Details are only meaningful when Valid is false.
type SecurityVerdict struct {
	Valid   bool
	Kind    ErrorKind
	Details string
}

// Err converts a failing verdict into a StageError. Returns nil when valid.
func (v SecurityVerdict) Err() error {
	if v.Valid {
		return nil
	}
	return NewStageError(v.Kind, v.Details, nil)
}

// TestStatus is the status of a single reported test outcome.
type TestStatus string

const (
	StatusPassed  TestStatus = "PASSED"
	StatusFailed  TestStatus = "FAILED"
	StatusSkipped TestStatus = "SKIPPED"
	StatusWarning TestStatus = "WARNING"
)

// TestOutcome is one entry of ExecutionResponse.TestResults.
//
// Assertions is an ordered list of human-readable evidence lines. For the
// summary entry it carries the aggregate counters.
type TestOutcome struct {
	TestName     string     `json:"testName"`
	Status       TestStatus `json:"status"`
	Assertions   []string   `json:"assertions"`
	ErrorMessage *string    `json:"errorMessage"`
}

// =============================================================================
// Response
// =============================================================================

// ExecutionResponse is the single terminal response of one pipeline run.
//
// # Invariants
//
//   - TestResults is non-nil if and only if Success is true.
//   - Error and Details are non-nil if and only if Success is false.
//
// Build values with NewSuccessResponse and NewFailureResponse only.
type ExecutionResponse struct {
	Success           bool          `json:"success"`
	TestResults       []TestOutcome `json:"testResults"`
	OriginalCode      *string       `json:"originalCode"`
	GeneratedTestCode *string       `json:"generatedTestCode"`
	Error             *ErrorKind    `json:"error"`
	Details           *string       `json:"details"`
}

// NewSuccessResponse builds a successful response echoing the submitted code
// and the synthesized tests.
func NewSuccessResponse(code, tests string, results []TestOutcome) ExecutionResponse {
	if results == nil {
		results = []TestOutcome{}
	}
	return ExecutionResponse{
		Success:           true,
		TestResults:       results,
		OriginalCode:      &code,
		GeneratedTestCode: &tests,
	}
}

// NewFailureResponse builds a failed response carrying one error kind.
func NewFailureResponse(kind ErrorKind, details string) ExecutionResponse {
	return ExecutionResponse{
		Success: false,
		Error:   &kind,
		Details: &details,
	}
}

// ErrorKindOrEmpty returns the error kind or "" on success. Used for metric
// labels and logging.
func (r ExecutionResponse) ErrorKindOrEmpty() string {
	if r.Error == nil {
		return ""
	}
	return string(*r.Error)
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
