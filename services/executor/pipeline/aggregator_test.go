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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
	"github.com/AleutianAI/TestForge/services/executor/engine"
)

func TestAggregate(t *testing.T) {
	result := &engine.TestExecutionResult{
		Outcomes: engine.BuildOutcomes(&engine.TestReport{Run: 3, Failed: 1, Failures: []engine.FailureRecord{
			{Header: "t(GeneratedTests)", Message: "nope"},
		}}),
	}

	resp := Aggregate("code", "tests", result)

	require.True(t, resp.Success)
	assert.Equal(t, "code", *resp.OriginalCode)
	assert.Equal(t, "tests", *resp.GeneratedTestCode)
	require.Len(t, resp.TestResults, 2)
	assert.Equal(t, datatypes.StatusFailed, resp.TestResults[0].Status)
	assert.Nil(t, resp.Error)
	assert.Nil(t, resp.Details)
}

func TestAggregate_NilResult(t *testing.T) {
	resp := Aggregate("code", "tests", nil)
	require.True(t, resp.Success)
	assert.NotNil(t, resp.TestResults)
	assert.Empty(t, resp.TestResults)
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    datatypes.ErrorKind
		details string
	}{
		{
			name:    "stage error",
			err:     datatypes.NewStageError(datatypes.ErrCompilationError, "bad code", nil),
			kind:    datatypes.ErrCompilationError,
			details: "bad code",
		},
		{
			name:    "wrapped stage error",
			err:     fmt.Errorf("engine: %w", datatypes.NewStageError(datatypes.ErrTestExecutionError, "runner died", nil)),
			kind:    datatypes.ErrTestExecutionError,
			details: "runner died",
		},
		{
			name:    "stage error with unknown kind",
			err:     datatypes.NewStageError("SOMETHING_ELSE", "x", nil),
			kind:    datatypes.ErrUnexpectedError,
			details: "Unexpected error: SOMETHING_ELSE: x",
		},
		{
			name:    "plain error",
			err:     errors.New("boom"),
			kind:    datatypes.ErrUnexpectedError,
			details: "Unexpected error: boom",
		},
		{
			name:    "nil",
			err:     nil,
			kind:    datatypes.ErrUnexpectedError,
			details: "Unexpected error: no error information",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := FromError(tt.err)
			require.False(t, resp.Success)
			assert.Nil(t, resp.TestResults)
			assert.Equal(t, tt.kind, *resp.Error)
			assert.Equal(t, tt.details, *resp.Details)
		})
	}
}

func TestNoTestsGenerated(t *testing.T) {
	resp := NoTestsGenerated()
	assert.Equal(t, datatypes.ErrNoTestsGenerated, *resp.Error)
	assert.Equal(t, "LLM failed to generate valid test code", *resp.Details)
}
