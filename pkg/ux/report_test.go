// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
)

func successResponse() datatypes.ExecutionResponse {
	return datatypes.NewSuccessResponse("fun add(a: Int, b: Int) = a + b", "class GeneratedTests {}", []datatypes.TestOutcome{
		{
			TestName:   "Test Summary",
			Status:     datatypes.StatusFailed,
			Assertions: []string{"Total tests: 2", "Tests failed: 1"},
		},
		{
			TestName:     "addsNegatives(GeneratedTests)",
			Status:       datatypes.StatusFailed,
			Assertions:   []string{"Test failed during execution"},
			ErrorMessage: datatypes.StringPtr("expected:<0> but was:<1>"),
		},
	})
}

func TestRenderReport_Success(t *testing.T) {
	out := RenderReport(successResponse(), ReportOptions{Source: "add.kt", Elapsed: 1500 * time.Millisecond})

	assert.Contains(t, out, "TestForge")
	assert.Contains(t, out, "add.kt")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "Test Summary")
	assert.Contains(t, out, "Total tests: 2")
	assert.Contains(t, out, "addsNegatives(GeneratedTests)")
	assert.Contains(t, out, "expected:<0> but was:<1>")
	assert.NotContains(t, out, "class GeneratedTests {}", "tests are hidden unless asked for")
}

func TestRenderReport_ShowTests(t *testing.T) {
	out := RenderReport(successResponse(), ReportOptions{ShowTests: true})
	assert.Contains(t, out, "Generated tests")
	assert.Contains(t, out, "class GeneratedTests {}")
}

func TestRenderReport_Failure(t *testing.T) {
	resp := datatypes.NewFailureResponse(datatypes.ErrCompilationError, "CombinedTests.kt:3:5: error: unresolved reference: foo")
	out := RenderReport(resp, ReportOptions{})

	assert.Contains(t, out, "COMPILATION_ERROR")
	assert.Contains(t, out, "unresolved reference: foo")
}

func TestWriteReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, ModeJSON, successResponse(), ReportOptions{}))

	var decoded datatypes.ExecutionResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.True(t, decoded.Success)
	assert.Len(t, decoded.TestResults, 2)
}

func TestWriteReport_Styled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, ModeStyled, successResponse(), ReportOptions{}))
	assert.Contains(t, buf.String(), "Test Summary")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestDetectMode(t *testing.T) {
	assert.Equal(t, ModeJSON, DetectMode(nil, false))
	assert.Equal(t, ModeJSON, DetectMode(os.Stdout, true))

	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, ModeJSON, DetectMode(f, false), "regular files are not terminals")
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconSkipped, IconBullet} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}
