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
	"bufio"
	_ "embed"
	"encoding/json"
	"strings"
)

// =============================================================================
// TEST RUNNER
// =============================================================================

// RunnerFileName is the file name the runner source is written under.
const RunnerFileName = "ForgeRunner.kt"

// RunnerMainClass is the JVM entry point compiled from RunnerFileName.
const RunnerMainClass = "testforge.runner.ForgeRunnerKt"

// runnerSource is compiled next to every unit. It drives JUnit and reports
// results as prefixed JSON lines on stdout.
//
//go:embed runner/ForgeRunner.kt
var runnerSource string

// recordPrefix is the line marker for a run started with nonce.
func recordPrefix(nonce string) string {
	return "##testforge:" + nonce + " "
}

// =============================================================================
// REPORT
// =============================================================================

// FailureRecord is one failed test as reported by the runner.
type FailureRecord struct {
	// Test is the JUnit display name, e.g. "testAdd(GeneratedTests)".
	Test string `json:"test"`

	// Header is the JUnit failure header.
	Header string `json:"header"`

	// Message is the failure message, or the exception text when the
	// failure has no message.
	Message string `json:"message"`
}

// TestReport is the aggregate of a test run.
type TestReport struct {
	Run          int             `json:"run"`
	Failed       int             `json:"failed"`
	Ignored      int             `json:"ignored"`
	TimeMs       int64           `json:"timeMs"`
	Failures     []FailureRecord `json:"failures"`
	IgnoredTests []string        `json:"ignoredTests,omitempty"`

	// Summarized is true once a summary record was seen.
	Summarized bool `json:"-"`

	// RunnerError is set when the runner could not start the test class.
	RunnerError string `json:"-"`
}

// Succeeded returns Run minus Failed.
func (r *TestReport) Succeeded() int {
	return r.Run - r.Failed
}

// runnerRecord is the union of every record shape the runner emits.
type runnerRecord struct {
	Event   string `json:"event"`
	Test    string `json:"test"`
	Header  string `json:"header"`
	Message string `json:"message"`
	Run     int    `json:"run"`
	Failed  int    `json:"failed"`
	Ignored int    `json:"ignored"`
	TimeMs  int64  `json:"timeMs"`
}

// ParseReport extracts runner records from stdout.
//
// Description:
//
//	Scans stdout line by line and decodes lines carrying the prefix for
//	nonce. Lines without the prefix are test output and are ignored, as are
//	prefixed lines that fail to decode.
//
// Inputs:
//
//	stdout - Captured runner stdout.
//	nonce - The per-run nonce passed to the runner.
//
// Outputs:
//
//	*TestReport - Never nil. Summarized is false if no summary was seen.
func ParseReport(stdout, nonce string) *TestReport {
	report := &TestReport{Failures: []FailureRecord{}}
	prefix := recordPrefix(nonce)

	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, prefix)
		if !ok {
			continue
		}

		var rec runnerRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			continue
		}

		switch rec.Event {
		case "failure":
			report.Failures = append(report.Failures, FailureRecord{
				Test:    rec.Test,
				Header:  rec.Header,
				Message: rec.Message,
			})
		case "ignored":
			report.IgnoredTests = append(report.IgnoredTests, rec.Test)
		case "summary":
			report.Run = rec.Run
			report.Failed = rec.Failed
			report.Ignored = rec.Ignored
			report.TimeMs = rec.TimeMs
			report.Summarized = true
		case "error":
			report.RunnerError = rec.Message
		}
	}
	return report
}
