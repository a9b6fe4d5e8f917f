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
	"fmt"
	"time"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
)

const (
	// SummaryTestName names the aggregate outcome entry.
	SummaryTestName = "Test Summary"

	// IgnoredTestName names the entry counting ignored tests.
	IgnoredTestName = "Ignored Tests"
)

// TestExecutionResult is the engine's output for one successful run.
type TestExecutionResult struct {
	// Outcomes is the summary entry, then one entry per failure, then the
	// ignored entry when any tests were ignored.
	Outcomes []datatypes.TestOutcome

	// Report is the raw runner report.
	Report *TestReport

	// CompileDuration and RunDuration are wall-clock stage times.
	CompileDuration time.Duration
	RunDuration     time.Duration
}

// BuildOutcomes converts a runner report into outcome entries.
//
// Outputs:
//
//	[]datatypes.TestOutcome - Summary first; never empty.
func BuildOutcomes(report *TestReport) []datatypes.TestOutcome {
	if report == nil {
		report = &TestReport{}
	}

	summaryStatus := datatypes.StatusPassed
	if report.Failed > 0 {
		summaryStatus = datatypes.StatusFailed
	}

	outcomes := make([]datatypes.TestOutcome, 0, 2+len(report.Failures))
	outcomes = append(outcomes, datatypes.TestOutcome{
		TestName: SummaryTestName,
		Status:   summaryStatus,
		Assertions: []string{
			fmt.Sprintf("Total tests: %d", report.Run),
			fmt.Sprintf("Tests succeeded: %d", report.Succeeded()),
			fmt.Sprintf("Tests failed: %d", report.Failed),
			fmt.Sprintf("Tests ignored: %d", report.Ignored),
			fmt.Sprintf("Execution time: %dms", report.TimeMs),
		},
	})

	for _, f := range report.Failures {
		name := f.Header
		if name == "" {
			name = f.Test
		}
		outcomes = append(outcomes, datatypes.TestOutcome{
			TestName:     name,
			Status:       datatypes.StatusFailed,
			Assertions:   []string{"Test failed during execution"},
			ErrorMessage: datatypes.StringPtr(f.Message),
		})
	}

	if report.Ignored > 0 {
		outcomes = append(outcomes, datatypes.TestOutcome{
			TestName:   IgnoredTestName,
			Status:     datatypes.StatusSkipped,
			Assertions: []string{fmt.Sprintf("%d tests were ignored", report.Ignored)},
		})
	}

	return outcomes
}
