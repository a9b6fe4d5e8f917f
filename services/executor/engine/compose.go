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

import "strings"

// UnitFileName is the file the composed unit is written to.
const UnitFileName = "CombinedTests.kt"

const unitHeader = "// Generated combined file\nimport org.junit.Test\nimport org.junit.Assert.*\n"

// Compose merges user source and generated tests into one compilation unit.
//
// Description:
//
//	Import and package lines are dropped from the tests; the unit imports
//	org.junit.Test and org.junit.Assert.* itself and lives in the default
//	package so the runner can load GeneratedTests by simple name. Imports in
//	the user source are left alone.
//
// Inputs:
//
//	source - User code.
//	testSource - Synthesized test code.
//
// Outputs:
//
//	string - The combined unit.
func Compose(source, testSource string) string {
	var b strings.Builder
	b.Grow(len(unitHeader) + len(source) + len(testSource) + 2)

	b.WriteString(unitHeader)
	b.WriteString("\n")
	b.WriteString(source)
	b.WriteString("\n\n")

	lines := strings.Split(testSource, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "package ") {
			continue
		}
		kept = append(kept, line)
	}
	b.WriteString(strings.Join(kept, "\n"))

	return b.String()
}
