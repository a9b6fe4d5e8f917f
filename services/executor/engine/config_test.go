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
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig_ClampsOutOfRangeValues(t *testing.T) {
	cfg := NewConfig(
		WithJVMTarget(""),
		WithTempDir(""),
		WithMaxOutputBytes(10),
		WithTestHeapMB(1),
	)

	assert.Equal(t, "19", cfg.JVMTarget)
	assert.Equal(t, os.TempDir(), cfg.TempDir)
	assert.Equal(t, 4096, cfg.MaxOutputBytes)
	assert.Equal(t, 32, cfg.TestHeapMB)
}

func TestNewConfig_KeepsValidValues(t *testing.T) {
	cfg := NewConfig(
		WithJVMTarget("17"),
		WithMaxOutputBytes(1<<20),
		WithTestHeapMB(512),
	)

	assert.Equal(t, "17", cfg.JVMTarget)
	assert.Equal(t, 1<<20, cfg.MaxOutputBytes)
	assert.Equal(t, 512, cfg.TestHeapMB)
}
