// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package engine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyLimits sets rlimits on a running child. Threads the JVM spawns later
// inherit them.
func applyLimits(pid int, limits ResourceLimits) error {
	if limits.CPUSeconds > 0 {
		rl := unix.Rlimit{Cur: limits.CPUSeconds, Max: limits.CPUSeconds}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &rl, nil); err != nil {
			return fmt.Errorf("set RLIMIT_CPU: %w", err)
		}
	}
	if limits.MaxFileBytes > 0 {
		rl := unix.Rlimit{Cur: limits.MaxFileBytes, Max: limits.MaxFileBytes}
		if err := unix.Prlimit(pid, unix.RLIMIT_FSIZE, &rl, nil); err != nil {
			return fmt.Errorf("set RLIMIT_FSIZE: %w", err)
		}
	}
	return nil
}
