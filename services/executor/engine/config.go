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
	"path/filepath"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration for the build-and-run engine.
type Config struct {
	// KotlincPath is the compiler executable. Empty looks up "kotlinc" on PATH.
	KotlincPath string

	// JavaPath is the JVM launcher. Empty looks up "java" on PATH.
	JavaPath string

	// JUnitJar, HamcrestJar and KotlinStdlibJar pin artifact locations.
	// Empty values are discovered (see ResolveToolchain).
	JUnitJar        string
	HamcrestJar     string
	KotlinStdlibJar string

	// DepsDirs are searched for jars before the Gradle cache.
	// Default: ["/app/deps"]
	DepsDirs []string

	// GradleCacheDir is the Gradle module cache root.
	// Default: ~/.gradle/caches/modules-2/files-2.1
	GradleCacheDir string

	// JVMTarget is passed to kotlinc -jvm-target.
	// Default: "19"
	JVMTarget string

	// TempDir is where per-run work directories are created.
	// Default: os.TempDir()
	TempDir string

	// MaxOutputBytes caps captured stdout and stderr per process.
	// Default: 1 MiB
	MaxOutputBytes int

	// TestHeapMB is the -Xmx given to the test JVM.
	// Default: 256
	TestHeapMB int

	// CPUSeconds is RLIMIT_CPU for the test JVM. Zero disables the limit.
	// Default: 30
	CPUSeconds uint64

	// MaxFileBytes is RLIMIT_FSIZE for the test JVM. Zero disables the limit.
	// Default: 16 MiB
	MaxFileBytes uint64
}

// DefaultConfig returns a Config with sensible defaults.
//
// Outputs:
//
//	*Config - Configuration with default values
func DefaultConfig() *Config {
	return &Config{
		DepsDirs:       []string{"/app/deps"},
		GradleCacheDir: defaultGradleCacheDir(),
		JVMTarget:      "19",
		TempDir:        os.TempDir(),
		MaxOutputBytes: 1 << 20,
		TestHeapMB:     256,
		CPUSeconds:     30,
		MaxFileBytes:   16 << 20,
	}
}

func defaultGradleCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gradle", "caches", "modules-2", "files-2.1")
}

// applyDefaults fills empty fields and clamps out-of-range values.
func (c *Config) applyDefaults() {
	if c.JVMTarget == "" {
		c.JVMTarget = "19"
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.MaxOutputBytes < 4096 {
		c.MaxOutputBytes = 4096
	}
	if c.TestHeapMB < 32 {
		c.TestHeapMB = 32
	}
}

// =============================================================================
// CONFIGURATION OPTIONS
// =============================================================================

// Option is a function that modifies Config.
type Option func(*Config)

// WithKotlinc sets the compiler executable.
func WithKotlinc(path string) Option {
	return func(c *Config) {
		c.KotlincPath = path
	}
}

// WithJava sets the JVM launcher.
func WithJava(path string) Option {
	return func(c *Config) {
		c.JavaPath = path
	}
}

// WithJars pins the junit, hamcrest and kotlin-stdlib jars. Empty values
// leave discovery on for that jar.
func WithJars(junit, hamcrest, stdlib string) Option {
	return func(c *Config) {
		c.JUnitJar = junit
		c.HamcrestJar = hamcrest
		c.KotlinStdlibJar = stdlib
	}
}

// WithDepsDirs replaces the jar search directories.
func WithDepsDirs(dirs ...string) Option {
	return func(c *Config) {
		c.DepsDirs = append([]string(nil), dirs...)
	}
}

// WithGradleCacheDir sets the Gradle module cache root.
func WithGradleCacheDir(dir string) Option {
	return func(c *Config) {
		c.GradleCacheDir = dir
	}
}

// WithJVMTarget sets the kotlinc -jvm-target value.
func WithJVMTarget(target string) Option {
	return func(c *Config) {
		c.JVMTarget = target
	}
}

// WithTempDir sets the parent of per-run work directories.
func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

// WithMaxOutputBytes sets the per-process output capture cap.
func WithMaxOutputBytes(n int) Option {
	return func(c *Config) {
		c.MaxOutputBytes = n
	}
}

// WithTestHeapMB sets the test JVM heap.
func WithTestHeapMB(mb int) Option {
	return func(c *Config) {
		c.TestHeapMB = mb
	}
}

// WithResourceLimits sets RLIMIT_CPU and RLIMIT_FSIZE for the test JVM.
func WithResourceLimits(cpuSeconds, maxFileBytes uint64) Option {
	return func(c *Config) {
		c.CPUSeconds = cpuSeconds
		c.MaxFileBytes = maxFileBytes
	}
}

// NewConfig creates a Config with the given options applied.
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.applyDefaults()
	return cfg
}
