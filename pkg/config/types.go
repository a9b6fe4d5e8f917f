// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads TestForge configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables, then secrets files for API keys. The result is
// validated once and converted into the per-component config values that
// constructors take. Nothing reads configuration through a global.
package config

import (
	"time"
)

// Config is the top-level TestForge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Execution ExecutionConfig `yaml:"execution"`
	LLM       LLMConfig       `yaml:"llm"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	GinMode         string        `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
	MaxRequestBytes int           `yaml:"max_request_bytes" validate:"min=1"`
	MaxConcurrent   int           `yaml:"max_concurrent" validate:"min=1,max=256"`
	RateLimit       float64       `yaml:"rate_limit" validate:"gte=0"` // requests/s; 0 disables
	RateBurst       int           `yaml:"rate_burst" validate:"min=1"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// ExecutionConfig configures the pipeline deadline and the security policy.
type ExecutionConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"min=1,max=3600"`

	// MaxCodeLength overrides the policy limit when > 0.
	MaxCodeLength int `yaml:"max_code_length" validate:"gte=0"`

	// BlacklistedPatterns replaces the policy patterns when non-empty.
	BlacklistedPatterns []string `yaml:"blacklisted_patterns" validate:"dive,required"`

	// PolicyFile is a full policy document used instead of the embedded one.
	PolicyFile string `yaml:"policy_file"`
}

// LLMConfig configures the synthesis backend.
type LLMConfig struct {
	Backend               string  `yaml:"backend" validate:"oneof=yandex openai ollama"`
	Endpoint              string  `yaml:"endpoint" validate:"omitempty,url"`
	Model                 string  `yaml:"model"`
	FolderID              string  `yaml:"folder_id"`
	APIKey                string  `yaml:"api_key"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds" validate:"min=1,max=600"`
	Temperature           float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens             int     `yaml:"max_tokens" validate:"gte=0"`
}

// ToolchainConfig configures the compiler and the test JVM. Empty paths are
// discovered at startup.
type ToolchainConfig struct {
	KotlincPath     string   `yaml:"kotlinc_path"`
	JavaPath        string   `yaml:"java_path"`
	JUnitJar        string   `yaml:"junit_jar"`
	HamcrestJar     string   `yaml:"hamcrest_jar"`
	KotlinStdlibJar string   `yaml:"kotlin_stdlib_jar"`
	DepsDirs        []string `yaml:"deps_dirs" validate:"dive,required"`
	GradleCacheDir  string   `yaml:"gradle_cache_dir"`
	JVMTarget       string   `yaml:"jvm_target" validate:"required"`
	TempDir         string   `yaml:"temp_dir"`
	TestHeapMB      int      `yaml:"test_heap_mb" validate:"min=32,max=16384"`
	MaxOutputBytes  int      `yaml:"max_output_bytes" validate:"min=4096"`

	// CPUSeconds is RLIMIT_CPU for the test JVM. Zero uses the execution timeout.
	CPUSeconds   uint64 `yaml:"cpu_seconds"`
	MaxFileBytes uint64 `yaml:"max_file_bytes"`
}

// TelemetryConfig configures trace and metric export.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	Environment    string `yaml:"environment"`
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none otlp stdout"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none prometheus stdout"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			MaxRequestBytes: 1 << 20,
			MaxConcurrent:   4,
			RateLimit:       5,
			RateBurst:       10,
			ShutdownTimeout: 10 * time.Second,
		},
		Execution: ExecutionConfig{
			TimeoutSeconds: 30,
		},
		LLM: LLMConfig{
			Backend:               "yandex",
			Model:                 "yandexgpt-lite",
			RequestTimeoutSeconds: 60,
			Temperature:           0.3,
			MaxTokens:             2000,
		},
		Toolchain: ToolchainConfig{
			DepsDirs:       []string{"/app/deps"},
			JVMTarget:      "19",
			TestHeapMB:     256,
			MaxOutputBytes: 1 << 20,
			MaxFileBytes:   16 << 20,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "testforge",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
