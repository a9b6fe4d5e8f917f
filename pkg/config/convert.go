// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/TestForge/pkg/logging"
	"github.com/AleutianAI/TestForge/services/executor"
	"github.com/AleutianAI/TestForge/services/executor/engine"
	"github.com/AleutianAI/TestForge/services/executor/pipeline"
	"github.com/AleutianAI/TestForge/services/executor/security"
	"github.com/AleutianAI/TestForge/services/executor/synthesis"
	"github.com/AleutianAI/TestForge/services/executor/telemetry"
)

// SecurityPolicy returns the effective security policy: the embedded
// default or execution.policy_file, with the execution overrides applied.
func (c *Config) SecurityPolicy() (security.Policy, error) {
	base := security.DefaultPolicy()
	if c.Execution.PolicyFile != "" {
		data, err := os.ReadFile(expandHome(c.Execution.PolicyFile))
		if err != nil {
			return security.Policy{}, fmt.Errorf("failed to read the policy file: %w", err)
		}
		base, err = security.ParsePolicy(data)
		if err != nil {
			return security.Policy{}, err
		}
	}
	return base.WithOverrides(c.Execution.MaxCodeLength, c.Execution.BlacklistedPatterns), nil
}

// SynthesisConfig returns the synthesis client configuration.
func (c *Config) SynthesisConfig() synthesis.Config {
	return synthesis.Config{
		Backend:        c.LLM.Backend,
		Endpoint:       c.LLM.Endpoint,
		Model:          c.LLM.Model,
		FolderID:       c.LLM.FolderID,
		APIKey:         c.LLM.APIKey,
		RequestTimeout: time.Duration(c.LLM.RequestTimeoutSeconds) * time.Second,
		Temperature:    c.LLM.Temperature,
		MaxTokens:      c.LLM.MaxTokens,
	}
}

// EngineConfig returns the build-and-run engine configuration. Empty
// toolchain fields keep the engine defaults.
func (c *Config) EngineConfig() *engine.Config {
	t := c.Toolchain
	cpu := t.CPUSeconds
	if cpu == 0 {
		cpu = uint64(c.Execution.TimeoutSeconds)
	}

	opts := []engine.Option{
		engine.WithKotlinc(t.KotlincPath),
		engine.WithJava(t.JavaPath),
		engine.WithJars(t.JUnitJar, t.HamcrestJar, t.KotlinStdlibJar),
		engine.WithJVMTarget(t.JVMTarget),
		engine.WithTestHeapMB(t.TestHeapMB),
		engine.WithMaxOutputBytes(t.MaxOutputBytes),
		engine.WithResourceLimits(cpu, t.MaxFileBytes),
	}
	if len(t.DepsDirs) > 0 {
		opts = append(opts, engine.WithDepsDirs(t.DepsDirs...))
	}
	if t.GradleCacheDir != "" {
		opts = append(opts, engine.WithGradleCacheDir(t.GradleCacheDir))
	}
	if t.TempDir != "" {
		opts = append(opts, engine.WithTempDir(t.TempDir))
	}
	return engine.NewConfig(opts...)
}

// PipelineConfig returns the supervisor configuration.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{Timeout: time.Duration(c.Execution.TimeoutSeconds) * time.Second}
}

// TelemetryConfig returns the telemetry configuration for a build version.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    c.Telemetry.Environment,
		TraceExporter:  c.Telemetry.TraceExporter,
		MetricExporter: c.Telemetry.MetricExporter,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
	}
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: c.Telemetry.ServiceName,
		JSON:    c.Logging.JSON,
		Quiet:   c.Logging.Quiet,
	}
}

// ServiceConfig assembles the executor service configuration.
func (c *Config) ServiceConfig() (executor.Config, error) {
	policy, err := c.SecurityPolicy()
	if err != nil {
		return executor.Config{}, err
	}

	rateLimit := c.Server.RateLimit
	if rateLimit == 0 {
		rateLimit = -1
	}

	return executor.Config{
		Port:            c.Server.Port,
		GinMode:         c.Server.GinMode,
		ServiceName:     c.Telemetry.ServiceName,
		MaxRequestBytes: c.Server.MaxRequestBytes,
		MaxConcurrent:   c.Server.MaxConcurrent,
		RateLimit:       rateLimit,
		RateBurst:       c.Server.RateBurst,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		Policy:          policy,
		Synthesis:       c.SynthesisConfig(),
		Engine:          c.EngineConfig(),
		Pipeline:        c.PipelineConfig(),
	}, nil
}
