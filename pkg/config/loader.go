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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidEnv indicates an environment variable could not be parsed.
	ErrInvalidEnv = errors.New("invalid environment variable")
)

// DefaultSecretsDir is where container secrets are mounted.
const DefaultSecretsDir = "/run/secrets"

var configValidate = validator.New()

// Loader reads configuration from a file, the environment and secrets files.
type Loader struct {
	// Getenv looks up environment variables. Nil uses os.Getenv.
	Getenv func(string) string

	// SecretsDir holds key files named yandex_api_key and openai_api_key.
	// Empty uses DefaultSecretsDir.
	SecretsDir string
}

// Load loads configuration with the default Loader.
func Load(path string) (*Config, error) {
	return Loader{}.Load(path)
}

// Load builds a validated Config.
//
// # Description
//
// Starts from Default, overlays the YAML file at path (skipped when path is
// empty), applies environment overrides, fills a missing API key from the
// secrets directory and validates the result.
//
// # Outputs
//
//   - *Config: The effective configuration.
//   - error: File, parse, environment or validation failure.
func (l Loader) Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	l.applySecrets(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l Loader) getenv(key string) string {
	if l.Getenv != nil {
		return strings.TrimSpace(l.Getenv(key))
	}
	return strings.TrimSpace(os.Getenv(key))
}

func (l Loader) applyEnv(cfg *Config) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"TESTFORGE_PORT", &cfg.Server.Port},
		{"TESTFORGE_TIMEOUT_SECONDS", &cfg.Execution.TimeoutSeconds},
		{"TESTFORGE_MAX_CODE_LENGTH", &cfg.Execution.MaxCodeLength},
		{"TESTFORGE_MAX_CONCURRENT", &cfg.Server.MaxConcurrent},
	}
	for _, e := range ints {
		v := l.getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnv, e.key, v, err)
		}
		*e.dst = n
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"LLM_BACKEND_TYPE", &cfg.LLM.Backend},
		{"LLM_ENDPOINT", &cfg.LLM.Endpoint},
		{"LLM_MODEL", &cfg.LLM.Model},
		{"YANDEX_FOLDER_ID", &cfg.LLM.FolderID},
		{"KOTLINC_PATH", &cfg.Toolchain.KotlincPath},
		{"JAVA_PATH", &cfg.Toolchain.JavaPath},
		{"OTEL_TRACES_EXPORTER", &cfg.Telemetry.TraceExporter},
		{"OTEL_METRICS_EXPORTER", &cfg.Telemetry.MetricExporter},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint},
		{"TESTFORGE_LOG_LEVEL", &cfg.Logging.Level},
	}
	for _, e := range strs {
		if v := l.getenv(e.key); v != "" {
			*e.dst = v
		}
	}
	cfg.LLM.Backend = strings.ToLower(cfg.LLM.Backend)

	if dir := l.getenv("TESTFORGE_DEPS_DIR"); dir != "" {
		cfg.Toolchain.DepsDirs = filepath.SplitList(dir)
	}

	// Endpoint collectors often hand out http://host:4317; gRPC wants host:port.
	cfg.Telemetry.OTLPEndpoint = strings.TrimPrefix(strings.TrimPrefix(cfg.Telemetry.OTLPEndpoint, "http://"), "https://")

	switch cfg.LLM.Backend {
	case "yandex":
		if v := l.getenv("YANDEX_API_KEY"); v != "" {
			cfg.LLM.APIKey = v
		}
	case "openai":
		if v := l.getenv("OPENAI_API_KEY"); v != "" {
			cfg.LLM.APIKey = v
		}
	case "ollama":
		if v := l.getenv("OLLAMA_URL"); v != "" && l.getenv("LLM_ENDPOINT") == "" {
			cfg.LLM.Endpoint = v
		}
	}
	return nil
}

// applySecrets reads the backend's key file when no key is configured.
func (l Loader) applySecrets(cfg *Config) {
	if cfg.LLM.APIKey != "" {
		return
	}
	var name string
	switch cfg.LLM.Backend {
	case "yandex":
		name = "yandex_api_key"
	case "openai":
		name = "openai_api_key"
	default:
		return
	}
	dir := l.SecretsDir
	if dir == "" {
		dir = DefaultSecretsDir
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return
	}
	cfg.LLM.APIKey = strings.TrimSpace(string(data))
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Telemetry.TraceExporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("%w: telemetry.otlp_endpoint is required with the otlp trace exporter", ErrInvalidConfig)
	}
	if c.Toolchain.CPUSeconds > 0 && c.Toolchain.CPUSeconds < uint64(c.Execution.TimeoutSeconds) {
		return fmt.Errorf("%w: toolchain.cpu_seconds (%d) is below execution.timeout_seconds (%d)",
			ErrInvalidConfig, c.Toolchain.CPUSeconds, c.Execution.TimeoutSeconds)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
