// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/TestForge/pkg/config"
	"github.com/AleutianAI/TestForge/services/executor/datatypes"
)

type fakeExecutor struct {
	mu      sync.Mutex
	codes   []string
	closed  int
	respond func(ctx context.Context, code string) datatypes.ExecutionResponse
}

func (f *fakeExecutor) Execute(ctx context.Context, code string) datatypes.ExecutionResponse {
	f.mu.Lock()
	f.codes = append(f.codes, code)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(ctx, code)
	}
	return datatypes.NewSuccessResponse(code, "class GeneratedTests", []datatypes.TestOutcome{
		{TestName: "Test Summary", Status: datatypes.StatusPassed, Assertions: []string{"Total tests: 1"}},
	})
}

func (f *fakeExecutor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeExecutor) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.codes...)
}

type harness struct {
	app    *app
	exec   *fakeExecutor
	stdin  *bytes.Buffer
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	config string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "testforge.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("execution:\n  timeout_seconds: 12\n  max_code_length: 500\n"), 0o644))

	h := &harness{
		exec:   &fakeExecutor{},
		stdin:  &bytes.Buffer{},
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		config: cfgPath,
	}
	h.app = &app{
		stdin:  h.stdin,
		stdout: h.stdout,
		stderr: h.stderr,
		newExecutor: func(cfg *config.Config, _ *slog.Logger) (codeExecutor, error) {
			return h.exec, nil
		},
	}
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })
	return h
}

func (h *harness) execute(args ...string) error {
	root := newRootCmd(h.app)
	root.SetArgs(append([]string{"--config", h.config}, args...))
	defer h.app.close()
	return root.Execute()
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.execute("version"))
	assert.True(t, strings.HasPrefix(h.stdout.String(), "testforge "+version))
}

func TestPolicyCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.execute("policy"))

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(h.stdout.Bytes(), &doc))
	assert.Contains(t, h.stdout.String(), "500", "config override is reflected")
	assert.Contains(t, h.stdout.String(), "Runtime.getRuntime")
}

func TestSetup_InvalidLogLevel(t *testing.T) {
	h := newHarness(t)
	err := h.execute("--log-level", "loud", "version")
	require.Error(t, err)
	assert.Empty(t, h.stdout.String())
}

func TestSetup_MissingConfigFile(t *testing.T) {
	h := newHarness(t)
	h.config = filepath.Join(t.TempDir(), "missing.yaml")
	require.Error(t, h.execute("version"))
}

func TestSetup_AppliesFlags(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.execute("--log-level", "debug", "--json-logs", "version"))
	require.NotNil(t, h.app.cfg)
	assert.Equal(t, "debug", h.app.cfg.Logging.Level)
	assert.True(t, h.app.cfg.Logging.JSON)
	assert.Equal(t, 12, h.app.cfg.Execution.TimeoutSeconds)
}

func TestRunCommand_FromFile(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(t.TempDir(), "add.kt")
	require.NoError(t, os.WriteFile(src, []byte("fun add(a: Int, b: Int) = a + b"), 0o644))

	require.NoError(t, h.execute("run", "--json", src))

	assert.Equal(t, []string{"fun add(a: Int, b: Int) = a + b"}, h.exec.seen())
	assert.Equal(t, 1, h.exec.closed)

	var resp datatypes.ExecutionResponse
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestRunCommand_FromStdin(t *testing.T) {
	h := newHarness(t)
	h.stdin.WriteString("fun one() = 1")

	require.NoError(t, h.execute("run", "-"))
	assert.Equal(t, []string{"fun one() = 1"}, h.exec.seen())
	assert.Contains(t, h.stdout.String(), `"success": true`, "non-terminal output falls back to JSON")
}

func TestRunCommand_FailureExitsNonZero(t *testing.T) {
	h := newHarness(t)
	h.exec.respond = func(context.Context, string) datatypes.ExecutionResponse {
		return datatypes.NewFailureResponse(datatypes.ErrCompilationError, "error: unresolved reference")
	}
	h.stdin.WriteString("fun broken() = foo")

	err := h.execute("run", "-")
	assert.True(t, errors.Is(err, errPipelineFailed))
	assert.Contains(t, h.stdout.String(), "COMPILATION_ERROR")
}

func TestRunCommand_MissingFile(t *testing.T) {
	h := newHarness(t)
	err := h.execute("run", filepath.Join(t.TempDir(), "nope.kt"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, errPipelineFailed))
	assert.Empty(t, h.exec.seen())
}

func TestRunCommand_ExecutorBuildError(t *testing.T) {
	h := newHarness(t)
	h.app.newExecutor = func(*config.Config, *slog.Logger) (codeExecutor, error) {
		return nil, errors.New("kotlinc not found")
	}
	h.stdin.WriteString("fun one() = 1")
	require.EqualError(t, h.execute("run", "-"), "kotlinc not found")
}

func TestRunCommand_RequiresArgument(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.execute("run"))
}
