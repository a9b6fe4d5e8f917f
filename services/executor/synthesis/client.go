// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synthesis asks a generative model to write JUnit 4 tests for a
// Kotlin snippet.
//
// Three backends are available behind the Client interface:
//
//   - yandex: Yandex Foundation Models completion API over raw HTTP
//   - openai: any OpenAI-compatible chat completion endpoint
//   - ollama: a local Ollama server
//
// Clients never retry. A blank answer is returned as-is; deciding that no
// tests were generated is the caller's job.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	BackendYandex = "yandex"
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

const (
	// DefaultYandexEndpoint is the Foundation Models synchronous completion URL.
	DefaultYandexEndpoint = "https://llm.api.cloud.yandex.net/foundationModels/v1/completion"

	// DefaultOllamaURL is the address of a local Ollama server.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultRequestTimeout bounds one model call.
	DefaultRequestTimeout = 60 * time.Second

	// maxErrorBodyBytes caps how much of an upstream error body is reported.
	maxErrorBodyBytes = 4096
)

// =============================================================================
// INTERFACE
// =============================================================================

// Client synthesizes test code for a source snippet.
//
// Thread Safety: Implementations are safe for concurrent use.
type Client interface {
	// Synthesize returns the cleaned test source generated for source.
	//
	// Errors are *datatypes.StageError with kind LLM_API_ERROR or
	// LLM_API_TIMEOUT. A blank string with a nil error means the model
	// answered but produced nothing usable.
	Synthesize(ctx context.Context, source string) (string, error)

	// Close releases transport resources. Safe to call more than once.
	Close() error
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config configures a synthesis client.
type Config struct {
	// Backend selects the implementation: yandex, openai or ollama.
	// Default: yandex
	Backend string

	// Endpoint overrides the backend URL. For openai this is the base URL
	// (e.g. https://api.openai.com/v1).
	Endpoint string

	// Model is the model identifier. For yandex it may be a full
	// gpt:// URI or a bare model name.
	Model string

	// FolderID is the Yandex Cloud folder. Required for yandex.
	FolderID string

	// APIKey is the backend credential. Not needed for ollama.
	APIKey string

	// RequestTimeout bounds one model call.
	// Default: 60s
	RequestTimeout time.Duration

	// Temperature is the sampling temperature.
	Temperature float64

	// MaxTokens caps the generated length. Zero leaves the backend default.
	MaxTokens int
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendYandex
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// NewClient builds the client selected by cfg.Backend.
//
// # Outputs
//
//   - Client: Ready to use. Call Close when done.
//   - error: ErrUnknownBackend, ErrMissingAPIKey or a backend setup error.
func NewClient(cfg Config, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	switch strings.ToLower(cfg.Backend) {
	case BackendYandex:
		logger.Info("Using Yandex GPT synthesis backend")
		return newYandexClient(cfg, logger)
	case BackendOpenAI:
		logger.Info("Using OpenAI synthesis backend")
		return newOpenAIClient(cfg, logger)
	case BackendOllama:
		logger.Info("Using Ollama synthesis backend")
		return newOllamaClient(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// =============================================================================
// PROMPT AND CLEANUP
// =============================================================================

// BuildPrompt returns the instruction sent to the model for source.
func BuildPrompt(source string) string {
	var sb strings.Builder
	sb.WriteString("You are a senior Kotlin developer. Generate a JUnit 4 test class for the following code. ")
	sb.WriteString("Return ONLY the Kotlin code without any markdown formatting, explanations, or additional text. ")
	sb.WriteString("The test class must be named '")
	sb.WriteString(datatypes.GeneratedTestClass)
	sb.WriteString("' and use JUnit 4 annotations (@Test from org.junit.Test, not Jupiter). ")
	sb.WriteString("Use org.junit.Assert for assertions (assertEquals, assertTrue, etc.). ")
	sb.WriteString("The code under test will be in the same file, so call functions directly (for example add(1, 2)). ")
	sb.WriteString("Use Kotlin syntax (fun instead of public static, etc.). Here is the code to test: ")
	sb.WriteString(source)
	return sb.String()
}

// CleanGeneratedCode strips a surrounding markdown code fence.
//
// # Description
//
// Removes one leading fence together with its language tag (the rest of the
// opening line) and one trailing fence, then trims whitespace. Text without
// fences is only trimmed.
func CleanGeneratedCode(text string) string {
	cleaned := strings.TrimSpace(text)

	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		if nl := strings.IndexByte(cleaned, '\n'); nl >= 0 {
			tag := strings.TrimSpace(cleaned[:nl])
			if tag == "" || isLanguageTag(tag) {
				cleaned = cleaned[nl+1:]
			}
		} else if isLanguageTag(cleaned) {
			cleaned = ""
		}
	}

	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}

// isLanguageTag reports whether s looks like a fence info string.
func isLanguageTag(s string) bool {
	if s == "" || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '+' || r == '_') {
			return false
		}
	}
	return true
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// classifyCallError maps a failed model call to a stage error.
//
// A cancelled parent means the run itself ended, which is
// EXECUTION_TIMEOUT rather than a model timeout. Otherwise the call context
// is inspected: a per-call deadline that expired is a timeout no matter how
// the transport reported it.
func classifyCallError(parent, callCtx context.Context, backend string, err error) error {
	if parent.Err() != nil {
		return datatypes.NewStageError(datatypes.ErrExecutionTimeout,
			fmt.Sprintf("Execution ended while waiting for %s response", backend), err)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return datatypes.NewStageError(datatypes.ErrLLMAPITimeout,
			fmt.Sprintf("Timed out waiting for %s response", backend), err)
	}
	return datatypes.NewStageError(datatypes.ErrLLMAPIError,
		fmt.Sprintf("%s request failed: %v", backend, err), err)
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// statusError builds the error for a non-success upstream status.
func statusError(backend string, status int, body []byte) error {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return datatypes.NewStageError(datatypes.ErrLLMAPIError,
		fmt.Sprintf("%s API error: status %d - %s", backend, status, strings.TrimSpace(string(body))),
		fmt.Errorf("%w: %d", ErrUpstreamStatus, status))
}

// malformedError builds the error for a response without generated text.
func malformedError(backend, reason string) error {
	return datatypes.NewStageError(datatypes.ErrLLMAPIError,
		fmt.Sprintf("No valid test code generated from %s: %s", backend, reason),
		ErrMalformedResponse)
}
