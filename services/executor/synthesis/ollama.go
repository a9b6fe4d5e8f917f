// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const ollamaBackendName = "Ollama"

// ollamaClient generates tests with a model served by a local Ollama.
type ollamaClient struct {
	llm         llms.Model
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

func newOllamaClient(cfg Config, logger *slog.Logger) (*ollamaClient, error) {
	serverURL := cfg.Endpoint
	if serverURL == "" {
		serverURL = DefaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = "qwen2.5-coder:7b"
		logger.Warn("LLM model not set, defaulting", slog.String("model", model))
	}

	llm, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}

	return &ollamaClient{
		llm:         llm,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.RequestTimeout,
		logger:      logger.With(slog.String("backend", BackendOllama)),
	}, nil
}

// Synthesize implements Client.
func (c *ollamaClient) Synthesize(ctx context.Context, source string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}

	c.logger.Info("Sending request to Ollama for test generation",
		slog.String("model", c.model),
		slog.Int("source_length", len(source)),
	)

	text, err := llms.GenerateFromSinglePrompt(callCtx, c.llm, BuildPrompt(source), opts...)
	if err != nil {
		c.logger.Error("Ollama generation failed", slog.String("error", err.Error()))
		return "", classifyCallError(ctx, callCtx, ollamaBackendName, err)
	}
	return CleanGeneratedCode(text), nil
}

// Close implements Client. The langchaingo client holds no pooled resources
// of its own.
func (c *ollamaClient) Close() error {
	return nil
}

var _ Client = (*ollamaClient)(nil)
