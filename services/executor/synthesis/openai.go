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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/sashabaranov/go-openai"
)

const openAIBackendName = "OpenAI"

// openAIClient uses an OpenAI-compatible chat completion endpoint.
//
// The go-openai client is built without a token; the key is added per
// request by authTransport so it never sits in plaintext in the client
// config.
type openAIClient struct {
	client      *openai.Client
	httpClient  *http.Client
	model       string
	temperature float32
	maxTokens   int
	cfg         Config
	logger      *slog.Logger
	closeOnce   sync.Once
}

func newOpenAIClient(cfg Config, logger *slog.Logger) (*openAIClient, error) {
	key := newSealedKey(cfg.APIKey)
	if !key.present() {
		return nil, fmt.Errorf("%w: set llm.api_key or OPENAI_API_KEY", ErrMissingAPIKey)
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
		logger.Warn("LLM model not set, defaulting", slog.String("model", model))
	}

	httpClient := newAuthHTTPClient(key, "Authorization", "Bearer ")
	oaCfg := openai.DefaultConfig("")
	if cfg.Endpoint != "" {
		oaCfg.BaseURL = cfg.Endpoint
	}
	oaCfg.HTTPClient = httpClient

	return &openAIClient{
		client:      openai.NewClientWithConfig(oaCfg),
		httpClient:  httpClient,
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		cfg:         cfg,
		logger:      logger.With(slog.String("backend", BackendOpenAI)),
	}, nil
}

// Synthesize implements Client.
func (c *openAIClient) Synthesize(ctx context.Context, source string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(source)},
		},
		Temperature: c.temperature,
	}
	if c.maxTokens > 0 {
		req.MaxCompletionTokens = c.maxTokens
	}

	c.logger.Info("Sending request to OpenAI for test generation",
		slog.String("model", c.model),
		slog.Int("source_length", len(source)),
	)

	resp, err := c.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			c.logger.Error("OpenAI API error", slog.Int("status", apiErr.HTTPStatusCode))
			return "", statusError(openAIBackendName, apiErr.HTTPStatusCode, []byte(apiErr.Message))
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
			c.logger.Error("OpenAI request error", slog.Int("status", reqErr.HTTPStatusCode))
			return "", statusError(openAIBackendName, reqErr.HTTPStatusCode, []byte(reqErr.Error()))
		}
		c.logger.Error("OpenAI API call failed", slog.String("error", err.Error()))
		return "", classifyCallError(ctx, callCtx, openAIBackendName, err)
	}

	if len(resp.Choices) == 0 {
		return "", malformedError(openAIBackendName, "no choices")
	}
	c.logger.Debug("Received response from OpenAI",
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return CleanGeneratedCode(resp.Choices[0].Message.Content), nil
}

// Close implements Client.
func (c *openAIClient) Close() error {
	c.closeOnce.Do(c.httpClient.CloseIdleConnections)
	return nil
}

var _ Client = (*openAIClient)(nil)
