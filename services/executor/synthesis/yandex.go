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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const yandexBackendName = "Yandex GPT"

// =============================================================================
// WIRE TYPES
// =============================================================================

type yandexRequest struct {
	ModelURI          string                  `json:"modelUri"`
	CompletionOptions yandexCompletionOptions `json:"completionOptions"`
	Messages          []yandexMessage         `json:"messages"`
}

type yandexCompletionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   string  `json:"maxTokens,omitempty"`
}

type yandexMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type yandexResponse struct {
	Result *struct {
		Alternatives []struct {
			Message *yandexMessage `json:"message"`
			Status  string         `json:"status"`
		} `json:"alternatives"`
		ModelVersion string `json:"modelVersion"`
	} `json:"result"`
}

// =============================================================================
// CLIENT
// =============================================================================

// yandexClient talks to the Foundation Models completion API.
//
// Thread Safety: Safe for concurrent use.
type yandexClient struct {
	httpClient  *http.Client
	endpoint    string
	modelURI    string
	folderID    string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger

	callCount atomic.Int64
	closeOnce sync.Once
}

func newYandexClient(cfg Config, logger *slog.Logger) (*yandexClient, error) {
	if cfg.FolderID == "" {
		return nil, ErrMissingFolderID
	}
	key := newSealedKey(cfg.APIKey)
	if !key.present() {
		return nil, fmt.Errorf("%w: set llm.api_key or YANDEX_API_KEY", ErrMissingAPIKey)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultYandexEndpoint
	}

	return &yandexClient{
		httpClient:  newAuthHTTPClient(key, "Authorization", "Api-Key "),
		endpoint:    endpoint,
		modelURI:    yandexModelURI(cfg.FolderID, cfg.Model),
		folderID:    cfg.FolderID,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.RequestTimeout,
		logger:      logger.With(slog.String("backend", BackendYandex)),
	}, nil
}

// yandexModelURI expands a bare model name into a gpt:// URI.
func yandexModelURI(folderID, model string) string {
	if model == "" {
		model = "yandexgpt-lite"
	}
	if strings.HasPrefix(model, "gpt://") {
		return model
	}
	return "gpt://" + folderID + "/" + model
}

// Synthesize implements Client.
func (c *yandexClient) Synthesize(ctx context.Context, source string) (string, error) {
	c.callCount.Add(1)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := yandexRequest{
		ModelURI: c.modelURI,
		CompletionOptions: yandexCompletionOptions{
			Temperature: c.temperature,
		},
		Messages: []yandexMessage{{Role: "user", Text: BuildPrompt(source)}},
	}
	if c.maxTokens > 0 {
		payload.CompletionOptions.MaxTokens = strconv.Itoa(c.maxTokens)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", classifyCallError(ctx, callCtx, yandexBackendName, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", classifyCallError(ctx, callCtx, yandexBackendName, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-folder-id", c.folderID)

	start := time.Now()
	c.logger.Info("Sending request to Yandex GPT for test generation",
		slog.String("model_uri", c.modelURI),
		slog.Int("source_length", len(source)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Yandex GPT request failed", slog.String("error", err.Error()))
		return "", classifyCallError(ctx, callCtx, yandexBackendName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyCallError(ctx, callCtx, yandexBackendName, fmt.Errorf("read response: %w", err))
	}

	c.logger.Info("Yandex GPT responded",
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Yandex GPT API error",
			slog.Int("status", resp.StatusCode),
			slog.Int("body_bytes", len(respBody)),
		)
		return "", statusError(yandexBackendName, resp.StatusCode, respBody)
	}

	text, err := extractYandexText(respBody)
	if err != nil {
		return "", err
	}
	return CleanGeneratedCode(text), nil
}

// extractYandexText reads result.alternatives[0].message.text.
func extractYandexText(body []byte) (string, error) {
	var parsed yandexResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", malformedError(yandexBackendName, "response is not valid JSON")
	}
	if parsed.Result == nil {
		return "", malformedError(yandexBackendName, "missing result")
	}
	if len(parsed.Result.Alternatives) == 0 {
		return "", malformedError(yandexBackendName, "no alternatives")
	}
	msg := parsed.Result.Alternatives[0].Message
	if msg == nil {
		return "", malformedError(yandexBackendName, "alternative has no message")
	}
	return msg.Text, nil
}

// Close implements Client.
func (c *yandexClient) Close() error {
	c.closeOnce.Do(func() {
		c.httpClient.CloseIdleConnections()
		c.logger.Debug("Synthesis client closed", slog.Int64("calls", c.callCount.Load()))
	})
	return nil
}

var _ Client = (*yandexClient)(nil)
