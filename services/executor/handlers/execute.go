// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides HTTP request handlers for the executor service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
)

// =============================================================================
// Interfaces
// =============================================================================

// Executor runs one submission to completion.
//
// # Description
//
// Implemented by *pipeline.Supervisor. Execute never fails: every outcome,
// including timeouts, is a well-formed response.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, code string) datatypes.ExecutionResponse
}

// =============================================================================
// Handlers
// =============================================================================

// HandleExecute returns the POST /api/execute handler.
//
// # Description
//
// Binds an ExecutionRequest, runs it through exec and writes the response
// with status 200 whatever the pipeline outcome. Malformed or invalid
// bodies get 400 and oversized bodies 413, both as {"error": "..."}.
//
// # Inputs
//
//   - exec: The executor.
//   - maxRequestBytes: Body size cap. Zero uses datatypes.DefaultMaxRequestBytes.
func HandleExecute(exec Executor, maxRequestBytes int) gin.HandlerFunc {
	if maxRequestBytes <= 0 {
		maxRequestBytes = datatypes.DefaultMaxRequestBytes
	}

	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(maxRequestBytes))

		var req datatypes.ExecutionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			slog.Warn("Invalid execute request", "request_id", RequestID(c), "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if err := req.Validate(maxRequestBytes); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, datatypes.ErrRequestTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		resp := exec.Execute(c.Request.Context(), req.Code)

		span := trace.SpanFromContext(c.Request.Context())
		span.SetAttributes(
			attribute.Bool("execution.success", resp.Success),
			attribute.String("execution.error", resp.ErrorKindOrEmpty()),
		)

		slog.Info("Execution request completed",
			"request_id", RequestID(c),
			"code_length", len(req.Code),
			"success", resp.Success,
			"error", resp.ErrorKindOrEmpty(),
		)

		c.JSON(http.StatusOK, resp)
	}
}

// HealthCheck answers GET /health with a plain "OK".
func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}
