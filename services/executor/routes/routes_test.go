// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/TestForge/services/executor/datatypes"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, code string) datatypes.ExecutionResponse {
	return datatypes.NewSuccessResponse(code, "tests", nil)
}

func registered(router *gin.Engine) map[string]bool {
	out := make(map[string]bool)
	for _, r := range router.Routes() {
		out[r.Method+" "+r.Path] = true
	}
	return out
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_CoreRoutes(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{Executor: stubExecutor{}})

	routes := registered(router)
	assert.True(t, routes["GET /health"])
	assert.True(t, routes["POST /api/execute"])
	assert.False(t, routes["GET /metrics"], "metrics route needs a handler")
}

func TestSetupRoutes_MetricsRoute(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{
		Executor: stubExecutor{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestSetupRoutes_ExecuteIsAdmissionControlled(t *testing.T) {
	slots := semaphore.NewWeighted(1)
	slots.TryAcquire(1)

	router := gin.New()
	SetupRoutes(router, Deps{Executor: stubExecutor{}, Slots: slots})

	req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"code":"val x = 1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	slots.Release(1)
	req = httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"code":"val x = 1"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_UnknownRoute(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{Executor: stubExecutor{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
