// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/TestForge/services/executor/observability"
)

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var seen string
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/x", func(c *gin.Context) {
		seen = RequestID(c)
		c.Status(http.StatusNoContent)
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))

	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
}

func TestRequestIDMiddleware_KeepsValidClientID(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, id)
	w := serve(router, req)
	assert.Equal(t, id, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "not a uuid\r\ninjected")
	w = serve(router, req)
	assert.NotEqual(t, "not a uuid\r\ninjected", w.Header().Get(RequestIDHeader))
}

func TestAccessLogMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	router := gin.New()
	router.Use(RequestIDMiddleware(), AccessLogMiddleware(logger))
	router.GET("/health", HealthCheck)

	serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))

	out := buf.String()
	assert.Contains(t, out, `"msg":"HTTP request"`)
	assert.Contains(t, out, `"path":"/health"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, `"request_id"`)
}

func TestAdmission_RateLimited(t *testing.T) {
	metrics := observability.NewExecutionMetrics(prometheus.NewRegistry())
	limiter := rate.NewLimiter(rate.Every(1<<62), 1)

	router := gin.New()
	router.GET("/x", Admission(limiter, nil, metrics), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	first := serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))
	second := serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), `"error"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RejectedTotal.WithLabelValues(string(observability.RejectRateLimited))))
}

func TestAdmission_AtCapacity(t *testing.T) {
	metrics := observability.NewExecutionMetrics(prometheus.NewRegistry())
	sem := semaphore.NewWeighted(1)
	require.True(t, sem.TryAcquire(1))

	router := gin.New()
	router.GET("/x", Admission(nil, sem, metrics), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RejectedTotal.WithLabelValues(string(observability.RejectAtCapacity))))

	sem.Release(1)
	w = serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	// The slot is released once the handler returns.
	assert.True(t, sem.TryAcquire(1))
}

func TestAdmission_NilLimitsAndMetrics(t *testing.T) {
	router := gin.New()
	router.GET("/x", Admission(nil, nil, nil), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 5; i++ {
		w := serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}
