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
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/TestForge/services/executor/handlers"
	"github.com/AleutianAI/TestForge/services/executor/observability"
)

// Deps are the collaborators the routes need.
type Deps struct {
	// Executor runs submissions. Required.
	Executor handlers.Executor

	// MaxRequestBytes caps the execute request body.
	MaxRequestBytes int

	// Limiter caps request rate on /api/execute. Nil disables it.
	Limiter *rate.Limiter

	// Slots caps concurrent executions. Nil disables it.
	Slots *semaphore.Weighted

	// Metrics counts admission rejections. May be nil.
	Metrics *observability.ExecutionMetrics

	// MetricsHandler serves /metrics. Nil leaves the route unregistered.
	MetricsHandler http.Handler
}

// SetupRoutes registers every executor endpoint on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)

	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	api := router.Group("/api")
	{
		api.POST("/execute",
			handlers.Admission(deps.Limiter, deps.Slots, deps.Metrics),
			handlers.HandleExecute(deps.Executor, deps.MaxRequestBytes),
		)
	}
}
