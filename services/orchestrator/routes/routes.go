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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/queryline/queryline/services/orchestrator/dispatch"
	"github.com/queryline/queryline/services/orchestrator/handlers"
	"github.com/queryline/queryline/services/orchestrator/observability"
	"github.com/queryline/queryline/services/orchestrator/stream"
)

// SetupRoutes registers the orchestrator's HTTP surface. Middleware in
// apiMiddleware guards the /v1 group only; health and metrics stay open
// for probes and scrapers.
func SetupRoutes(router *gin.Engine, dispatcher *dispatch.Dispatcher, bridge *stream.Bridge,
	metrics *observability.StreamingMetrics, apiMiddleware ...gin.HandlerFunc) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1", apiMiddleware...)
	{
		v1.POST("/chat/completion", handlers.HandleChatCompletion(dispatcher, metrics))
		v1.POST("/chat/stream", handlers.HandleChatStream(bridge, metrics))
	}
}
