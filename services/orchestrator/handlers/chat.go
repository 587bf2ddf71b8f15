// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers wires the dispatcher and stream bridge to HTTP.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/queryline/queryline/services/engines"
	"github.com/queryline/queryline/services/llm"
	"github.com/queryline/queryline/services/orchestrator/datatypes"
	"github.com/queryline/queryline/services/orchestrator/dispatch"
	"github.com/queryline/queryline/services/orchestrator/observability"
)

var tracer = otel.Tracer("queryline/orchestrator/handlers")

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// bindChatRequest decodes and validates the shared request shape,
// answering 400 itself on failure.
func bindChatRequest(c *gin.Context) (*datatypes.ChatRequest, bool) {
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return nil, false
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return nil, false
	}
	req.EnsureDefaults()
	return &req, true
}

// HandleChatCompletion answers a turn synchronously. Provider failures
// surface as 502 with a user-safe message; everything recoverable is
// already folded into the reply by the dispatcher.
func HandleChatCompletion(dispatcher *dispatch.Dispatcher, metrics *observability.StreamingMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindChatRequest(c)
		if !ok {
			metrics.RecordRequest(observability.EndpointCompletion, false)
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "chat.completion")
		defer span.End()
		span.SetAttributes(attribute.String("request.id", req.RequestID))

		resp, err := dispatcher.Completion(ctx, req)
		if err != nil {
			metrics.RecordRequest(observability.EndpointCompletion, false)
			slog.Error("Completion failed", "request_id", req.RequestID, "error", err)
			if errors.Is(err, llm.ErrBackendUnavailable) || errors.Is(err, engines.ErrEngineUnavailable) {
				c.JSON(http.StatusBadGateway, gin.H{"error": "answer engine unavailable"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		if provider, ok := resp.Metadata["provider"].(string); ok {
			metrics.RecordStrategy(provider)
		}
		metrics.RecordRequest(observability.EndpointCompletion, true)
		c.JSON(http.StatusOK, resp)
	}
}
