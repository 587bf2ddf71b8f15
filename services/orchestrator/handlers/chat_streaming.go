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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/queryline/queryline/services/orchestrator/datatypes"
	"github.com/queryline/queryline/services/orchestrator/observability"
	"github.com/queryline/queryline/services/orchestrator/stream"
)

// keepAliveInterval is how often an SSE comment is sent while the worker
// is between events. 15s stays under common proxy idle timeouts (60s).
const keepAliveInterval = 15 * time.Second

// HandleChatStream answers a turn over SSE.
//
// # Description
//
// The turn runs on a bridge worker; this handler drains the ordered
// event channel and writes one SSE frame per event. The first frame is
// always meta and the last is always done or error; the bridge owns
// that contract, the handler only relays. Client disconnects stop the
// relay, cancel the worker's context, and are recorded; the response
// simply ends, as SSE has no other way to signal abandonment.
func HandleChatStream(bridge *stream.Bridge, metrics *observability.StreamingMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindChatRequest(c)
		if !ok {
			metrics.RecordRequest(observability.EndpointStream, false)
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "chat.stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.id", req.RequestID))

		SetSSEHeaders(c.Writer)
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			metrics.RecordRequest(observability.EndpointStream, false)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
			return
		}

		metrics.StreamStarted()
		defer metrics.StreamEnded()
		start := time.Now()

		events := bridge.Stream(ctx, req)
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		success := false
	relay:
		for {
			select {
			case ev, open := <-events:
				if !open {
					break relay
				}
				if err := writer.WriteEvent(ev); err != nil {
					slog.Info("Client write failed, abandoning stream",
						"request_id", req.RequestID, "error", err)
					metrics.RecordClientDisconnect()
					break relay
				}
				metrics.RecordEvent(string(ev.Kind))
				switch ev.Kind {
				case datatypes.EventMeta:
					if meta, ok := ev.Payload.(datatypes.MetaPayload); ok && meta.Provider != "" {
						metrics.RecordStrategy(meta.Provider)
						span.SetAttributes(attribute.String("dispatch.provider", meta.Provider))
					}
				case datatypes.EventDone:
					success = true
				case datatypes.EventError:
					if payload, ok := ev.Payload.(datatypes.ErrorPayload); ok {
						metrics.RecordError(observability.EndpointStream, payload.Code)
					}
				}

			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					metrics.RecordClientDisconnect()
					break relay
				}
				metrics.RecordKeepAlive()

			case <-ctx.Done():
				metrics.RecordClientDisconnect()
				break relay
			}
		}

		metrics.RecordRequest(observability.EndpointStream, success)
		metrics.RecordStreamDuration(observability.EndpointStream, time.Since(start).Seconds(), success)
	}
}
