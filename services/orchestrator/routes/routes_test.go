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
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/queryline/queryline/services/orchestrator/dispatch"
	"github.com/queryline/queryline/services/orchestrator/observability"
	"github.com/queryline/queryline/services/orchestrator/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRouter() *gin.Engine {
	dispatcher := dispatch.New(dispatch.Config{}, dispatch.Dependencies{})
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	router := gin.New()
	SetupRoutes(router, dispatcher, stream.NewBridge(dispatcher), metrics)
	return router
}

func TestRoutes_Registered(t *testing.T) {
	router := testRouter()

	for _, tc := range []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/v1/chat/completion", http.StatusBadRequest}, // empty body
		{http.MethodPost, "/v1/chat/stream", http.StatusBadRequest},
		{http.MethodGet, "/v1/unknown", http.StatusNotFound},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.status, rec.Code, "%s %s", tc.method, tc.path)
	}
}
