// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// GraphAnswer is the graph engine's reply to one natural-language
// question. Error is a domain-level failure (the engine understood the
// request but could not answer); transport failures are returned as Go
// errors instead.
type GraphAnswer struct {
	Answer  string           `json:"answer"`
	Cypher  string           `json:"cypher,omitempty"`
	Columns []string         `json:"columns,omitempty"`
	Rows    []map[string]any `json:"rows,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// GraphClient answers natural-language questions against the graph
// engine sidecar.
type GraphClient interface {
	Run(ctx context.Context, question string) (GraphAnswer, error)
}

// HTTPGraphClient talks to the graph engine over its JSON HTTP API.
type HTTPGraphClient struct {
	httpClient *http.Client
	baseURL    string
}

type graphQueryRequest struct {
	Question string `json:"question"`
}

// NewHTTPGraphClient creates a client for the graph engine at baseURL.
func NewHTTPGraphClient(baseURL string, timeout time.Duration) (*HTTPGraphClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("graph engine base url not configured")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing graph engine client", "base_url", baseURL)
	return &HTTPGraphClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}, nil
}

// Run implements GraphClient.
func (g *HTTPGraphClient) Run(ctx context.Context, question string) (GraphAnswer, error) {
	payload, err := json.Marshal(graphQueryRequest{Question: question})
	if err != nil {
		return GraphAnswer{}, fmt.Errorf("marshal graph request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/graph/query", bytes.NewReader(payload))
	if err != nil {
		return GraphAnswer{}, fmt.Errorf("create graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		slog.Error("Graph engine call failed", "error", err)
		return GraphAnswer{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return GraphAnswer{}, fmt.Errorf("%w: graph engine returned %d: %s",
			ErrEngineUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var answer GraphAnswer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return GraphAnswer{}, fmt.Errorf("%w: decoding graph response: %v", ErrEngineUnavailable, err)
	}
	return answer, nil
}
