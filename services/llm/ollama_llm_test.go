// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryline/queryline/services/orchestrator/datatypes"
)

func newOllamaServer(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOllamaClient(server.URL, "test-model", 10*time.Second)
	require.NoError(t, err)
	return client
}

func TestNewOllamaClient_RequiresBaseURL(t *testing.T) {
	_, err := NewOllamaClient("", "model", time.Minute)
	assert.Error(t, err)
}

func TestOllamaChat_ReturnsContent(t *testing.T) {
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: datatypes.Message{Role: "assistant", Content: "42 orders"},
			Done:    true,
		})
	})

	out, err := client.Chat(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "how many orders?"}}, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "42 orders", out)
}

func TestOllamaChat_Non200IsBackendError(t *testing.T) {
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})

	_, err := client.Chat(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}}, GenerationParams{})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestOllamaChatStream_ForwardsTokensInOrder(t *testing.T) {
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		// Ollama streams newline-delimited JSON objects.
		enc := json.NewEncoder(w)
		_ = enc.Encode(ollamaChatResponse{Message: datatypes.Message{Content: "Hel"}})
		_ = enc.Encode(ollamaChatResponse{Message: datatypes.Message{Content: "lo"}})
		_ = enc.Encode(ollamaChatResponse{Done: true})
	})

	var tokens []string
	sawDone := false
	err := client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}}, GenerationParams{},
		func(ev StreamEvent) error {
			switch ev.Type {
			case StreamEventToken:
				assert.False(t, sawDone, "no tokens after done")
				tokens = append(tokens, ev.Content)
			case StreamEventDone:
				sawDone = true
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.True(t, sawDone)
}

func TestOllamaChatStream_CallbackErrorAborts(t *testing.T) {
	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		for i := 0; i < 50; i++ {
			_ = enc.Encode(ollamaChatResponse{Message: datatypes.Message{Content: "x"}})
		}
		_ = enc.Encode(ollamaChatResponse{Done: true})
	})

	calls := 0
	err := client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}}, GenerationParams{},
		func(ev StreamEvent) error {
			calls++
			return context.Canceled
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestOllamaGenerationParams_MapToOptions(t *testing.T) {
	temp := float32(0)
	maxTokens := 128
	var gotOptions map[string]any

	client := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotOptions = req.Options
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Done: true})
	})

	_, err := client.Chat(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}},
		GenerationParams{Temperature: &temp, MaxTokens: &maxTokens, Stop: []string{";"}})
	require.NoError(t, err)

	assert.EqualValues(t, 0, gotOptions["temperature"], "explicit zero temperature is sent")
	assert.EqualValues(t, 128, gotOptions["num_predict"])
	assert.Equal(t, []any{";"}, gotOptions["stop"])
}
