// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the model-backend abstraction used by the planner
// and the generic completion strategy. Every call is a single blocking
// request with a per-call timeout enforced at the transport; there are no
// internal retries.
package llm

import (
	"context"
	"errors"

	"github.com/queryline/queryline/services/orchestrator/datatypes"
)

// ErrBackendUnavailable wraps transport-level failures (connection
// refused, timeout, 5xx) from a model backend. Callers decide whether to
// surface it as an error event or fold it into a diagnostic reply.
var ErrBackendUnavailable = errors.New("llm backend unavailable")

// GenerationParams tunes a single generation call. Nil pointer fields
// mean "backend default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// StreamEventType discriminates streamed callback events.
type StreamEventType string

const (
	// StreamEventToken carries one generated content chunk.
	StreamEventToken StreamEventType = "token"

	// StreamEventDone signals the end of generation.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one unit delivered to a StreamCallback, in generation
// order.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// StreamCallback receives stream events during ChatStream. Returning a
// non-nil error aborts the stream (e.g. on client disconnect).
type StreamCallback func(StreamEvent) error

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Model returns the backend's configured model identifier, for
	// provider announcements and audit metadata.
	Model() string

	// Generate produces a completion for a single prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a completion for a full message history.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream produces a completion for a message history, delivering
	// tokens through callback as they arrive.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) error
}
