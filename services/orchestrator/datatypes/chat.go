// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Request and response types for the chat endpoints (blocking completion
// and SSE streaming share the same request shape).
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes caps a single message body. Byte length, not
	// rune count, so oversized payloads are rejected before buffering.
	MaxMessageContentBytes = 32 * 1024

	// MaxMessagesPerRequest caps the conversation history per request.
	MaxMessagesPerRequest = 100
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Turn Types
// =============================================================================

// Message is one entry in a conversation turn.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// ChatRequest represents one conversational turn: the full ordered message
// history plus optional per-request metadata flags.
//
// # Fields
//
//   - RequestID: Optional client-supplied UUID v4; generated server-side
//     when absent. Used for tracing and event correlation.
//   - Timestamp: Optional Unix milliseconds; stamped server-side when zero.
//   - Messages: Required. 1-100 role/content messages, newest last.
//   - Metadata: Optional untyped flags. Recognized keys: "graph_mode"
//     (bool), "multi_step" (bool), "tables" ([]string of permitted table
//     names). Unknown keys are preserved but ignored.
//
// The turn is immutable once dispatch begins.
type ChatRequest struct {
	RequestID string         `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp int64          `json:"timestamp" validate:"gte=0"`
	Messages  []Message      `json:"messages" validate:"required,min=1,max=100,dive"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate validates the ChatRequest fields after JSON binding.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp if the client omitted
// them, so every turn is traceable.
func (r *ChatRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// LastUserMessage returns the content of the newest user message, or ""
// if the turn holds none.
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// MetaBool reads a boolean metadata flag, false when absent or mistyped.
func (r *ChatRequest) MetaBool(key string) bool {
	v, ok := r.Metadata[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MetaStrings reads a string-list metadata entry. JSON decoding yields
// []any, so both representations are accepted. Returns nil when absent.
func (r *ChatRequest) MetaStrings(key string) []string {
	v, ok := r.Metadata[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Metadata keys recognized by the dispatcher.
const (
	MetaKeyGraphMode = "graph_mode"
	MetaKeyMultiStep = "multi_step"
	MetaKeyTables    = "tables"
)

// =============================================================================
// Response Types
// =============================================================================

// ChatResponse is the terminal reply for a turn. Metadata["provider"]
// names the strategy that produced the reply; it is audit data, never
// user-facing prose.
type ChatResponse struct {
	ResponseID string         `json:"response_id"`
	RequestID  string         `json:"request_id"`
	Timestamp  int64          `json:"timestamp"`
	Reply      string         `json:"reply"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewChatResponse creates a ChatResponse with generated ID and timestamp.
func NewChatResponse(requestID, reply string, metadata map[string]any) ChatResponse {
	return ChatResponse{
		ResponseID: uuid.New().String(),
		RequestID:  requestID,
		Timestamp:  time.Now().UnixMilli(),
		Reply:      reply,
		Metadata:   metadata,
	}
}

// TokenUsage contains token consumption statistics.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
