// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file defines the progress-event union streamed to clients while a
// turn executes. Events are append-only and ordered; once emitted an event
// is never retracted or mutated. Each kind carries exactly one payload
// type, enforced at the serialization boundary (see PayloadFor).
package datatypes

import "fmt"

// =============================================================================
// Event Kinds
// =============================================================================

// EventKind identifies one variant of the progress-event union.
type EventKind string

const (
	// EventMeta announces the provider/model handling a turn. Exactly one
	// meta event opens every stream. A later meta event may carry the
	// evidence display spec for the authoritative result of the turn.
	EventMeta EventKind = "meta"

	// EventSQL reports a SQL statement about to be executed.
	EventSQL EventKind = "sql"

	// EventRows reports the result set of an executed statement.
	EventRows EventKind = "rows"

	// EventPlan reports the full multi-step plan, at most once per turn.
	EventPlan EventKind = "plan"

	// EventCypher reports the graph statement produced by the graph engine.
	// Only the graph strategy emits it.
	EventCypher EventKind = "cypher"

	// EventDelta carries one streamed token chunk from the generic
	// completion strategy. Seq is monotonic starting at 1.
	EventDelta EventKind = "delta"

	// EventDone terminates a successful stream. Exactly one of done/error
	// closes every stream, and it is always the last event.
	EventDone EventKind = "done"

	// EventError terminates a failed stream.
	EventError EventKind = "error"
)

// =============================================================================
// Payload Types
// =============================================================================

// MetaPayload opens a stream (provider announcement) or, when EvidenceSpec
// is set, describes the display contract for the turn's evidence rows.
type MetaPayload struct {
	RequestID    string        `json:"request_id,omitempty"`
	Provider     string        `json:"provider,omitempty"`
	Model        string        `json:"model,omitempty"`
	EvidenceSpec *EvidenceSpec `json:"evidence_spec,omitempty"`
}

// SQLPayload reports a statement handed to the tabular engine. Step is
// 1-based within a multi-step plan and zero otherwise.
type SQLPayload struct {
	SQL     string `json:"sql"`
	Purpose string `json:"purpose,omitempty"`
	Step    int    `json:"step,omitempty"`
}

// RowsPayload reports an executed statement's result set. Rows are always
// column-keyed maps; positional results are normalized before emission.
type RowsPayload struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Purpose  string           `json:"purpose,omitempty"`
	Step     int              `json:"step,omitempty"`
}

// PlanPayload reports the ordered multi-step plan before execution starts.
type PlanPayload struct {
	Steps []PlanStep `json:"steps"`
}

// CypherPayload reports the statement the graph engine generated.
type CypherPayload struct {
	Cypher string `json:"cypher"`
}

// DeltaPayload carries one streamed content chunk.
type DeltaPayload struct {
	Seq     int    `json:"seq"`
	Content string `json:"content"`
}

// DonePayload closes a successful stream with the full reply text and
// timing. Usage is reserved and always null for now.
type DonePayload struct {
	ID           string      `json:"id"`
	ContentFull  string      `json:"content_full"`
	Usage        *TokenUsage `json:"usage"`
	FinishReason string      `json:"finish_reason"`
	ElapsedS     float64     `json:"elapsed_s"`
}

// ErrorPayload closes a failed stream. Code is machine-readable; Message
// is safe for end users and never contains backend internals.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for ErrorPayload.Code.
const (
	ErrorCodeBackend  = "backend_error"
	ErrorCodeInternal = "internal_error"
)

// =============================================================================
// Event Union
// =============================================================================

// StreamEvent is one element of the ordered progress stream for a turn.
//
// # Description
//
// StreamEvent pairs an EventKind with the payload struct for that kind.
// The pairing is closed: PayloadFor rejects any kind/payload mismatch, so
// a malformed event fails at the emission site rather than on the wire.
//
// # Thread Safety
//
// Events are immutable after construction and safe to share.
type StreamEvent struct {
	Kind    EventKind `json:"kind"`
	Payload any       `json:"payload"`
}

// PayloadFor checks that the event's payload matches its declared kind.
//
// Returns a non-nil error naming the mismatch; serialization must not
// proceed on error.
func (e StreamEvent) PayloadFor() error {
	ok := false
	switch e.Kind {
	case EventMeta:
		_, ok = e.Payload.(MetaPayload)
	case EventSQL:
		_, ok = e.Payload.(SQLPayload)
	case EventRows:
		_, ok = e.Payload.(RowsPayload)
	case EventPlan:
		_, ok = e.Payload.(PlanPayload)
	case EventCypher:
		_, ok = e.Payload.(CypherPayload)
	case EventDelta:
		_, ok = e.Payload.(DeltaPayload)
	case EventDone:
		_, ok = e.Payload.(DonePayload)
	case EventError:
		_, ok = e.Payload.(ErrorPayload)
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if !ok {
		return fmt.Errorf("event kind %q carries payload %T", e.Kind, e.Payload)
	}
	return nil
}

// IsTerminal reports whether the event closes the stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

// =============================================================================
// Constructors
// =============================================================================

func NewMetaEvent(requestID, provider, model string) StreamEvent {
	return StreamEvent{Kind: EventMeta, Payload: MetaPayload{
		RequestID: requestID,
		Provider:  provider,
		Model:     model,
	}}
}

func NewEvidenceSpecEvent(spec EvidenceSpec) StreamEvent {
	return StreamEvent{Kind: EventMeta, Payload: MetaPayload{EvidenceSpec: &spec}}
}

func NewSQLEvent(sql, purpose string, step int) StreamEvent {
	return StreamEvent{Kind: EventSQL, Payload: SQLPayload{SQL: sql, Purpose: purpose, Step: step}}
}

func NewRowsEvent(columns []string, rows []map[string]any, purpose string, step int) StreamEvent {
	return StreamEvent{Kind: EventRows, Payload: RowsPayload{
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
		Purpose:  purpose,
		Step:     step,
	}}
}

func NewPlanEvent(steps []PlanStep) StreamEvent {
	return StreamEvent{Kind: EventPlan, Payload: PlanPayload{Steps: steps}}
}

func NewCypherEvent(cypher string) StreamEvent {
	return StreamEvent{Kind: EventCypher, Payload: CypherPayload{Cypher: cypher}}
}

func NewDeltaEvent(seq int, content string) StreamEvent {
	return StreamEvent{Kind: EventDelta, Payload: DeltaPayload{Seq: seq, Content: content}}
}

func NewDoneEvent(id, contentFull string, elapsedS float64) StreamEvent {
	return StreamEvent{Kind: EventDone, Payload: DonePayload{
		ID:           id,
		ContentFull:  contentFull,
		Usage:        nil,
		FinishReason: "stop",
		ElapsedS:     elapsedS,
	}}
}

func NewErrorEvent(code, message string) StreamEvent {
	return StreamEvent{Kind: EventError, Payload: ErrorPayload{Code: code, Message: message}}
}
