// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream bridges the dispatcher's blocking, multi-call execution
// to a live event stream.
//
// # Description
//
//	Each turn runs on its own goroutine. The worker writes events to a
//	buffered channel through the dispatcher's sink; the HTTP side ranges
//	over the channel and translates each event into one SSE frame. The
//	channel preserves producer order (single producer, FIFO), and every
//	stream ends with exactly one terminal event, done or error, appended
//	here and nowhere else.
//
// # Limitations
//
//	After client disconnect the worker keeps running to completion; its
//	events are dropped. External calls are read-only, so the abandoned
//	work is wasted but harmless.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/queryline/queryline/services/engines"
	"github.com/queryline/queryline/services/llm"
	"github.com/queryline/queryline/services/orchestrator/datatypes"
	"github.com/queryline/queryline/services/orchestrator/dispatch"
)

// eventBuffer is sized so the worker effectively never blocks on a slow
// consumer; a full buffer with a live client means kilobytes of unread
// frames, at which point dropping on ctx cancellation is the way out.
const eventBuffer = 1024

// User-safe terminal error messages. Backend details stay in the log.
const (
	backendErrorMessage  = "The answer engine is currently unavailable. Please try again shortly."
	internalErrorMessage = "Something went wrong while answering. Please try again."
)

// Runner is the dispatcher surface the bridge needs.
type Runner interface {
	Dispatch(ctx context.Context, req *datatypes.ChatRequest, sink dispatch.EventSink) (datatypes.ChatResponse, error)
}

// Bridge turns dispatcher runs into consumable event streams.
type Bridge struct {
	runner Runner
}

// NewBridge builds a Bridge over the given dispatcher.
func NewBridge(runner Runner) *Bridge {
	return &Bridge{runner: runner}
}

// Stream runs the turn on a worker goroutine and returns the ordered
// event channel. The channel is closed after the terminal event; the
// caller must drain or cancel ctx, never both producers.
//
// Ordering: events arrive in exactly the order the worker produced
// them. The first event is the dispatcher's meta announcement and the
// last is done or error, never both.
func (b *Bridge) Stream(ctx context.Context, req *datatypes.ChatRequest) <-chan datatypes.StreamEvent {
	events := make(chan datatypes.StreamEvent, eventBuffer)

	send := func(ev datatypes.StreamEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
			// Client is gone; drop instead of blocking the worker.
		}
	}

	go func() {
		defer close(events)
		start := time.Now()

		resp, err := b.runner.Dispatch(ctx, req, send)
		if err != nil {
			code, message := classifyFailure(err)
			slog.Error("Streamed turn failed",
				"request_id", req.RequestID, "code", code, "error", err)
			send(datatypes.NewErrorEvent(code, message))
			return
		}

		send(datatypes.NewDoneEvent(resp.ResponseID, resp.Reply, time.Since(start).Seconds()))
	}()

	return events
}

// classifyFailure maps an error onto a terminal error event. Messages
// are fixed and user-safe; the wrapped detail goes to the log only.
func classifyFailure(err error) (code, message string) {
	if errors.Is(err, llm.ErrBackendUnavailable) || errors.Is(err, engines.ErrEngineUnavailable) {
		return datatypes.ErrorCodeBackend, backendErrorMessage
	}
	return datatypes.ErrorCodeInternal, internalErrorMessage
}
