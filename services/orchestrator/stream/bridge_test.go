// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryline/queryline/services/llm"
	"github.com/queryline/queryline/services/orchestrator/datatypes"
	"github.com/queryline/queryline/services/orchestrator/dispatch"
)

// fakeRunner emits canned events through the sink, then returns.
type fakeRunner struct {
	events []datatypes.StreamEvent
	reply  string
	err    error
	block  chan struct{} // when non-nil, wait before returning
}

func (f *fakeRunner) Dispatch(_ context.Context, req *datatypes.ChatRequest, sink dispatch.EventSink) (datatypes.ChatResponse, error) {
	for _, ev := range f.events {
		sink(ev)
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return datatypes.ChatResponse{}, f.err
	}
	return datatypes.NewChatResponse(req.RequestID, f.reply, nil), nil
}

func collect(t *testing.T, ch <-chan datatypes.StreamEvent) []datatypes.StreamEvent {
	t.Helper()
	var out []datatypes.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining event stream")
		}
	}
}

func newRequest() *datatypes.ChatRequest {
	req := &datatypes.ChatRequest{
		Messages: []datatypes.Message{{Role: "user", Content: "hi"}},
	}
	req.EnsureDefaults()
	return req
}

func TestStream_OrderPreservedAndDoneAppended(t *testing.T) {
	runner := &fakeRunner{
		events: []datatypes.StreamEvent{
			datatypes.NewMetaEvent("r1", "nl2sql_single", "m"),
			datatypes.NewSQLEvent("SELECT 1 LIMIT 1", "", 0),
			datatypes.NewRowsEvent([]string{"c"}, nil, "", 0),
		},
		reply: "the answer",
	}
	bridge := NewBridge(runner)

	events := collect(t, bridge.Stream(context.Background(), newRequest()))
	require.Len(t, events, 4)
	assert.Equal(t, datatypes.EventMeta, events[0].Kind)
	assert.Equal(t, datatypes.EventSQL, events[1].Kind)
	assert.Equal(t, datatypes.EventRows, events[2].Kind)
	assert.Equal(t, datatypes.EventDone, events[3].Kind)

	done := events[3].Payload.(datatypes.DonePayload)
	assert.Equal(t, "the answer", done.ContentFull)
	assert.Equal(t, "stop", done.FinishReason)
	assert.GreaterOrEqual(t, done.ElapsedS, 0.0)
}

func TestStream_ExactlyOneTerminal(t *testing.T) {
	for name, runner := range map[string]*fakeRunner{
		"success": {reply: "ok"},
		"failure": {err: fmt.Errorf("%w: refused", llm.ErrBackendUnavailable)},
	} {
		t.Run(name, func(t *testing.T) {
			bridge := NewBridge(runner)
			events := collect(t, bridge.Stream(context.Background(), newRequest()))

			terminals := 0
			for _, ev := range events {
				if ev.IsTerminal() {
					terminals++
				}
			}
			require.Equal(t, 1, terminals)
			assert.True(t, events[len(events)-1].IsTerminal(), "terminal event must be last")
		})
	}
}

func TestStream_BackendFailureMapsToBackendError(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("%w: dial tcp refused", llm.ErrBackendUnavailable)}
	bridge := NewBridge(runner)

	events := collect(t, bridge.Stream(context.Background(), newRequest()))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, datatypes.EventError, last.Kind)

	payload := last.Payload.(datatypes.ErrorPayload)
	assert.Equal(t, datatypes.ErrorCodeBackend, payload.Code)
	assert.NotContains(t, payload.Message, "dial tcp", "transport detail stays out of user-facing messages")
}

func TestStream_UnknownFailureMapsToInternalError(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("nil map write")}
	bridge := NewBridge(runner)

	events := collect(t, bridge.Stream(context.Background(), newRequest()))
	last := events[len(events)-1]
	require.Equal(t, datatypes.EventError, last.Kind)
	assert.Equal(t, datatypes.ErrorCodeInternal, last.Payload.(datatypes.ErrorPayload).Code)
}

func TestStream_DisconnectDoesNotBlockWorker(t *testing.T) {
	block := make(chan struct{})
	runner := &fakeRunner{
		events: []datatypes.StreamEvent{datatypes.NewMetaEvent("r1", "llm", "m")},
		reply:  "late answer",
		block:  block,
	}
	bridge := NewBridge(runner)

	ctx, cancel := context.WithCancel(context.Background())
	ch := bridge.Stream(ctx, newRequest())

	// Simulate disconnect while the worker is still running.
	cancel()
	close(block)

	// The channel must still close; the worker never deadlocks on an
	// abandoned consumer.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream channel never closed after disconnect")
		}
	}
}

func TestStream_WorkerNeverBlocksOnSlowConsumer(t *testing.T) {
	many := make([]datatypes.StreamEvent, 0, 200)
	for i := 1; i <= 200; i++ {
		many = append(many, datatypes.NewDeltaEvent(i, "x"))
	}
	runner := &fakeRunner{events: many, reply: "done"}
	bridge := NewBridge(runner)

	ch := bridge.Stream(context.Background(), newRequest())
	// Do not read for a moment; the buffer absorbs the whole burst.
	time.Sleep(50 * time.Millisecond)

	events := collect(t, ch)
	require.Len(t, events, 201)
	for i, ev := range events[:200] {
		assert.Equal(t, i+1, ev.Payload.(datatypes.DeltaPayload).Seq, "FIFO order preserved")
	}
	assert.Equal(t, datatypes.EventDone, events[200].Kind)
}
