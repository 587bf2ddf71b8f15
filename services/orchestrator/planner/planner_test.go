// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryline/queryline/services/llm"
	"github.com/queryline/queryline/services/orchestrator/datatypes"
	"github.com/queryline/queryline/services/orchestrator/sqlguard"
)

// mockLLM returns canned generations and records prompts.
type mockLLM struct {
	response string
	err      error
	prompts  []string
}

func (m *mockLLM) Model() string { return "mock-model" }

func (m *mockLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.response, m.err
}

func (m *mockLLM) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	return m.Generate(ctx, messages[len(messages)-1].Content, params)
}

func (m *mockLLM) ChatStream(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams, callback llm.StreamCallback) error {
	content, err := m.Chat(ctx, messages, params)
	if err != nil {
		return err
	}
	if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: content}); err != nil {
		return err
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

func newTestPlanner(mock *mockLLM) *Planner {
	guard := sqlguard.New(sqlguard.Config{DefaultLimit: 100})
	return New(mock, guard, Config{})
}

func testSchema() datatypes.Schema {
	return datatypes.Schema{
		"tickets": {"ticket_id", "title", "status", "created_at"},
		"orders":  {"order_id", "amount", "placed_at"},
	}
}

func TestGenerateSingle_ValidatesAndReturnsSQL(t *testing.T) {
	mock := &mockLLM{response: "SELECT ticket_id, status FROM tickets"}
	p := newTestPlanner(mock)

	sql, err := p.GenerateSingle(context.Background(), "open tickets?", testSchema())
	require.NoError(t, err)
	assert.Equal(t, "SELECT ticket_id, status FROM tickets LIMIT 100", sql)
}

func TestGenerateSingle_StripsCodeFence(t *testing.T) {
	mock := &mockLLM{response: "```sql\nSELECT status FROM tickets LIMIT 5\n```"}
	p := newTestPlanner(mock)

	sql, err := p.GenerateSingle(context.Background(), "statuses?", testSchema())
	require.NoError(t, err)
	assert.Equal(t, "SELECT status FROM tickets LIMIT 5", sql)
}

func TestGenerateSingle_UnsafeOutputIsGenerationInvalid(t *testing.T) {
	mock := &mockLLM{response: "DROP TABLE tickets"}
	p := newTestPlanner(mock)

	_, err := p.GenerateSingle(context.Background(), "anything", testSchema())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationInvalid)
}

func TestGenerateSingle_BackendErrorPropagates(t *testing.T) {
	mock := &mockLLM{err: fmt.Errorf("%w: boom", llm.ErrBackendUnavailable)}
	p := newTestPlanner(mock)

	_, err := p.GenerateSingle(context.Background(), "anything", testSchema())
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrBackendUnavailable)
	assert.NotErrorIs(t, err, ErrGenerationInvalid)
}

func TestPlan_ParsesAndGuardsSteps(t *testing.T) {
	mock := &mockLLM{response: `{"queries": [
		{"purpose": "count by status", "sql": "SELECT status, count(*) FROM tickets GROUP BY status"},
		{"purpose": "recent tickets", "sql": "SELECT ticket_id, title FROM tickets LIMIT 10"}
	]}`}
	p := newTestPlanner(mock)

	steps, err := p.Plan(context.Background(), "ticket breakdown?", testSchema(), 4)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "count by status", steps[0].Purpose)
	assert.True(t, strings.HasSuffix(steps[0].SQL, "LIMIT 100"), "guard appends the default limit: %s", steps[0].SQL)
	assert.Equal(t, "SELECT ticket_id, title FROM tickets LIMIT 10", steps[1].SQL)
}

func TestPlan_TruncatesToMaxSteps(t *testing.T) {
	mock := &mockLLM{response: `{"queries": [
		{"purpose": "a", "sql": "SELECT 1 LIMIT 1"},
		{"purpose": "b", "sql": "SELECT 2 LIMIT 1"},
		{"purpose": "c", "sql": "SELECT 3 LIMIT 1"}
	]}`}
	p := newTestPlanner(mock)

	steps, err := p.Plan(context.Background(), "q", testSchema(), 2)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
	assert.Equal(t, "b", steps[1].Purpose)
}

func TestPlan_MalformedJSONIsPlanInvalid(t *testing.T) {
	mock := &mockLLM{response: "I think we should query the tickets table first."}
	p := newTestPlanner(mock)

	_, err := p.Plan(context.Background(), "q", testSchema(), 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlanInvalid)
}

func TestPlan_EmptyPlanIsPlanInvalid(t *testing.T) {
	mock := &mockLLM{response: `{"queries": []}`}
	p := newTestPlanner(mock)

	_, err := p.Plan(context.Background(), "q", testSchema(), 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlanInvalid)
}

func TestPlan_UnsafeStepIsPlanInvalid(t *testing.T) {
	mock := &mockLLM{response: `{"queries": [
		{"purpose": "ok", "sql": "SELECT 1 LIMIT 1"},
		{"purpose": "bad", "sql": "DELETE FROM tickets"}
	]}`}
	p := newTestPlanner(mock)

	_, err := p.Plan(context.Background(), "q", testSchema(), 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlanInvalid)
	assert.Contains(t, err.Error(), "step 2")
}

func TestPlan_ToleratesFencedJSON(t *testing.T) {
	mock := &mockLLM{response: "```json\n{\"queries\": [{\"purpose\": \"p\", \"sql\": \"SELECT 1 LIMIT 1\"}]}\n```"}
	p := newTestPlanner(mock)

	steps, err := p.Plan(context.Background(), "q", testSchema(), 4)
	require.NoError(t, err)
	require.Len(t, steps, 1)
}

func TestSynthesize_TrimsAnswer(t *testing.T) {
	mock := &mockLLM{response: "  There are 12 open tickets.\n"}
	p := newTestPlanner(mock)

	answer, err := p.Synthesize(context.Background(), "how many open?", []datatypes.EvidenceItem{{
		Purpose: "count by status",
		SQL:     "SELECT status, count(*) FROM tickets GROUP BY status LIMIT 100",
		Columns: []string{"status", "count"},
		Rows:    []map[string]any{{"status": "open", "count": 12}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "There are 12 open tickets.", answer)
	require.Len(t, mock.prompts, 1)
	assert.Contains(t, mock.prompts[0], "count by status")
	assert.Contains(t, mock.prompts[0], "open | 12")
}

func TestRenderSchema_DeterministicOrderAndSamples(t *testing.T) {
	schema := testSchema()
	samples := map[string][]map[string]any{
		"tickets": {
			{"ticket_id": 1, "title": strings.Repeat("x", 200), "status": "open", "created_at": "2026-01-01"},
		},
	}

	a := renderSchema(schema, samples)
	b := renderSchema(schema, samples)
	assert.Equal(t, a, b, "rendering must be deterministic")

	assert.Less(t, strings.Index(a, "orders("), strings.Index(a, "tickets("), "tables render in sorted order")
	assert.True(t, strings.HasPrefix(a, "```\n"))
	assert.True(t, strings.HasSuffix(a, "```"))
	assert.NotContains(t, a, strings.Repeat("x", 200), "sample values are truncated")
	assert.Contains(t, a, strings.Repeat("x", maxSampleValueLen)+"…")
}
