// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/queryline/queryline/services/llm"
	"github.com/queryline/queryline/services/orchestrator/datatypes"
	"github.com/queryline/queryline/services/orchestrator/evidence"
)

// =============================================================================
// Strategy 1: raw-SQL command
// =============================================================================

// runRawSQL executes the user's own SQL verbatim after validation. The
// reply is a plain-text rendering of the result so the turn reads like a
// normal assistant answer even without a UI table.
func (d *Dispatcher) runRawSQL(ctx context.Context, req *datatypes.ChatRequest, sink EventSink) (string, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(req.LastUserMessage(), d.cfg.SQLCommandPrefix))

	validated, err := d.deps.Guard.Validate(raw)
	if err != nil {
		slog.Warn("Raw SQL command rejected", "request_id", req.RequestID, "error", err)
		return fmt.Sprintf("That query cannot be run: %v.", err), nil
	}

	sink(datatypes.NewSQLEvent(validated, "", 0))
	result, err := d.deps.Tabular.Execute(ctx, validated)
	if err != nil {
		return "", err
	}
	sink(datatypes.NewRowsEvent(result.Columns, result.Rows, "", 0))

	d.emitEvidence(ctx, sink, validated, raw)
	return renderTable(result.Columns, result.Rows), nil
}

// =============================================================================
// Strategy 2: graph mode
// =============================================================================

// runGraph delegates the whole turn to the graph engine, which performs
// its own generation and execution. Domain failures from the engine are
// rendered as a reply, never re-raised.
func (d *Dispatcher) runGraph(ctx context.Context, req *datatypes.ChatRequest, sink EventSink) (string, error) {
	question := d.contextQuestion(req)

	answer, err := d.deps.Graph.Run(ctx, question)
	if err != nil {
		return "", err
	}

	if answer.Cypher != "" {
		sink(datatypes.NewCypherEvent(answer.Cypher))
	}
	if answer.Error != "" {
		slog.Warn("Graph engine reported a domain error", "request_id", req.RequestID, "error", answer.Error)
		return graphErrorPrefix + answer.Error, nil
	}

	if len(answer.Columns) > 0 {
		spec := evidence.BuildSpec(answer.Columns, question, d.cfg.EvidenceLimit)
		sink(datatypes.NewEvidenceSpecEvent(spec))
		sink(datatypes.NewRowsEvent(answer.Columns, answer.Rows, "evidence", 0))
	}
	return answer.Answer, nil
}

// =============================================================================
// Strategy 3: NL-to-SQL, multi-step
// =============================================================================

// runMultiStep plans, executes each step sequentially, synthesizes, and
// surfaces the last step that produced rows as the evidence query.
// Planner and synthesis failures become diagnostic replies; the turn
// always terminates with one.
func (d *Dispatcher) runMultiStep(ctx context.Context, req *datatypes.ChatRequest, sink EventSink) (string, error) {
	schema, err := d.permittedSchema(ctx, req)
	if err != nil {
		return "", err
	}
	question := d.contextQuestion(req)

	steps, err := d.deps.Planner.Plan(ctx, question, schema, d.cfg.MaxPlanSteps)
	if err != nil {
		slog.Error("Planning failed", "request_id", req.RequestID, "error", err)
		return planFailedReply, nil
	}
	sink(datatypes.NewPlanEvent(steps))

	var items []datatypes.EvidenceItem
	var lastSQL, lastHint string
	for i, step := range steps {
		sink(datatypes.NewSQLEvent(step.SQL, step.Purpose, i+1))
		result, err := d.deps.Tabular.Execute(ctx, step.SQL)
		if err != nil {
			slog.Warn("Plan step failed, continuing",
				"request_id", req.RequestID, "step", i+1, "error", err)
			continue
		}
		sink(datatypes.NewRowsEvent(result.Columns, result.Rows, step.Purpose, i+1))
		items = append(items, datatypes.EvidenceItem{
			Purpose: step.Purpose,
			SQL:     step.SQL,
			Columns: result.Columns,
			Rows:    result.Rows,
		})
		if len(result.Rows) > 0 {
			lastSQL, lastHint = step.SQL, step.Purpose
		}
	}
	if len(items) == 0 {
		slog.Error("Every plan step failed", "request_id", req.RequestID, "steps", len(steps))
		return planDeadReply, nil
	}

	answer, err := d.deps.Planner.Synthesize(ctx, question, items)
	if err != nil {
		slog.Error("Synthesis failed", "request_id", req.RequestID, "error", err)
		answer = ""
	}
	if strings.TrimSpace(answer) == "" {
		answer = noAnswerReply
	}

	if lastSQL != "" {
		d.emitEvidence(ctx, sink, lastSQL, lastHint+" "+question)
	}
	return answer, nil
}

// =============================================================================
// Strategy 4: NL-to-SQL, single-shot
// =============================================================================

// runSingleShot generates one query, executes it, and synthesizes an
// answer over that single result. If synthesis fails the raw tabular
// result is rendered instead; the underlying data is never hidden.
func (d *Dispatcher) runSingleShot(ctx context.Context, req *datatypes.ChatRequest, sink EventSink) (string, error) {
	schema, err := d.permittedSchema(ctx, req)
	if err != nil {
		return "", err
	}
	question := d.contextQuestion(req)

	sql, err := d.deps.Planner.GenerateSingle(ctx, question, schema)
	if err != nil {
		slog.Error("Single-shot generation failed", "request_id", req.RequestID, "error", err)
		return genFailedReply, nil
	}

	sink(datatypes.NewSQLEvent(sql, "", 0))
	result, err := d.deps.Tabular.Execute(ctx, sql)
	if err != nil {
		return "", err
	}
	sink(datatypes.NewRowsEvent(result.Columns, result.Rows, "", 0))

	d.emitEvidence(ctx, sink, sql, question)

	answer, err := d.deps.Planner.Synthesize(ctx, question, []datatypes.EvidenceItem{{
		SQL:     sql,
		Columns: result.Columns,
		Rows:    result.Rows,
	}})
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			slog.Warn("Synthesis failed, rendering raw result", "request_id", req.RequestID, "error", err)
		}
		return renderTable(result.Columns, result.Rows), nil
	}
	return answer, nil
}

// =============================================================================
// Strategy 5: generic completion
// =============================================================================

// runGeneric hands the turn to the model backend verbatim. On the
// streaming path token deltas are relayed as they arrive.
func (d *Dispatcher) runGeneric(ctx context.Context, req *datatypes.ChatRequest, sink EventSink, streaming bool) (string, error) {
	if d.deps.LLM == nil {
		return "", errors.New("no model backend configured")
	}

	if !streaming {
		return d.deps.LLM.Chat(ctx, req.Messages, llm.GenerationParams{})
	}

	var full strings.Builder
	seq := 0
	err := d.deps.LLM.ChatStream(ctx, req.Messages, llm.GenerationParams{}, func(ev llm.StreamEvent) error {
		if ev.Type != llm.StreamEventToken {
			return nil
		}
		seq++
		sink(datatypes.NewDeltaEvent(seq, ev.Content))
		full.WriteString(ev.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}

// =============================================================================
// Shared helpers
// =============================================================================

// emitEvidence derives a bounded detail query from sql, executes it, and
// emits the evidence event triple. Failures are absorbed: evidence is an
// overlay, never load-bearing for the answer.
func (d *Dispatcher) emitEvidence(ctx context.Context, sink EventSink, sql, labelHint string) {
	if d.deps.Deriver == nil {
		return
	}
	derived, ok := d.deps.Deriver.Derive(sql, d.cfg.EvidenceLimit)
	if !ok {
		return
	}
	result, err := d.deps.Tabular.Execute(ctx, derived)
	if err != nil {
		slog.Debug("Evidence query failed, skipping", "error", err)
		return
	}

	sink(datatypes.NewSQLEvent(derived, "evidence", 0))
	spec := evidence.BuildSpec(result.Columns, labelHint, d.cfg.EvidenceLimit)
	sink(datatypes.NewEvidenceSpecEvent(spec))
	sink(datatypes.NewRowsEvent(result.Columns, result.Rows, "evidence", 0))
}

// contextQuestion enriches the newest user message with the last few
// turns of history so the planner and the graph engine see referents
// like "those tickets".
func (d *Dispatcher) contextQuestion(req *datatypes.ChatRequest) string {
	last := req.LastUserMessage()
	if len(req.Messages) <= 1 {
		return last
	}

	history := req.Messages[:len(req.Messages)-1]
	if len(history) > d.cfg.HistoryMessages {
		history = history[len(history)-d.cfg.HistoryMessages:]
	}

	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		if m.Role == "system" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(last)
	return b.String()
}

// maxRenderRows bounds the plain-text table fallback.
const maxRenderRows = 50

// renderTable renders a result as preformatted text for replies that
// have no synthesized answer.
func renderTable(columns []string, rows []map[string]any) string {
	if len(rows) == 0 {
		return "The query returned no rows."
	}

	var b strings.Builder
	b.WriteString("```\n")
	b.WriteString(strings.Join(columns, " | "))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", len(strings.Join(columns, " | "))))
	b.WriteString("\n")
	for i, row := range rows {
		if i >= maxRenderRows {
			fmt.Fprintf(&b, "… %d more rows\n", len(rows)-i)
			break
		}
		cells := make([]string, 0, len(columns))
		for _, col := range columns {
			if v := row[col]; v != nil {
				cells = append(cells, fmt.Sprintf("%v", v))
			} else {
				cells = append(cells, "NULL")
			}
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	b.WriteString("```")
	return b.String()
}
