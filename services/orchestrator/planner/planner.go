// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner turns natural-language questions into guarded SQL.
//
// # Description
//
//	Three operations over one model backend: generate a single SELECT,
//	generate an ordered multi-query plan, and synthesize a final
//	natural-language answer from accumulated evidence. Every generated
//	statement passes the safety guard before it is returned; nothing in
//	this package executes SQL.
//
// # Limitations
//
//	Each operation is one blocking model call with no internal retry.
//	Transport failures propagate as llm.ErrBackendUnavailable; the
//	caller decides how to surface them.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/queryline/queryline/services/llm"
	"github.com/queryline/queryline/services/orchestrator/datatypes"
	"github.com/queryline/queryline/services/orchestrator/sqlguard"
)

var (
	// ErrGenerationInvalid means the model's single-shot output failed
	// SQL safety validation.
	ErrGenerationInvalid = errors.New("generated sql invalid")

	// ErrPlanInvalid means the model's plan output could not be parsed,
	// was empty, or contained an unsafe step.
	ErrPlanInvalid = errors.New("generated plan invalid")
)

// Config carries the planner's fixed inputs.
type Config struct {
	// Samples optionally maps table names to example rows included in
	// prompts for model grounding. May be nil.
	Samples map[string][]map[string]any
}

// Planner generates and validates SQL through a model backend.
type Planner struct {
	client  llm.LLMClient
	guard   *sqlguard.Guard
	samples map[string][]map[string]any
}

// New builds a Planner over the given backend and guard.
func New(client llm.LLMClient, guard *sqlguard.Guard, cfg Config) *Planner {
	return &Planner{
		client:  client,
		guard:   guard,
		samples: cfg.Samples,
	}
}

// GenerateSingle produces one guarded SELECT for the question. A model
// output that fails validation is ErrGenerationInvalid; there is no
// silent retry.
func (p *Planner) GenerateSingle(ctx context.Context, question string, schema datatypes.Schema) (string, error) {
	zero := float32(0)
	raw, err := p.client.Generate(ctx, singleShotPrompt(question, renderSchema(schema, p.samples)), llm.GenerationParams{
		Temperature: &zero,
	})
	if err != nil {
		return "", err
	}

	sql := extractSQL(raw)
	validated, err := p.guard.Validate(sql)
	if err != nil {
		slog.Warn("Single-shot generation failed validation", "error", err, "sql", sql)
		return "", fmt.Errorf("%w: %v", ErrGenerationInvalid, err)
	}
	return validated, nil
}

type planDocument struct {
	Queries []datatypes.PlanStep `json:"queries"`
}

// Plan produces an ordered list of guarded plan steps, truncated to
// maxSteps. Unparseable output, an empty plan, or an unsafe step is
// ErrPlanInvalid.
func (p *Planner) Plan(ctx context.Context, question string, schema datatypes.Schema, maxSteps int) ([]datatypes.PlanStep, error) {
	if maxSteps <= 0 {
		maxSteps = 1
	}
	zero := float32(0)
	raw, err := p.client.Generate(ctx, planPrompt(question, renderSchema(schema, p.samples), maxSteps), llm.GenerationParams{
		Temperature: &zero,
	})
	if err != nil {
		return nil, err
	}

	var doc planDocument
	if err := json.Unmarshal([]byte(extractJSON(raw)), &doc); err != nil {
		slog.Warn("Plan output is not valid JSON", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPlanInvalid, err)
	}
	if len(doc.Queries) == 0 {
		return nil, fmt.Errorf("%w: plan contains no queries", ErrPlanInvalid)
	}
	if len(doc.Queries) > maxSteps {
		doc.Queries = doc.Queries[:maxSteps]
	}

	steps := make([]datatypes.PlanStep, 0, len(doc.Queries))
	for i, q := range doc.Queries {
		validated, err := p.guard.Validate(extractSQL(q.SQL))
		if err != nil {
			slog.Warn("Plan step failed validation", "step", i+1, "error", err, "sql", q.SQL)
			return nil, fmt.Errorf("%w: step %d: %v", ErrPlanInvalid, i+1, err)
		}
		steps = append(steps, datatypes.PlanStep{Purpose: q.Purpose, SQL: validated})
	}
	return steps, nil
}

// Synthesize produces the final natural-language answer from the
// accumulated evidence. An empty or whitespace-only result is returned
// as-is; the caller substitutes its fallback message.
func (p *Planner) Synthesize(ctx context.Context, question string, evidence []datatypes.EvidenceItem) (string, error) {
	temp := float32(0.2)
	answer, err := p.client.Generate(ctx, synthesisPrompt(question, evidence), llm.GenerationParams{
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// extractSQL strips markdown code fences the model may wrap its
// statement in.
func extractSQL(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// extractJSON slices out the outermost JSON object, tolerating fenced or
// chatty output around it.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
