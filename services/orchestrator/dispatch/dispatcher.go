// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch selects and runs exactly one answering strategy per
// conversational turn.
//
// # Description
//
//	Strategies are evaluated in fixed priority order, first match wins:
//	raw-SQL command, graph mode, NL-to-SQL multi-step, NL-to-SQL
//	single-shot, generic model completion. The chosen strategy drives the
//	safety guard, the planner, the evidence deriver, and the external
//	query engines, emitting progress events through an injected sink as
//	it goes, and always terminates with a single {reply, metadata} pair.
//
// # Thread Safety
//
//	A Dispatcher is stateless across turns; concurrent Dispatch calls
//	share nothing but the injected collaborators.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/queryline/queryline/services/engines"
	"github.com/queryline/queryline/services/llm"
	"github.com/queryline/queryline/services/orchestrator/datatypes"
	"github.com/queryline/queryline/services/orchestrator/evidence"
	"github.com/queryline/queryline/services/orchestrator/planner"
	"github.com/queryline/queryline/services/orchestrator/sqlguard"
)

// ErrNoDataPermitted means the caller's permitted tables intersect the
// schema to an empty set; the turn is short-circuited without any model
// call.
var ErrNoDataPermitted = errors.New("no permitted tables")

// EventSink receives progress events in emission order. Implementations
// must not block the dispatcher indefinitely.
type EventSink func(datatypes.StreamEvent)

// SchemaSource supplies the table/column schema for NL-to-SQL strategies.
type SchemaSource interface {
	Schema(ctx context.Context) (datatypes.Schema, error)
}

// SchemaFunc adapts a function to the SchemaSource interface.
type SchemaFunc func(ctx context.Context) (datatypes.Schema, error)

func (f SchemaFunc) Schema(ctx context.Context) (datatypes.Schema, error) { return f(ctx) }

// Provider values recorded in response metadata, naming the strategy
// that produced the reply.
const (
	ProviderRawSQL       = "raw_sql"
	ProviderGraph        = "graph"
	ProviderNl2SqlMulti  = "nl2sql_multi"
	ProviderNl2SqlSingle = "nl2sql_single"
	ProviderLLM          = "llm"
)

// Fixed user-facing replies. Diagnostics behind them go to the log, not
// to the user.
const (
	noDataReply      = "No data is available for your account, so this question cannot be answered from the connected datasets."
	noAnswerReply    = "The available data does not contain an answer to that question."
	planFailedReply  = "I could not work out a query plan for that question. Try rephrasing it or narrowing it down."
	planDeadReply    = "None of the planned queries could be run against the data source. Please try again later."
	genFailedReply   = "I could not translate that question into a query over the available data. Try rephrasing it."
	graphErrorPrefix = "The graph engine could not answer this question: "
)

// Config carries the dispatcher's tunables. Zero values get sensible
// defaults in New.
type Config struct {
	// SQLCommandPrefix routes a user message straight to raw-SQL
	// execution when the message starts with it.
	SQLCommandPrefix string

	// MaxPlanSteps bounds the multi-step plan length.
	MaxPlanSteps int

	// EvidenceLimit caps rows in derived evidence queries.
	EvidenceLimit int

	// HistoryMessages is how many prior messages enrich the question
	// handed to the planner and the graph engine.
	HistoryMessages int
}

// Dependencies are the dispatcher's collaborators. Nil entries disable
// the strategies that need them.
type Dependencies struct {
	LLM     llm.LLMClient
	Tabular engines.TabularClient
	Graph   engines.GraphClient
	Planner *planner.Planner
	Guard   *sqlguard.Guard
	Deriver *evidence.Deriver
	Schemas SchemaSource
}

// Dispatcher is the per-turn strategy selector and orchestrator.
type Dispatcher struct {
	cfg  Config
	deps Dependencies
}

// New builds a Dispatcher, applying defaults for zero-valued config.
func New(cfg Config, deps Dependencies) *Dispatcher {
	if cfg.SQLCommandPrefix == "" {
		cfg.SQLCommandPrefix = "/sql "
	}
	if cfg.MaxPlanSteps <= 0 {
		cfg.MaxPlanSteps = 4
	}
	if cfg.EvidenceLimit <= 0 {
		cfg.EvidenceLimit = 50
	}
	if cfg.HistoryMessages <= 0 {
		cfg.HistoryMessages = 6
	}
	return &Dispatcher{cfg: cfg, deps: deps}
}

// Completion answers a turn synchronously with no progress events; used
// by the non-streaming endpoint.
func (d *Dispatcher) Completion(ctx context.Context, req *datatypes.ChatRequest) (datatypes.ChatResponse, error) {
	return d.Dispatch(ctx, req, nil)
}

// Dispatch classifies the turn, runs exactly one strategy, and returns
// the terminal reply. When sink is non-nil, progress events are emitted
// through it in order, starting with a meta event announcing the chosen
// provider; terminal done/error events are the transport's job, not
// this method's.
//
// A returned error means no recoverable reply was possible; the caller
// maps it onto an error event or an HTTP 5xx. Validation and planning
// failures are folded into the reply instead.
func (d *Dispatcher) Dispatch(ctx context.Context, req *datatypes.ChatRequest, sink EventSink) (datatypes.ChatResponse, error) {
	streaming := sink != nil
	if sink == nil {
		sink = func(datatypes.StreamEvent) {}
	}

	provider, model := d.classify(req)
	sink(datatypes.NewMetaEvent(req.RequestID, provider, model))
	slog.Info("Dispatching turn", "request_id", req.RequestID, "provider", provider)

	reply, err := d.run(ctx, provider, req, sink, streaming)
	if errors.Is(err, ErrNoDataPermitted) {
		reply, err = noDataReply, nil
	}
	if err != nil {
		return datatypes.ChatResponse{}, err
	}

	return datatypes.NewChatResponse(req.RequestID, reply, map[string]any{
		"provider": provider,
		"model":    model,
	}), nil
}

// classify picks the strategy for the turn. The decision is cheap and
// side-effect free so the provider can be announced before any external
// call is made.
func (d *Dispatcher) classify(req *datatypes.ChatRequest) (provider, model string) {
	if d.deps.LLM != nil {
		model = d.deps.LLM.Model()
	}

	last := req.LastUserMessage()
	switch {
	case d.deps.Tabular != nil && strings.HasPrefix(last, d.cfg.SQLCommandPrefix):
		return ProviderRawSQL, ""
	case d.deps.Graph != nil && req.MetaBool(datatypes.MetaKeyGraphMode):
		return ProviderGraph, ""
	case d.nl2sqlReady() && req.MetaBool(datatypes.MetaKeyMultiStep):
		return ProviderNl2SqlMulti, model
	case d.nl2sqlReady():
		return ProviderNl2SqlSingle, model
	default:
		return ProviderLLM, model
	}
}

func (d *Dispatcher) nl2sqlReady() bool {
	return d.deps.Planner != nil && d.deps.Tabular != nil && d.deps.Schemas != nil
}

func (d *Dispatcher) run(ctx context.Context, provider string, req *datatypes.ChatRequest, sink EventSink, streaming bool) (string, error) {
	switch provider {
	case ProviderRawSQL:
		return d.runRawSQL(ctx, req, sink)
	case ProviderGraph:
		return d.runGraph(ctx, req, sink)
	case ProviderNl2SqlMulti:
		return d.runMultiStep(ctx, req, sink)
	case ProviderNl2SqlSingle:
		return d.runSingleShot(ctx, req, sink)
	default:
		return d.runGeneric(ctx, req, sink, streaming)
	}
}

// permittedSchema intersects the schema with the caller's permitted
// tables. A caller that supplies a table list but ends up with an empty
// intersection gets ErrNoDataPermitted; a caller that supplies none may
// address the whole schema.
func (d *Dispatcher) permittedSchema(ctx context.Context, req *datatypes.ChatRequest) (datatypes.Schema, error) {
	schema, err := d.deps.Schemas.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	permitted := req.MetaStrings(datatypes.MetaKeyTables)
	if permitted == nil {
		if len(schema) == 0 {
			return nil, ErrNoDataPermitted
		}
		return schema, nil
	}

	allowed := make(map[string]bool, len(permitted))
	for _, t := range permitted {
		allowed[t] = true
	}
	out := datatypes.Schema{}
	for table, columns := range schema {
		if allowed[table] {
			out[table] = columns
		}
	}
	if len(out) == 0 {
		return nil, ErrNoDataPermitted
	}
	return out, nil
}
