// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config builds the process configuration once at startup.
// Nothing else in the service reads the environment; components receive
// explicit values from main.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable the orchestrator needs.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// LLMBackend selects the model backend: "openai", "anthropic", or
	// "ollama".
	LLMBackend string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	AnthropicAPIKey string
	AnthropicModel  string

	OllamaBaseURL string
	OllamaModel   string
	LLMTimeout    time.Duration

	// TabularDSN connects the SQL warehouse; empty disables the raw-SQL
	// and NL-to-SQL strategies.
	TabularDSN string

	// TablePrefix restricts both the safety guard and schema
	// introspection to tables whose bare name starts with it (e.g.
	// "sales_"). Introspection sees unqualified names in the public
	// schema, so a schema-qualified value like "analytics." matches
	// nothing there.
	TablePrefix  string
	QueryTimeout time.Duration

	// GraphBaseURL connects the graph engine; empty disables graph mode.
	GraphBaseURL string
	GraphTimeout time.Duration

	// DefaultRowLimit is appended to statements with no LIMIT clause.
	DefaultRowLimit int

	// EvidenceRowLimit caps derived evidence queries.
	EvidenceRowLimit int

	// MaxPlanSteps bounds multi-step plans.
	MaxPlanSteps int

	// SQLCommandPrefix routes a user message straight to raw SQL.
	SQLCommandPrefix string

	// HistoryMessages bounds conversational context enrichment.
	HistoryMessages int

	// APIKey guards the /v1 endpoints when set; empty leaves them open.
	APIKey string

	// OTLPEndpoint is the OTLP gRPC collector address; empty disables
	// trace export.
	OTLPEndpoint string
}

// FromEnv reads the configuration from the environment, applying
// defaults for anything unset.
func FromEnv() Config {
	return Config{
		Port:       envStr("ORCHESTRATOR_PORT", "12210"),
		LLMBackend: envStr("LLM_BACKEND_TYPE", "ollama"),

		OpenAIAPIKey:  envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL: envStr("OPENAI_BASE_URL", ""),
		OpenAIModel:   envStr("OPENAI_MODEL", ""),

		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("ANTHROPIC_MODEL", ""),

		OllamaBaseURL: envStr("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:   envStr("OLLAMA_MODEL", ""),
		LLMTimeout:    envDuration("LLM_TIMEOUT", 5*time.Minute),

		TabularDSN:   envStr("TABULAR_DSN", ""),
		TablePrefix:  envStr("TABLE_PREFIX", ""),
		QueryTimeout: envDuration("QUERY_TIMEOUT", 30*time.Second),

		GraphBaseURL: envStr("GRAPH_ENGINE_URL", ""),
		GraphTimeout: envDuration("GRAPH_TIMEOUT", 2*time.Minute),

		DefaultRowLimit:  envInt("SQL_DEFAULT_LIMIT", 1000),
		EvidenceRowLimit: envInt("EVIDENCE_ROW_LIMIT", 50),
		MaxPlanSteps:     envInt("NL2SQL_MAX_STEPS", 4),
		SQLCommandPrefix: envStr("SQL_COMMAND_PREFIX", "/sql "),
		HistoryMessages:  envInt("HISTORY_MESSAGES", 6),

		APIKey: envStr("ORCHESTRATOR_API_KEY", ""),

		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func envStr(key, fallback string) string {
	// Container runtimes sometimes pass quoted values through literally.
	v := strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := envStr(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := envStr(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
