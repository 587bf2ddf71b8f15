// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "12210", cfg.Port)
	assert.Equal(t, "ollama", cfg.LLMBackend)
	assert.Equal(t, 1000, cfg.DefaultRowLimit)
	assert.Equal(t, 50, cfg.EvidenceRowLimit)
	assert.Equal(t, 4, cfg.MaxPlanSteps)
	assert.Equal(t, "/sql ", cfg.SQLCommandPrefix)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Empty(t, cfg.TabularDSN)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ORCHESTRATOR_PORT", "8080")
	t.Setenv("LLM_BACKEND_TYPE", "openai")
	t.Setenv("SQL_DEFAULT_LIMIT", "250")
	t.Setenv("QUERY_TIMEOUT", "10s")
	t.Setenv("TABULAR_DSN", "postgres://app:secret@db:5432/warehouse")

	cfg := FromEnv()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "openai", cfg.LLMBackend)
	assert.Equal(t, 250, cfg.DefaultRowLimit)
	assert.Equal(t, 10*time.Second, cfg.QueryTimeout)
	assert.Equal(t, "postgres://app:secret@db:5432/warehouse", cfg.TabularDSN)
}

func TestFromEnv_QuotedAndInvalidValues(t *testing.T) {
	t.Setenv("ORCHESTRATOR_PORT", `"9090"`)
	t.Setenv("SQL_DEFAULT_LIMIT", "not-a-number")
	t.Setenv("QUERY_TIMEOUT", "-5s")

	cfg := FromEnv()
	assert.Equal(t, "9090", cfg.Port, "quotes passed by the container runtime are stripped")
	assert.Equal(t, 1000, cfg.DefaultRowLimit, "invalid ints fall back to defaults")
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout, "non-positive durations fall back")
}
