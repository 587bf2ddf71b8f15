// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engines holds the clients for the external query engines the
// dispatcher drives: a tabular SQL engine and a read-only graph engine.
// Both are session-less from this service's perspective and are assumed
// read-only; every statement sent to them has already passed the safety
// guard.
package engines

import (
	"context"
	"errors"
)

// ErrEngineUnavailable wraps transport-level failures (timeout,
// connection refused) from a query engine.
var ErrEngineUnavailable = errors.New("query engine unavailable")

// Result is a normalized tabular result: rows are column-keyed maps
// regardless of whether the engine returned positional or keyed rows.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// TabularClient executes read-only SQL against the tabular engine. No
// implicit limit is applied; callers bound their own statements.
type TabularClient interface {
	Execute(ctx context.Context, sql string) (Result, error)
}

// NormalizeRows converts positional rows into column-keyed maps. Short
// rows are padded with nil, extra cells are dropped.
func NormalizeRows(columns []string, positional [][]any) []map[string]any {
	out := make([]map[string]any, 0, len(positional))
	for _, row := range positional {
		m := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(row) {
				m[col] = row[i]
			} else {
				m[col] = nil
			}
		}
		out = append(out, m)
	}
	return out
}
