// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Evidence types: the {query, result} pairs that ground a synthesized
// answer, plus the display contract inferred from a result's columns.
package datatypes

// Schema maps table names to their ordered column lists. It is planner
// input only; this service never mutates it.
type Schema map[string][]string

// Tables returns the table names in the schema, order unspecified.
func (s Schema) Tables() []string {
	tables := make([]string, 0, len(s))
	for t := range s {
		tables = append(tables, t)
	}
	return tables
}

// PlanStep is one SQL query with a stated purpose inside a multi-step
// plan. Steps execute sequentially; a later step sees nothing of an
// earlier one except its materialized evidence.
type PlanStep struct {
	Purpose string `json:"purpose"`
	SQL     string `json:"sql"`
}

// EvidenceItem is one executed query together with its normalized result,
// accumulated per turn and consumed once by answer synthesis.
type EvidenceItem struct {
	Purpose string           `json:"purpose"`
	SQL     string           `json:"sql"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// EvidenceDisplay names the optional fields an inspection panel may
// surface for each evidence row.
type EvidenceDisplay struct {
	Title     string `json:"title,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// EvidenceSpec is the display contract inferred from a result's column
// names. Presentation metadata only: it must never influence which rows
// are fetched.
type EvidenceSpec struct {
	EntityLabel string          `json:"entity_label"`
	PK          string          `json:"pk"`
	Display     EvidenceDisplay `json:"display"`
	Columns     []string        `json:"columns"`
	Limit       int             `json:"limit"`
}
