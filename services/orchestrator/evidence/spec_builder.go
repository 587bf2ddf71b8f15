// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evidence

import (
	"strings"

	"github.com/queryline/queryline/services/orchestrator/datatypes"
)

// Column-name preference lists, tried in order, case-insensitive.
var (
	pkExactCandidates   = []string{"id", "pk", "uuid"}
	titleCandidates     = []string{"title", "name", "subject", "summary", "label"}
	statusCandidates    = []string{"status", "state", "stage"}
	createdAtCandidates = []string{"created_at", "created", "created_on", "opened_at", "timestamp"}
	defaultEntityLabel  = "records"
)

// entityLabels lists recognized domain keywords with their display
// labels, tried in order against the label hint and the column names.
var entityLabels = []struct {
	keyword string
	label   string
}{
	{"ticket", "tickets"},
	{"order", "orders"},
	{"invoice", "invoices"},
	{"customer", "customers"},
	{"user", "users"},
	{"incident", "incidents"},
	{"product", "products"},
	{"payment", "payments"},
	{"employee", "employees"},
	{"account", "accounts"},
}

// BuildSpec infers a display contract from a result's column names and a
// textual hint (typically the question or table name). The spec drives
// how the inspection panel renders evidence rows; it never influences
// which rows are fetched.
//
// Primary-key choice: an exact id-like column, then any "*_id" column,
// then the first column. Title/status/created-at are included only when a
// preferred column is actually present.
func BuildSpec(columns []string, labelHint string, limit int) datatypes.EvidenceSpec {
	spec := datatypes.EvidenceSpec{
		EntityLabel: defaultEntityLabel,
		Columns:     columns,
		Limit:       limit,
	}
	if len(columns) == 0 {
		return spec
	}

	spec.PK = pickPrimaryKey(columns)
	spec.Display.Title = pickColumn(columns, titleCandidates)
	spec.Display.Status = pickColumn(columns, statusCandidates)
	spec.Display.CreatedAt = pickColumn(columns, createdAtCandidates)

	haystack := strings.ToLower(labelHint + " " + strings.Join(columns, " "))
	for _, e := range entityLabels {
		if strings.Contains(haystack, e.keyword) {
			spec.EntityLabel = e.label
			break
		}
	}
	return spec
}

func pickPrimaryKey(columns []string) string {
	if c := pickColumn(columns, pkExactCandidates); c != "" {
		return c
	}
	for _, col := range columns {
		if strings.HasSuffix(strings.ToLower(col), "_id") {
			return col
		}
	}
	return columns[0]
}

// pickColumn returns the first column matching the candidate list, in
// candidate-preference order, or "".
func pickColumn(columns []string, candidates []string) string {
	for _, want := range candidates {
		for _, col := range columns {
			if strings.EqualFold(col, want) {
				return col
			}
		}
	}
	return ""
}
