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
	"fmt"
	"sort"
	"strings"

	"github.com/queryline/queryline/services/orchestrator/datatypes"
)

const (
	// maxSampleRowsPerTable bounds how many example rows each table
	// contributes to the prompt.
	maxSampleRowsPerTable = 3

	// maxSampleValueLen bounds each rendered cell value. Long text
	// columns would otherwise dominate the prompt.
	maxSampleValueLen = 80
)

// renderSchema serializes a schema (and optional sample rows) into the
// fenced block shared by the single-shot and planning prompts. Tables
// are rendered in sorted order so the same schema always produces the
// same prompt.
func renderSchema(schema datatypes.Schema, samples map[string][]map[string]any) string {
	tables := schema.Tables()
	sort.Strings(tables)

	var b strings.Builder
	b.WriteString("```\n")
	for _, table := range tables {
		columns := schema[table]
		b.WriteString(table)
		b.WriteString("(")
		b.WriteString(strings.Join(columns, ", "))
		b.WriteString(")\n")

		rows := samples[table]
		if len(rows) > maxSampleRowsPerTable {
			rows = rows[:maxSampleRowsPerTable]
		}
		for _, row := range rows {
			cells := make([]string, 0, len(columns))
			for _, col := range columns {
				cells = append(cells, truncateValue(row[col]))
			}
			b.WriteString("  example: ")
			b.WriteString(strings.Join(cells, " | "))
			b.WriteString("\n")
		}
	}
	b.WriteString("```")
	return b.String()
}

func truncateValue(v any) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprintf("%v", v)
	if len(s) > maxSampleValueLen {
		return s[:maxSampleValueLen] + "…"
	}
	return s
}

func singleShotPrompt(question string, schemaBlock string) string {
	var b strings.Builder
	b.WriteString("You translate questions about tabular business data into SQL.\n")
	b.WriteString("Schema:\n")
	b.WriteString(schemaBlock)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Produce exactly one SELECT statement.\n")
	b.WriteString("- Use only the tables and columns listed above.\n")
	b.WriteString("- No INSERT, UPDATE, DELETE, DDL, or semicolons.\n")
	b.WriteString("- Reply with the SQL only, no explanation.\n\n")
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

func planPrompt(question string, schemaBlock string, maxSteps int) string {
	var b strings.Builder
	b.WriteString("You decompose a question about tabular business data into a short ordered list of SELECT queries.\n")
	b.WriteString("Schema:\n")
	b.WriteString(schemaBlock)
	b.WriteString("\n\nRules:\n")
	fmt.Fprintf(&b, "- At most %d queries.\n", maxSteps)
	b.WriteString("- Each query is a single SELECT over the tables above; no writes, no semicolons.\n")
	b.WriteString("- Each query gets a one-line purpose describing what it establishes.\n")
	b.WriteString("- Reply with JSON only, shaped exactly as {\"queries\": [{\"purpose\": \"...\", \"sql\": \"...\"}]}.\n\n")
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

func synthesisPrompt(question string, evidence []datatypes.EvidenceItem) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the query results below. ")
	b.WriteString("If the results do not contain the answer, say so plainly.\n\n")
	for i, item := range evidence {
		fmt.Fprintf(&b, "Result %d", i+1)
		if item.Purpose != "" {
			fmt.Fprintf(&b, " (%s)", item.Purpose)
		}
		b.WriteString(":\n")
		fmt.Fprintf(&b, "query: %s\n", item.SQL)
		fmt.Fprintf(&b, "columns: %s\n", strings.Join(item.Columns, ", "))
		for j, row := range item.Rows {
			if j >= maxSynthesisRowsPerItem {
				fmt.Fprintf(&b, "  … %d more rows\n", len(item.Rows)-j)
				break
			}
			cells := make([]string, 0, len(item.Columns))
			for _, col := range item.Columns {
				cells = append(cells, truncateValue(row[col]))
			}
			b.WriteString("  ")
			b.WriteString(strings.Join(cells, " | "))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// maxSynthesisRowsPerItem bounds how many rows of each evidence item the
// synthesizer sees.
const maxSynthesisRowsPerItem = 25
