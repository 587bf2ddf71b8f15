// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evidence turns an executed query into material a UI can show
// alongside the answer: a bounded row-level detail query derived from an
// aggregate (deriver.go) and a display contract inferred from result
// columns (spec_builder.go).
//
// Derivation is a best-effort textual transform, not a SQL parser. When
// the statement cannot be confidently rewritten the deriver abstains;
// callers treat an abstention as "no evidence available", never as an
// error. Evidence is an overlay — it must not affect the primary answer.
package evidence

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/queryline/queryline/services/orchestrator/sqlguard"
)

// Deriver rewrites aggregate SELECTs into bounded detail SELECTs over the
// same FROM/WHERE clause. Safe for concurrent use.
type Deriver struct {
	guard *sqlguard.Guard
}

// NewDeriver creates a Deriver that re-validates every rebuilt statement
// through guard before returning it.
func NewDeriver(guard *sqlguard.Guard) *Deriver {
	return &Deriver{guard: guard}
}

var (
	selectStarRe  = regexp.MustCompile(`(?i)^\s*select\s+\*`)
	aggregateRe   = regexp.MustCompile(`(?i)\b(count|avg|min|max|sum)\s*\(`)
	fromRe        = regexp.MustCompile(`(?i)\bfrom\b`)
	whereRe       = regexp.MustCompile(`(?i)\bwhere\b`)
	limitValueRe  = regexp.MustCompile(`(?i)\blimit\s+(\d+)`)
	fromStopRe    = regexp.MustCompile(`(?i)\b(group\s+by|order\s+by|limit|offset)\b`)
	whereStopRe   = regexp.MustCompile(`(?i)\b(group\s+by|order\s+by|limit|offset)\b`)
)

// Derive produces a row-level SELECT bounded by limit that explains an
// aggregate result, or ok=false when no confident rewrite exists.
//
// Already-detail statements (leading "select *", or no aggregate call)
// are returned with only their LIMIT normalized. Aggregates are rebuilt
// as SELECT * over the original FROM/WHERE, truncated before any GROUP
// BY/ORDER BY/LIMIT/OFFSET, and re-validated by the safety guard.
func (d *Deriver) Derive(sql string, limit int) (string, bool) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" || limit <= 0 {
		return "", false
	}
	scannable := sqlguard.BlankLiterals(trimmed)

	if selectStarRe.MatchString(scannable) {
		return normalizeLimit(trimmed, scannable, limit), true
	}
	if !aggregateRe.MatchString(scannable) {
		// Already row-level; only the bound needs enforcing.
		return normalizeLimit(trimmed, scannable, limit), true
	}

	fromLoc := fromRe.FindStringIndex(scannable)
	if fromLoc == nil {
		return "", false
	}
	tail := trimmed[fromLoc[1]:]
	tailScan := scannable[fromLoc[1]:]

	// Everything from ORDER BY/LIMIT/OFFSET (and a bare GROUP BY) onward
	// belongs to the aggregate shape, not the underlying rows.
	fromPart := tail
	fromScan := tailScan
	var wherePart string

	if w := whereRe.FindStringIndex(fromScan); w != nil {
		whereTail := fromPart[w[1]:]
		whereScan := fromScan[w[1]:]
		if stop := whereStopRe.FindStringIndex(whereScan); stop != nil {
			whereTail = whereTail[:stop[0]]
		}
		wherePart = strings.TrimSpace(whereTail)
		fromPart = fromPart[:w[0]]
	} else if stop := fromStopRe.FindStringIndex(fromScan); stop != nil {
		fromPart = fromPart[:stop[0]]
	}
	fromPart = strings.TrimSpace(fromPart)
	if fromPart == "" {
		return "", false
	}

	rebuilt := "SELECT * FROM " + fromPart
	if wherePart != "" {
		rebuilt += " WHERE " + wherePart
	}
	rebuilt += fmt.Sprintf(" LIMIT %d", limit)

	validated, err := d.guard.Validate(rebuilt)
	if err != nil {
		return "", false
	}
	return validated, true
}

// normalizeLimit appends LIMIT n when absent and clamps an existing
// larger LIMIT down to n. With several LIMIT clauses the last one is the
// outer row bound; earlier ones sit in subqueries and only bound
// intermediate sets. scannable is the literal-blanked twin of sql.
func normalizeLimit(sql, scannable string, limit int) string {
	ms := limitValueRe.FindAllStringSubmatchIndex(scannable, -1)
	if len(ms) > 0 {
		m := ms[len(ms)-1]
		existing := sql[m[2]:m[3]]
		var n int
		_, _ = fmt.Sscanf(existing, "%d", &n)
		if n > limit {
			return sql[:m[2]] + fmt.Sprintf("%d", limit) + sql[m[3]:]
		}
		return sql
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(sql, " \t\n"), limit)
}
