// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlguard enforces the read-only SQL contract for every
// statement this service sends to a query engine, whether user-typed or
// model-generated. Validation is textual and deterministic: the same
// input always yields the same verdict. Nothing here executes SQL.
package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeQuery is returned for any statement that fails validation.
// A statement rejected here is never executed.
var ErrUnsafeQuery = errors.New("unsafe query")

// =============================================================================
// Configuration
// =============================================================================

// Config holds the guard's normalization settings.
//
//   - DefaultLimit: row cap appended when a statement carries no LIMIT.
//   - TablePrefix: when non-empty, every table referenced after FROM/JOIN
//     must carry this table-name prefix (e.g. "sales_"). Prevents a
//     generated statement from addressing datasets the caller cannot see.
//     Schema introspection filters by the same value over bare table
//     names in the public schema, so a schema-qualified value like
//     "analytics." matches nothing there; use a plain name prefix.
type Config struct {
	DefaultLimit int
	TablePrefix  string
}

// Guard validates and normalizes SQL statements. Zero-state and safe for
// concurrent use.
type Guard struct {
	cfg Config
}

// New creates a Guard. A DefaultLimit of zero disables limit injection.
func New(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// =============================================================================
// Validation
// =============================================================================

var (
	forbiddenKeywords = []string{
		"insert", "update", "delete", "alter", "drop", "create", "grant", "revoke",
	}

	limitClauseRe = regexp.MustCompile(`(?i)\blimit\s+\d+`)
	tableRefRe    = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][\w.]*)`)
)

// dateFnRewrites maps vendor date-function spellings to the canonical
// form the query engines accept. Applied outside string literals only.
var dateFnRewrites = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\bcurdate\s*\(\s*\)`), "CURRENT_DATE"},
	{regexp.MustCompile(`(?i)\bgetdate\s*\(\s*\)`), "CURRENT_TIMESTAMP"},
	{regexp.MustCompile(`(?i)\bsysdate\s*(\(\s*\))?`), "CURRENT_TIMESTAMP"},
	{regexp.MustCompile(`(?i)\bnow\s*\(\s*\)`), "CURRENT_TIMESTAMP"},
}

// Validate checks that sql is a single read-only SELECT and returns it
// normalized: vendor date functions rewritten, a duplicate trailing LIMIT
// stripped, and a default LIMIT appended when none is present.
//
// Rules, in order:
//  1. The trimmed text must start with "select" (case-insensitive).
//  2. Outside string literals the text must contain no ";" and none of
//     the DML/DDL keywords (insert, update, delete, alter, drop, create,
//     grant, revoke).
//  3. When a table prefix is configured, every FROM/JOIN table reference
//     must carry it.
//
// Pure validation and text rewriting; no side effects.
func (g *Guard) Validate(sql string) (string, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty statement", ErrUnsafeQuery)
	}
	if !strings.HasPrefix(strings.ToLower(trimmed), "select") {
		return "", fmt.Errorf("%w: only SELECT statements are allowed", ErrUnsafeQuery)
	}

	// Literal-blanked copy: every char inside single-quoted strings is
	// replaced so keyword scans cannot be fooled by quoted text.
	scannable := blankStringLiterals(trimmed)

	if strings.Contains(scannable, ";") {
		return "", fmt.Errorf("%w: statement separators are not allowed", ErrUnsafeQuery)
	}
	lower := strings.ToLower(scannable)
	for _, kw := range forbiddenKeywords {
		if containsWord(lower, kw) {
			return "", fmt.Errorf("%w: forbidden keyword %q", ErrUnsafeQuery, kw)
		}
	}

	if g.cfg.TablePrefix != "" {
		for _, m := range tableRefRe.FindAllStringSubmatch(scannable, -1) {
			table := m[1]
			if !strings.HasPrefix(strings.ToLower(table), strings.ToLower(g.cfg.TablePrefix)) {
				return "", fmt.Errorf("%w: table %q lacks required prefix %q",
					ErrUnsafeQuery, table, g.cfg.TablePrefix)
			}
		}
	}

	normalized := g.rewriteDateFunctions(trimmed)
	normalized = g.normalizeLimit(normalized)
	return normalized, nil
}

// rewriteDateFunctions canonicalizes vendor date-function calls. Pieces
// inside string literals are left untouched.
func (g *Guard) rewriteDateFunctions(sql string) string {
	var out strings.Builder
	for i, part := range splitOnLiterals(sql) {
		if i%2 == 0 {
			for _, r := range dateFnRewrites {
				part = r.pattern.ReplaceAllString(part, r.replacement)
			}
		}
		out.WriteString(part)
	}
	return out.String()
}

// normalizeLimit appends the default LIMIT when none is present and
// strips a duplicated trailing LIMIT. Only two adjacent clauses at the
// very end of the statement count as a duplicate, a known generation
// artifact; a LIMIT inside a subquery followed by a real outer LIMIT is
// two distinct bounds and both stay.
func (g *Guard) normalizeLimit(sql string) string {
	scannable := blankStringLiterals(sql)

	locs := limitClauseRe.FindAllStringIndex(scannable, -1)
	if len(locs) >= 2 {
		last, prev := locs[len(locs)-1], locs[len(locs)-2]
		trailing := strings.TrimSpace(scannable[last[1]:]) == ""
		adjacent := strings.TrimSpace(scannable[prev[1]:last[0]]) == ""
		if trailing && adjacent {
			sql = strings.TrimRight(sql[:last[0]], " \t\n")
			scannable = blankStringLiterals(sql)
		}
	}

	if g.cfg.DefaultLimit > 0 && !limitClauseRe.MatchString(scannable) {
		sql = fmt.Sprintf("%s LIMIT %d", strings.TrimRight(sql, " \t\n"), g.cfg.DefaultLimit)
	}
	return sql
}

// =============================================================================
// Literal Scanning Helpers
// =============================================================================

// splitOnLiterals splits sql into alternating non-literal and literal
// segments. Even indexes are outside string literals, odd indexes are the
// literals themselves (quotes included). Doubled quotes ('') inside a
// literal are handled.
func splitOnLiterals(sql string) []string {
	var parts []string
	var cur strings.Builder
	inLiteral := false
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\'' {
			if inLiteral && i+1 < len(runes) && runes[i+1] == '\'' {
				cur.WriteRune(r)
				cur.WriteRune(runes[i+1])
				i++
				continue
			}
			if inLiteral {
				cur.WriteRune(r)
				parts = append(parts, cur.String())
				cur.Reset()
				inLiteral = false
				continue
			}
			parts = append(parts, cur.String())
			cur.Reset()
			cur.WriteRune(r)
			inLiteral = true
			continue
		}
		cur.WriteRune(r)
	}
	parts = append(parts, cur.String())
	if inLiteral {
		// Unterminated literal; treat the tail as literal text.
		return parts
	}
	return parts
}

// BlankLiterals returns sql with the contents of single-quoted string
// literals replaced by underscores. Length and positions are preserved,
// so clause scans on the result map back onto the original text. Shared
// with the evidence deriver, which performs the same kind of textual
// clause surgery.
func BlankLiterals(sql string) string {
	return blankStringLiterals(sql)
}

// blankStringLiterals replaces the contents of single-quoted literals
// with underscores, preserving length and positions for index math.
func blankStringLiterals(sql string) string {
	var out strings.Builder
	for i, part := range splitOnLiterals(sql) {
		if i%2 == 1 {
			out.WriteString("'")
			out.WriteString(strings.Repeat("_", max(len(part)-2, 0)))
			out.WriteString("'")
			continue
		}
		out.WriteString(part)
	}
	return out.String()
}

// containsWord reports whether lower contains kw as a whole word.
func containsWord(lower, kw string) bool {
	idx := 0
	for {
		j := strings.Index(lower[idx:], kw)
		if j < 0 {
			return false
		}
		start := idx + j
		end := start + len(kw)
		beforeOK := start == 0 || !isWordByte(lower[start-1])
		afterOK := end == len(lower) || !isWordByte(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
