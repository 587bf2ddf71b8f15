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
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestBuildSpec_TicketColumns verifies the canonical ticket-shaped result.
func TestBuildSpec_TicketColumns(t *testing.T) {
	spec := BuildSpec([]string{"ticket_id", "title", "status", "created_at"}, "tickets", 50)

	assert.Equal(t, "ticket_id", spec.PK)
	assert.Equal(t, "title", spec.Display.Title)
	assert.Equal(t, "status", spec.Display.Status)
	assert.Equal(t, "created_at", spec.Display.CreatedAt)
	assert.Equal(t, "tickets", spec.EntityLabel)
	assert.Equal(t, 50, spec.Limit)
	assert.Equal(t, []string{"ticket_id", "title", "status", "created_at"}, spec.Columns)
}

// TestBuildSpec_ExactIDPreferredOverSuffix verifies pk preference order.
func TestBuildSpec_ExactIDPreferredOverSuffix(t *testing.T) {
	spec := BuildSpec([]string{"order_id", "id", "name"}, "", 10)
	assert.Equal(t, "id", spec.PK)
}

// TestBuildSpec_FallsBackToFirstColumn verifies pk fallback when nothing
// id-like exists.
func TestBuildSpec_FallsBackToFirstColumn(t *testing.T) {
	spec := BuildSpec([]string{"region", "total"}, "", 10)
	assert.Equal(t, "region", spec.PK)
	assert.Empty(t, spec.Display.Title)
	assert.Empty(t, spec.Display.Status)
	assert.Empty(t, spec.Display.CreatedAt)
}

// TestBuildSpec_LabelFromColumns verifies keyword recognition from column
// names when the hint is generic.
func TestBuildSpec_LabelFromColumns(t *testing.T) {
	spec := BuildSpec([]string{"invoice_id", "amount"}, "show me everything", 10)
	assert.Equal(t, "invoices", spec.EntityLabel)
}

// TestBuildSpec_DefaultLabel verifies the generic fallback label.
func TestBuildSpec_DefaultLabel(t *testing.T) {
	spec := BuildSpec([]string{"region", "total"}, "totals by region", 10)
	assert.Equal(t, "records", spec.EntityLabel)
}

// TestBuildSpec_EmptyColumns verifies a usable spec for empty results.
func TestBuildSpec_EmptyColumns(t *testing.T) {
	spec := BuildSpec(nil, "tickets", 10)
	assert.Equal(t, "records", spec.EntityLabel)
	assert.Empty(t, spec.PK)
	assert.Equal(t, 10, spec.Limit)
}
