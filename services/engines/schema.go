// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engines

import (
	"context"
	"fmt"
	"strings"

	"github.com/queryline/queryline/services/orchestrator/datatypes"
)

// IntrospectSchema reads table and column names from the warehouse's
// information_schema, restricted to tables carrying prefix when one is
// given. Column order follows ordinal position so prompts render columns
// the way the tables define them.
func (c *PostgresClient) IntrospectSchema(ctx context.Context, prefix string) (datatypes.Schema, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	const query = `SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	schema := datatypes.Schema{}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		if prefix != "" && !strings.HasPrefix(table, prefix) {
			continue
		}
		schema[table] = append(schema[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}
	return schema, nil
}
