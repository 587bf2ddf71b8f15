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
	"database/sql"
	"fmt"
	"time"

	// Registers the pgx stdlib driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresClient executes SQL against a Postgres-compatible warehouse
// through database/sql with the pgx driver.
type PostgresClient struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresClient opens a pooled connection to dsn. timeout bounds each
// Execute call.
func NewPostgresClient(dsn string, timeout time.Duration) (*PostgresClient, error) {
	if dsn == "" {
		return nil, fmt.Errorf("tabular engine dsn not configured")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open tabular engine: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PostgresClient{db: db, timeout: timeout}, nil
}

// NewPostgresClientFromDB wraps an existing handle; used by tests and by
// callers that manage the pool themselves.
func NewPostgresClientFromDB(db *sql.DB, timeout time.Duration) *PostgresClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PostgresClient{db: db, timeout: timeout}
}

// HealthCheck pings the engine.
func (c *PostgresClient) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping tabular engine: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *PostgresClient) Close() error {
	return c.db.Close()
}

// Execute implements TabularClient. Rows are scanned generically and
// normalized to column-keyed maps; byte slices become strings so results
// serialize as text rather than base64.
func (c *PostgresClient) Execute(ctx context.Context, query string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read result columns: %w", err)
	}

	var positional [][]any
	for rows.Next() {
		cells := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("scan result row: %w", err)
		}
		for i, v := range cells {
			if b, ok := v.([]byte); ok {
				cells[i] = string(b)
			}
		}
		positional = append(positional, cells)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate result rows: %w", err)
	}

	return Result{
		Columns: columns,
		Rows:    NormalizeRows(columns, positional),
	}, nil
}
