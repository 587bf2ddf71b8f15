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
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*PostgresClient, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresClientFromDB(db, 5*time.Second), mock
}

func TestPostgresExecute_NormalizesRowsToMaps(t *testing.T) {
	client, mock := newMockClient(t)

	query := "SELECT id, status FROM app_tickets LIMIT 2"
	mock.ExpectQuery(query).WillReturnRows(
		sqlmock.NewRows([]string{"id", "status"}).
			AddRow(int64(1), "open").
			AddRow(int64(2), "closed"))

	result, err := client.Execute(context.Background(), query)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "status"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, int64(1), result.Rows[0]["id"])
	assert.Equal(t, "open", result.Rows[0]["status"])
	assert.Equal(t, "closed", result.Rows[1]["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresExecute_ConvertsBytesToString(t *testing.T) {
	client, mock := newMockClient(t)

	query := "SELECT note FROM app_notes LIMIT 1"
	mock.ExpectQuery(query).WillReturnRows(
		sqlmock.NewRows([]string{"note"}).AddRow([]byte("hello")))

	result, err := client.Execute(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "hello", result.Rows[0]["note"], "byte columns should surface as strings")
}

func TestPostgresExecute_EmptyResult(t *testing.T) {
	client, mock := newMockClient(t)

	query := "SELECT id FROM app_tickets WHERE 1=0 LIMIT 10"
	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	result, err := client.Execute(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, result.Columns)
	assert.Empty(t, result.Rows)
}

func TestPostgresExecute_QueryErrorWrapsUnavailable(t *testing.T) {
	client, mock := newMockClient(t)

	query := "SELECT id FROM app_tickets LIMIT 10"
	mock.ExpectQuery(query).WillReturnError(errors.New("connection refused"))

	_, err := client.Execute(context.Background(), query)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestNormalizeRows_PadsAndTruncates(t *testing.T) {
	columns := []string{"a", "b"}
	rows := NormalizeRows(columns, [][]any{
		{1},
		{2, 3, 4},
	})
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0]["a"])
	assert.Nil(t, rows[0]["b"], "short rows are padded with nil")
	assert.Equal(t, 3, rows[1]["b"])
	assert.NotContains(t, rows[1], "c")
}

func TestIntrospectSchema_FiltersByTableNamePrefix(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	client := NewPostgresClientFromDB(db, 5*time.Second)

	mock.ExpectQuery("information_schema.columns").WillReturnRows(
		sqlmock.NewRows([]string{"table_name", "column_name"}).
			AddRow("sales_orders", "id").
			AddRow("sales_orders", "amount").
			AddRow("audit_log", "id"))

	schema, err := client.IntrospectSchema(context.Background(), "sales_")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "amount"}, schema["sales_orders"])
	assert.NotContains(t, schema, "audit_log", "prefix filters on the bare table name")
}
