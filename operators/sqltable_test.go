//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoFlow.
//
// GoFlow is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoFlow is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoFlow. If not, see https://www.gnu.org/licenses/.

package operators

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goflow/core"
)

func TestInsertSQL(t *testing.T) {
	columns := []string{"id", "name", "score"}
	tests := []struct {
		name string
		opts SQLTableOptions
		want string
	}{
		{
			name: "plain",
			want: `INSERT INTO "users" ("id", "name", "score") VALUES ($1, $2, $3)`,
		},
		{
			name: "ignore",
			opts: SQLTableOptions{Conflict: ConflictIgnore, KeyColumns: []string{"id"}},
			want: `INSERT INTO "users" ("id", "name", "score") VALUES ($1, $2, $3) ON CONFLICT ("id") DO NOTHING`,
		},
		{
			name: "update",
			opts: SQLTableOptions{Conflict: ConflictUpdate, KeyColumns: []string{"id"}},
			want: `INSERT INTO "users" ("id", "name", "score") VALUES ($1, $2, $3) ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "score" = EXCLUDED."score"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, insertSQL(quoteTable("users"), columns, tt.opts))
		})
	}
}

func TestCreateTableSQL(t *testing.T) {
	first := core.Record{"id": int64(1), "ok": true, "score": 1.5, "at": time.Now(), "note": nil}
	got := createTableSQL(quoteTable("mart.scores"), []string{"id", "ok", "score", "at", "note"}, first)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "mart"."scores" ("id" BIGINT, "ok" BOOLEAN, "score" DOUBLE PRECISION, "at" TIMESTAMPTZ, "note" TEXT)`, got)
}

func TestSQLTable(t *testing.T) {
	dsn := os.Getenv("GOFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GOFLOW_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `CREATE TEMP TABLE goflow_sink_test (id BIGINT PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	first := input(map[string]interface{}{"extract": []core.Record{{"id": 1, "name": "ada"}, {"id": 2, "name": "bob"}}})
	n, err := Load(SQLTable(db, "goflow_sink_test"))(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	again := input(map[string]interface{}{"extract": []core.Record{{"id": 2, "name": "bea"}, {"id": 3, "name": "cy"}}})
	_, err = Load(SQLTable(db, "goflow_sink_test"))(ctx, again)
	assert.Error(t, err, "duplicate key without conflict handling")

	_, err = Load(SQLTable(db, "goflow_sink_test", WithConflict(ConflictUpdate, "id")))(ctx, again)
	require.NoError(t, err)

	out, err := Query(db, `SELECT id, name FROM goflow_sink_test ORDER BY id`)(ctx, input(nil))
	require.NoError(t, err)
	assert.Equal(t, []core.Record{
		{"id": int64(1), "name": "ada"},
		{"id": int64(2), "name": "bea"},
		{"id": int64(3), "name": "cy"},
	}, out)
}

func TestSQLTableNeedsKeyForConflicts(t *testing.T) {
	_, err := SQLTable(nil, "t", WithConflict(ConflictIgnore))(context.Background(), input(nil))
	assert.ErrorContains(t, err, "needs key columns")
}
