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
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/aaronlmathis/goflow/core"
	"github.com/aaronlmathis/goflow/dag"
)

// Conflict selects what an insert does when a key already exists.
type Conflict int

const (
	// ConflictError fails the load.
	ConflictError Conflict = iota
	// ConflictIgnore keeps the existing row (ON CONFLICT DO NOTHING).
	ConflictIgnore
	// ConflictUpdate overwrites the non-key columns (ON CONFLICT DO UPDATE).
	ConflictUpdate
)

// SQLTableOptions configures a table sink.
type SQLTableOptions struct {
	Columns     []string // Columns to insert; defaults to the fields of the first record
	CreateTable bool     // CREATE TABLE IF NOT EXISTS with types inferred from the first record
	Conflict    Conflict
	KeyColumns  []string // Conflict target for ConflictIgnore and ConflictUpdate
}

// SQLTableOption represents a configuration function for SQLTableOptions.
type SQLTableOption func(*SQLTableOptions)

// WithColumns fixes the inserted columns.
func WithColumns(columns ...string) SQLTableOption {
	return func(opts *SQLTableOptions) {
		opts.Columns = columns
	}
}

// WithCreateTable creates the table on first write when it is missing.
func WithCreateTable(create bool) SQLTableOption {
	return func(opts *SQLTableOptions) {
		opts.CreateTable = create
	}
}

// WithConflict sets the conflict handling and its key columns.
func WithConflict(conflict Conflict, keyColumns ...string) SQLTableOption {
	return func(opts *SQLTableOptions) {
		opts.Conflict = conflict
		opts.KeyColumns = keyColumns
	}
}

// SQLTable inserts records into table inside one transaction per attempt,
// committed on Flush. Statements use lib/pq placeholders and quoting.
func SQLTable(db *sql.DB, table string, opts ...SQLTableOption) SinkFactory {
	options := SQLTableOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return func(ctx context.Context, in dag.Input) (core.DataSink, error) {
		if options.Conflict != ConflictError && len(options.KeyColumns) == 0 {
			return nil, errors.New("conflict handling needs key columns")
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin: %w", err)
		}
		return &SQLTableSink{tx: tx, table: quoteTable(table), opts: options}, nil
	}
}

// SQLTableSink is the sink created by SQLTable.
type SQLTableSink struct {
	tx      *sql.Tx
	table   string
	opts    SQLTableOptions
	columns []string
	stmt    *sql.Stmt
	done    bool
}

func (s *SQLTableSink) Write(ctx context.Context, record core.Record) error {
	if s.stmt == nil {
		if err := s.prepare(ctx, record); err != nil {
			return err
		}
	}
	values := make([]interface{}, len(s.columns))
	for i, col := range s.columns {
		values[i] = sqlValue(record[col])
	}
	if _, err := s.stmt.ExecContext(ctx, values...); err != nil {
		return fmt.Errorf("insert into %s: %w", s.table, err)
	}
	return nil
}

func (s *SQLTableSink) prepare(ctx context.Context, first core.Record) error {
	s.columns = s.opts.Columns
	if len(s.columns) == 0 {
		s.columns = first.Fields()
	}
	if s.opts.CreateTable {
		if _, err := s.tx.ExecContext(ctx, createTableSQL(s.table, s.columns, first)); err != nil {
			return fmt.Errorf("create table %s: %w", s.table, err)
		}
	}
	stmt, err := s.tx.PrepareContext(ctx, insertSQL(s.table, s.columns, s.opts))
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", s.table, err)
	}
	s.stmt = stmt
	return nil
}

// Flush commits the inserted rows.
func (s *SQLTableSink) Flush() error {
	if s.stmt != nil {
		s.stmt.Close()
	}
	s.done = true
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", s.table, err)
	}
	return nil
}

// Close rolls back rows that were never flushed.
func (s *SQLTableSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if s.stmt != nil {
		s.stmt.Close()
	}
	return s.tx.Rollback()
}

func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = pq.QuoteIdentifier(name)
	}
	return strings.Join(quoted, ", ")
}

func insertSQL(table string, columns []string, opts SQLTableOptions) string {
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, quoteAll(columns), strings.Join(placeholders, ", "))

	switch opts.Conflict {
	case ConflictIgnore:
		query += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", quoteAll(opts.KeyColumns))
	case ConflictUpdate:
		var updates []string
		for _, col := range columns {
			if !slices.Contains(opts.KeyColumns, col) {
				q := pq.QuoteIdentifier(col)
				updates = append(updates, q+" = EXCLUDED."+q)
			}
		}
		if len(updates) == 0 {
			query += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", quoteAll(opts.KeyColumns))
		} else {
			query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", quoteAll(opts.KeyColumns), strings.Join(updates, ", "))
		}
	}
	return query
}

func createTableSQL(table string, columns []string, first core.Record) string {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = pq.QuoteIdentifier(col) + " " + sqlType(first[col])
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
}

func sqlType(value interface{}) string {
	switch value.(type) {
	case bool:
		return "BOOLEAN"
	case int, int32, int64:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE PRECISION"
	case time.Time:
		return "TIMESTAMPTZ"
	case []byte:
		return "BYTEA"
	}
	return "TEXT"
}

func sqlValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil, bool, int64, float64, string, []byte, time.Time:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	}
	return fmt.Sprint(value)
}
