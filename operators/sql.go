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
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/aaronlmathis/goflow/core"
	"github.com/aaronlmathis/goflow/dag"
)

// SQL executes a statement and returns the number of affected rows.
// Placeholders follow the driver's syntax; with lib/pq that is $1, $2.
func SQL(db *sql.DB, query string, args ...interface{}) dag.TaskFunc {
	return func(ctx context.Context, in dag.Input) (interface{}, error) {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("exec %s: %w", in.TaskID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, nil
		}
		return affected, nil
	}
}

// Query runs a query and returns its rows as records.
func Query(db *sql.DB, query string, args ...interface{}) dag.TaskFunc {
	return Extract(func(ctx context.Context, in dag.Input) (core.DataSource, error) {
		return NewSQLSource(ctx, db, query, args...)
	})
}

// SQLSource streams the rows of a query as records.
type SQLSource struct {
	rows    *sql.Rows
	columns []string
	types   []*sql.ColumnType
	values  []interface{}
	scan    []interface{}
}

// NewSQLSource runs query and prepares to stream its rows.
func NewSQLSource(ctx context.Context, db *sql.DB, query string, args ...interface{}) (*SQLSource, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("column types: %w", err)
	}

	s := &SQLSource{
		rows:    rows,
		columns: columns,
		types:   types,
		values:  make([]interface{}, len(columns)),
		scan:    make([]interface{}, len(columns)),
	}
	for i := range s.scan {
		s.scan[i] = &s.values[i]
	}
	return s, nil
}

func (s *SQLSource) Read(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	if err := s.rows.Scan(s.scan...); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	record := make(core.Record, len(s.columns))
	for i, name := range s.columns {
		record[name] = convertSQLValue(s.values[i], s.types[i])
	}
	return record, nil
}

func (s *SQLSource) Close() error {
	return s.rows.Close()
}

// convertSQLValue maps driver values onto the JSON-friendly types records
// carry between tasks.
func convertSQLValue(value interface{}, colType *sql.ColumnType) interface{} {
	if value == nil {
		return nil
	}
	if b, ok := value.([]byte); ok {
		switch colType.DatabaseTypeName() {
		case "BYTEA":
			return b
		default:
			return string(b)
		}
	}

	switch v := value.(type) {
	case time.Time, bool, int64, float64, string:
		return v
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	default:
		return fmt.Sprintf("%v", value)
	}
}
