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

package definition

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/aaronlmathis/goflow/aggregate"
	"github.com/aaronlmathis/goflow/core"
	"github.com/aaronlmathis/goflow/dag"
	"github.com/aaronlmathis/goflow/filter"
	"github.com/aaronlmathis/goflow/operators"
	"github.com/aaronlmathis/goflow/transform"
	"github.com/aaronlmathis/goflow/validators"
)

func extractFactory(db *sql.DB) Factory {
	return func(spec TaskSpec) (dag.TaskFunc, error) {
		switch spec.Format {
		case "", "csv", "json":
			if spec.Path == "" {
				return nil, errors.New("extract operator needs a path")
			}
			if spec.Format == "json" {
				return operators.Extract(operators.JSONFile(spec.Path)), nil
			}
			opts, err := csvOptions(spec)
			if err != nil {
				return nil, err
			}
			return operators.Extract(operators.CSVFile(spec.Path, opts...)), nil
		case "postgres":
			if db == nil {
				return nil, errors.New("postgres extract needs a database connection")
			}
			if spec.Query == "" {
				return nil, errors.New("postgres extract needs a query")
			}
			return operators.Query(db, spec.Query, spec.Parameters...), nil
		}
		return nil, fmt.Errorf("unknown format %q", spec.Format)
	}
}

func loadFactory(db *sql.DB) Factory {
	return func(spec TaskSpec) (dag.TaskFunc, error) {
		switch spec.Format {
		case "", "csv", "json":
			if spec.Path == "" {
				return nil, errors.New("load operator needs a path")
			}
			if spec.Format == "json" {
				return operators.Load(operators.JSONOutput(spec.Path)), nil
			}
			opts, err := csvOptions(spec)
			if err != nil {
				return nil, err
			}
			return operators.Load(operators.CSVOutput(spec.Path, opts...)), nil
		case "postgres":
			if db == nil {
				return nil, errors.New("postgres load needs a database connection")
			}
			if spec.Table == "" {
				return nil, errors.New("postgres load needs a table")
			}
			opts := []operators.SQLTableOption{operators.WithCreateTable(spec.CreateTable)}
			if len(spec.Columns) > 0 {
				opts = append(opts, operators.WithColumns(spec.Columns...))
			}
			switch spec.OnConflict {
			case "", "error":
			case "ignore":
				opts = append(opts, operators.WithConflict(operators.ConflictIgnore, spec.Key...))
			case "update":
				opts = append(opts, operators.WithConflict(operators.ConflictUpdate, spec.Key...))
			default:
				return nil, fmt.Errorf("unknown on_conflict %q: want error, ignore or update", spec.OnConflict)
			}
			if spec.OnConflict != "" && spec.OnConflict != "error" && len(spec.Key) == 0 {
				return nil, fmt.Errorf("on_conflict %s needs key columns", spec.OnConflict)
			}
			return operators.Load(operators.SQLTable(db, spec.Table, opts...)), nil
		}
		return nil, fmt.Errorf("unknown format %q", spec.Format)
	}
}

func csvOptions(spec TaskSpec) ([]operators.CSVOption, error) {
	var opts []operators.CSVOption
	if spec.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(spec.Delimiter)
		if size != len(spec.Delimiter) {
			return nil, fmt.Errorf("delimiter must be one character, got %q", spec.Delimiter)
		}
		opts = append(opts, operators.WithComma(r))
	}
	if len(spec.Columns) > 0 {
		opts = append(opts, operators.WithHeader(spec.Columns...))
	}
	return opts, nil
}

func errorStrategy(spec TaskSpec) (core.ErrorStrategy, error) {
	switch spec.OnError {
	case "", "fail":
		return core.FailFast, nil
	case "skip":
		return core.SkipErrors, nil
	}
	return 0, fmt.Errorf("unknown on_error %q: want fail or skip", spec.OnError)
}

func transformFactory(spec TaskSpec) (dag.TaskFunc, error) {
	strategy, err := errorStrategy(spec)
	if err != nil {
		return nil, err
	}
	var steps []core.Transformer
	if len(spec.Where) > 0 {
		where, err := conditions(spec.Where)
		if err != nil {
			return nil, err
		}
		steps = append(steps, core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
			keep, err := where.ShouldInclude(ctx, record)
			if err != nil || !keep {
				return nil, err
			}
			return record, nil
		}))
	}
	if len(spec.Rename) > 0 {
		steps = append(steps, transform.Rename(spec.Rename))
	}
	if len(spec.Select) > 0 {
		steps = append(steps, transform.Select(spec.Select...))
	}
	if len(spec.Drop) > 0 {
		steps = append(steps, transform.Drop(spec.Drop...))
	}
	if len(spec.Trim) > 0 {
		steps = append(steps, transform.TrimSpace(spec.Trim...))
	}
	if len(spec.Upper) > 0 {
		steps = append(steps, transform.ToUpper(spec.Upper...))
	}
	if len(spec.Lower) > 0 {
		steps = append(steps, transform.ToLower(spec.Lower...))
	}
	if len(spec.ToInt) > 0 {
		steps = append(steps, transform.ToInt(spec.ToInt...))
	}
	if len(spec.ToFloat) > 0 {
		steps = append(steps, transform.ToFloat(spec.ToFloat...))
	}
	if len(steps) == 0 {
		return nil, errors.New("transform operator needs at least one step")
	}
	return operators.Transform(transform.Chain(steps...), strategy), nil
}

func filterFactory(spec TaskSpec) (dag.TaskFunc, error) {
	if len(spec.Where) == 0 {
		return nil, errors.New("filter operator needs a where list")
	}
	strategy, err := errorStrategy(spec)
	if err != nil {
		return nil, err
	}
	where, err := conditions(spec.Where)
	if err != nil {
		return nil, err
	}
	return operators.Filter(where, strategy), nil
}

func conditions(list []Condition) (core.Filter, error) {
	filters := make([]core.Filter, 0, len(list))
	for i, c := range list {
		if c.Field == "" {
			return nil, fmt.Errorf("where[%d]: field is required", i)
		}
		f, err := filter.Where(c.Field, c.Op, c.Value)
		if err != nil {
			return nil, fmt.Errorf("where[%d]: %w", i, err)
		}
		filters = append(filters, f)
	}
	return filter.And(filters...), nil
}

func aggregateFactory(spec TaskSpec) (dag.TaskFunc, error) {
	if len(spec.Aggregates) == 0 {
		return nil, errors.New("aggregate operator needs aggregates")
	}
	g := aggregate.NewGroupBy(spec.GroupBy...)
	for i, a := range spec.Aggregates {
		if a.Name == "" {
			return nil, fmt.Errorf("aggregates[%d]: name is required", i)
		}
		if a.Func != "count" && a.Field == "" {
			return nil, fmt.Errorf("aggregates[%d]: %s needs a field", i, a.Func)
		}
		switch a.Func {
		case "count":
			g.Count(a.Name)
		case "sum":
			g.Sum(a.Field, a.Name)
		case "avg":
			g.Avg(a.Field, a.Name)
		case "min":
			g.Min(a.Field, a.Name)
		case "max":
			g.Max(a.Field, a.Name)
		default:
			return nil, fmt.Errorf("aggregates[%d]: unknown func %q", i, a.Func)
		}
	}
	return operators.Aggregate(g), nil
}

func checkFactory(spec TaskSpec) (dag.TaskFunc, error) {
	if spec.Check == nil {
		return nil, errors.New("check operator needs a check block")
	}
	c := spec.Check
	opts := []validators.Option{
		validators.WithRecordCount(c.MinRecords, c.MaxRecords),
		validators.WithRequiredFields(c.Required...),
		validators.WithForbiddenFields(c.Forbidden...),
		validators.WithMaxNullRate(c.MaxNullRate),
	}
	for field, fc := range c.Fields {
		rule := validators.FieldRule{
			Type:    validators.FieldType(fc.Type),
			Min:     fc.Min,
			Max:     fc.Max,
			Allowed: fc.Allowed,
		}
		if !rule.Type.Known() {
			return nil, fmt.Errorf("field %s: unknown type %q", field, fc.Type)
		}
		if fc.Pattern != "" {
			re, err := regexp.Compile(fc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field, err)
			}
			rule.Pattern = re
		}
		opts = append(opts, validators.WithFieldRule(field, rule))
	}
	return operators.Check(validators.New(opts...)), nil
}
