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

// Package aggregate groups records and computes summaries per group.
package aggregate

import (
	"context"
	"fmt"
	"strings"

	"github.com/aaronlmathis/goflow/core"
)

// Aggregator folds the values of one field into a summary. A fresh
// aggregator is created for every group.
type Aggregator interface {
	Add(value interface{}) error
	Result() interface{}
}

type output struct {
	name  string
	field string
	new   func() Aggregator
}

// GroupBy groups records by a set of fields. Groups are returned in the
// order their first record was seen.
type GroupBy struct {
	fields  []string
	outputs []output
}

// NewGroupBy groups by fields. With no fields every record falls into a
// single group.
func NewGroupBy(fields ...string) *GroupBy {
	return &GroupBy{fields: fields}
}

// Count adds the number of records in the group as name.
func (g *GroupBy) Count(name string) *GroupBy {
	return g.add(name, "", func() Aggregator { return &count{} })
}

// Sum adds the sum of field as name.
func (g *GroupBy) Sum(field, name string) *GroupBy {
	return g.add(name, field, func() Aggregator { return &sum{} })
}

// Avg adds the mean of field as name.
func (g *GroupBy) Avg(field, name string) *GroupBy {
	return g.add(name, field, func() Aggregator { return &avg{} })
}

// Min adds the smallest value of field as name.
func (g *GroupBy) Min(field, name string) *GroupBy {
	return g.add(name, field, func() Aggregator { return &extreme{keep: func(c int) bool { return c < 0 }} })
}

// Max adds the largest value of field as name.
func (g *GroupBy) Max(field, name string) *GroupBy {
	return g.add(name, field, func() Aggregator { return &extreme{keep: func(c int) bool { return c > 0 }} })
}

// Add registers a custom aggregator over field.
func (g *GroupBy) Add(name, field string, newAggregator func() Aggregator) *GroupBy {
	return g.add(name, field, newAggregator)
}

func (g *GroupBy) add(name, field string, fn func() Aggregator) *GroupBy {
	g.outputs = append(g.outputs, output{name: name, field: field, new: fn})
	return g
}

type group struct {
	key         core.Record
	aggregators []Aggregator
}

// Apply aggregates records.
func (g *GroupBy) Apply(ctx context.Context, records []core.Record) ([]core.Record, error) {
	index := make(map[string]*group)
	var order []*group

	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := g.key(record)
		grp, ok := index[key]
		if !ok {
			grp = &group{key: make(core.Record, len(g.fields))}
			for _, field := range g.fields {
				grp.key[field] = record[field]
			}
			for _, out := range g.outputs {
				grp.aggregators = append(grp.aggregators, out.new())
			}
			index[key] = grp
			order = append(order, grp)
		}
		for j, out := range g.outputs {
			var value interface{}
			if out.field != "" {
				value = record[out.field]
			}
			if err := grp.aggregators[j].Add(value); err != nil {
				return nil, &core.RecordError{Index: i, Err: fmt.Errorf("%s: %w", out.name, err)}
			}
		}
	}

	results := make([]core.Record, 0, len(order))
	for _, grp := range order {
		result := grp.key.Clone()
		for j, out := range g.outputs {
			result[out.name] = grp.aggregators[j].Result()
		}
		results = append(results, result)
	}
	return results, nil
}

func (g *GroupBy) key(record core.Record) string {
	var sb strings.Builder
	for _, field := range g.fields {
		fmt.Fprintf(&sb, "%T:%v\x00", record[field], record[field])
	}
	return sb.String()
}

type count struct{ n int64 }

func (c *count) Add(interface{}) error { c.n++; return nil }
func (c *count) Result() interface{}   { return c.n }

type sum struct{ total float64 }

func (s *sum) Add(value interface{}) error {
	if value == nil {
		return nil
	}
	n, err := toFloat64(value)
	s.total += n
	return err
}

func (s *sum) Result() interface{} { return s.total }

type avg struct {
	total float64
	n     int64
}

func (a *avg) Add(value interface{}) error {
	if value == nil {
		return nil
	}
	n, err := toFloat64(value)
	if err != nil {
		return err
	}
	a.total += n
	a.n++
	return nil
}

func (a *avg) Result() interface{} {
	if a.n == 0 {
		return nil
	}
	return a.total / float64(a.n)
}

type extreme struct {
	value interface{}
	keep  func(cmp int) bool
}

func (e *extreme) Add(value interface{}) error {
	if value == nil {
		return nil
	}
	if e.value == nil {
		e.value = value
		return nil
	}
	c, err := compare(value, e.value)
	if err != nil {
		return err
	}
	if e.keep(c) {
		e.value = value
	}
	return nil
}

func (e *extreme) Result() interface{} { return e.value }

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, fmt.Errorf("not a number: %v (%T)", value, value)
}

// compare orders numbers numerically and strings lexically.
func compare(a, b interface{}) (int, error) {
	if x, err := toFloat64(a); err == nil {
		y, err := toFloat64(b)
		if err != nil {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	}
	x, ok1 := a.(string)
	y, ok2 := b.(string)
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("cannot compare %T with %T", a, b)
	}
	return strings.Compare(x, y), nil
}
