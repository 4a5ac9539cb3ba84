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

// Package validators checks data quality rules over a batch of records.
package validators

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aaronlmathis/goflow/core"
)

// FieldType is the expected type of a field value.
type FieldType string

const (
	TypeAny    FieldType = ""
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeEmail  FieldType = "email"
	TypeURL    FieldType = "url"
	TypeUUID   FieldType = "uuid"
)

// formats maps string types to validator tags.
var formats = map[FieldType]string{
	TypeEmail: "email",
	TypeURL:   "url",
	TypeUUID:  "uuid",
}

var formatValidate = validator.New()

// Known reports whether t is a supported type.
func (t FieldType) Known() bool {
	switch t {
	case TypeAny, TypeString, TypeInt, TypeFloat, TypeNumber, TypeBool:
		return true
	}
	_, ok := formats[t]
	return ok
}

// FieldRule constrains the non-nil values of one field.
type FieldRule struct {
	Type    FieldType
	Pattern *regexp.Regexp
	Min     *float64
	Max     *float64
	Allowed []interface{}
}

// Quality is a set of rules for a batch of records.
type Quality struct {
	MinRecords      int     // Fewest records accepted
	MaxRecords      int     // Most records accepted; 0 means no limit
	MaxNullRate     float64 // Highest share of missing or nil values per field; 0 disables the check
	RequiredFields  []string
	ForbiddenFields []string
	Fields          map[string]FieldRule
}

// Option represents a configuration function for Quality.
type Option func(*Quality)

// WithRecordCount bounds the batch size. max 0 means no upper bound.
func WithRecordCount(min, max int) Option {
	return func(q *Quality) {
		q.MinRecords = min
		q.MaxRecords = max
	}
}

// WithRequiredFields requires fields on every record.
func WithRequiredFields(fields ...string) Option {
	return func(q *Quality) {
		q.RequiredFields = append(q.RequiredFields, fields...)
	}
}

// WithForbiddenFields rejects records carrying fields.
func WithForbiddenFields(fields ...string) Option {
	return func(q *Quality) {
		q.ForbiddenFields = append(q.ForbiddenFields, fields...)
	}
}

// WithMaxNullRate bounds the share of nil values per field.
func WithMaxNullRate(rate float64) Option {
	return func(q *Quality) {
		q.MaxNullRate = rate
	}
}

// WithFieldRule constrains the values of field.
func WithFieldRule(field string, rule FieldRule) Option {
	return func(q *Quality) {
		if q.Fields == nil {
			q.Fields = make(map[string]FieldRule)
		}
		q.Fields[field] = rule
	}
}

// New creates a rule set.
func New(opts ...Option) *Quality {
	q := &Quality{}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ValidationError lists every violated rule.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	const shown = 5
	if len(e.Violations) <= shown {
		return "data quality: " + strings.Join(e.Violations, "; ")
	}
	return fmt.Sprintf("data quality: %s; and %d more",
		strings.Join(e.Violations[:shown], "; "), len(e.Violations)-shown)
}

// Validate checks records against every rule and returns a
// *ValidationError when any is violated.
func (q *Quality) Validate(records []core.Record) error {
	var violations []string
	report := func(format string, args ...interface{}) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if len(records) < q.MinRecords {
		report("got %d records, want at least %d", len(records), q.MinRecords)
	}
	if q.MaxRecords > 0 && len(records) > q.MaxRecords {
		report("got %d records, want at most %d", len(records), q.MaxRecords)
	}

	nulls := make(map[string]int)
	for i, record := range records {
		for _, field := range q.RequiredFields {
			if _, ok := record[field]; !ok {
				report("record %d: missing required field %s", i, field)
			}
		}
		for _, field := range q.ForbiddenFields {
			if _, ok := record[field]; ok {
				report("record %d: forbidden field %s", i, field)
			}
		}
		for _, field := range slices.Sorted(maps.Keys(q.Fields)) {
			value, ok := record[field]
			if !ok || value == nil {
				continue
			}
			if msg := q.Fields[field].check(value); msg != "" {
				report("record %d: field %s %s", i, field, msg)
			}
		}
		for field, value := range record {
			if value == nil {
				nulls[field]++
			}
		}
	}

	if q.MaxNullRate > 0 && len(records) > 0 {
		fields := make(map[string]bool)
		for _, record := range records {
			for field := range record {
				fields[field] = true
			}
		}
		for _, field := range slices.Sorted(maps.Keys(fields)) {
			missing := nulls[field]
			for _, record := range records {
				if _, ok := record[field]; !ok {
					missing++
				}
			}
			if rate := float64(missing) / float64(len(records)); rate > q.MaxNullRate {
				report("field %s null rate %.2f exceeds %.2f", field, rate, q.MaxNullRate)
			}
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func (r FieldRule) check(value interface{}) string {
	if !r.Type.matches(value) {
		return fmt.Sprintf("is %T, want %s", value, r.Type)
	}
	if r.Pattern != nil {
		if s, ok := value.(string); ok && !r.Pattern.MatchString(s) {
			return fmt.Sprintf("value %q does not match %s", s, r.Pattern)
		}
	}
	if n, ok := toFloat64(value); ok {
		if r.Min != nil && n < *r.Min {
			return fmt.Sprintf("value %v below minimum %v", value, *r.Min)
		}
		if r.Max != nil && n > *r.Max {
			return fmt.Sprintf("value %v above maximum %v", value, *r.Max)
		}
	}
	if len(r.Allowed) > 0 && !slices.ContainsFunc(r.Allowed, func(a interface{}) bool {
		return fmt.Sprint(a) == fmt.Sprint(value)
	}) {
		return fmt.Sprintf("value %v not allowed", value)
	}
	return ""
}

func (t FieldType) matches(value interface{}) bool {
	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInt:
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case TypeFloat, TypeNumber:
		_, ok := toFloat64(value)
		return ok
	case TypeBool:
		_, ok := value.(bool)
		return ok
	}
	if tag, ok := formats[t]; ok {
		s, isString := value.(string)
		return isString && formatValidate.Var(s, tag) == nil
	}
	return false
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
