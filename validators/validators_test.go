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

package validators

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goflow/core"
)

func ptr(f float64) *float64 { return &f }

var users = []core.Record{
	{"id": int64(1), "email": "kea@example.nz", "age": int64(31), "plan": "pro"},
	{"id": int64(2), "email": "tui@example.nz", "age": int64(45), "plan": "free"},
	{"id": int64(3), "email": nil, "age": int64(27), "plan": "free"},
}

func TestValidatePasses(t *testing.T) {
	q := New(
		WithRecordCount(1, 10),
		WithRequiredFields("id", "email"),
		WithForbiddenFields("password"),
		WithMaxNullRate(0.5),
		WithFieldRule("email", FieldRule{Type: TypeEmail}),
		WithFieldRule("age", FieldRule{Type: TypeInt, Min: ptr(18), Max: ptr(120)}),
		WithFieldRule("plan", FieldRule{Allowed: []interface{}{"free", "pro"}}),
		WithFieldRule("id", FieldRule{Type: TypeNumber}),
	)
	assert.NoError(t, q.Validate(users))
}

func TestValidateReportsEveryViolation(t *testing.T) {
	q := New(
		WithRecordCount(5, 0),
		WithRequiredFields("country"),
		WithMaxNullRate(0.2),
		WithFieldRule("age", FieldRule{Min: ptr(30)}),
		WithFieldRule("plan", FieldRule{Type: TypeString, Pattern: regexp.MustCompile("^p")}),
	)
	err := q.Validate(users)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations, "got 3 records, want at least 5")
	assert.Contains(t, verr.Violations, "record 0: missing required field country")
	assert.Contains(t, verr.Violations, "record 2: field age value 27 below minimum 30")
	assert.Contains(t, verr.Violations, `record 1: field plan value "free" does not match ^p`)
	assert.Contains(t, verr.Violations, "field email null rate 0.33 exceeds 0.20")
	assert.Contains(t, err.Error(), "and 3 more")
}

func TestFieldTypes(t *testing.T) {
	tests := []struct {
		typ   FieldType
		value interface{}
		want  bool
	}{
		{TypeString, "x", true},
		{TypeString, 1, false},
		{TypeInt, int64(3), true},
		{TypeInt, 3.0, true},
		{TypeInt, 3.5, false},
		{TypeFloat, 3.5, true},
		{TypeBool, true, true},
		{TypeEmail, "kea@example.nz", true},
		{TypeEmail, "@example.nz", false},
		{TypeEmail, "kea.example.nz", false},
		{TypeEmail, 42, false},
		{TypeURL, "https://example.nz/orders", true},
		{TypeURL, "example", false},
		{TypeUUID, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
		{TypeUUID, "6ba7b810", false},
		{TypeAny, struct{}{}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.typ.matches(tt.value), "%s %v", tt.typ, tt.value)
	}
	assert.True(t, TypeUUID.Known())
	assert.False(t, FieldType("date").Known())
}
