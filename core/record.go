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

// Package core holds the record-level contracts shared by the ETL operators
// and the history export.
package core

import (
	"maps"
	"slices"
)

// Record is a single row flowing between tasks, keyed by field name.
type Record map[string]interface{}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Fields returns the field names in sorted order.
func (r Record) Fields() []string {
	return slices.Sorted(maps.Keys(r))
}

// Records converts a task result back into records. It accepts the forms a
// record slice takes in memory and after a JSON round trip through a store.
func Records(v interface{}) ([]Record, bool) {
	switch rows := v.(type) {
	case []Record:
		return rows, true
	case []map[string]interface{}:
		out := make([]Record, len(rows))
		for i, row := range rows {
			out[i] = row
		}
		return out, true
	case []interface{}:
		out := make([]Record, 0, len(rows))
		for _, row := range rows {
			m, ok := row.(map[string]interface{})
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}
