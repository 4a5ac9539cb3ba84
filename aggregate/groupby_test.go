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

package aggregate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goflow/core"
)

var orders = []core.Record{
	{"country": "NZ", "amount": int64(10), "customer": "kea"},
	{"country": "AU", "amount": 5.5, "customer": "emu"},
	{"country": "NZ", "amount": int64(30), "customer": "tui"},
	{"country": "NZ", "amount": nil, "customer": "moa"},
}

func TestGroupBy(t *testing.T) {
	g := NewGroupBy("country").
		Count("orders").
		Sum("amount", "total").
		Avg("amount", "mean").
		Min("customer", "first").
		Max("amount", "largest")

	got, err := g.Apply(context.Background(), orders)
	require.NoError(t, err)
	assert.Equal(t, []core.Record{
		{"country": "NZ", "orders": int64(3), "total": 40.0, "mean": 20.0, "first": "kea", "largest": int64(30)},
		{"country": "AU", "orders": int64(1), "total": 5.5, "mean": 5.5, "first": "emu", "largest": 5.5},
	}, got)
}

func TestGroupByWithoutFields(t *testing.T) {
	got, err := NewGroupBy().Count("n").Apply(context.Background(), orders)
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"n": int64(4)}}, got)

	got, err = NewGroupBy().Count("n").Avg("amount", "mean").Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGroupByKeepsTypesApart(t *testing.T) {
	records := []core.Record{{"k": int64(1)}, {"k": "1"}}
	got, err := NewGroupBy("k").Count("n").Apply(context.Background(), records)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestGroupByRejectsNonNumbers(t *testing.T) {
	_, err := NewGroupBy().Sum("customer", "total").Apply(context.Background(), orders)
	var recErr *core.RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, 0, recErr.Index)
	assert.ErrorContains(t, err, "not a number")
}
