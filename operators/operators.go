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

// Package operators provides ready-made task functions: no-ops, shell
// commands, SQL statements and record-level extract/transform/load steps.
package operators

import (
	"context"

	"github.com/aaronlmathis/goflow/dag"
)

// Func adapts a function that only needs a context and produces no result.
func Func(fn func(ctx context.Context) error) dag.TaskFunc {
	return func(ctx context.Context, in dag.Input) (interface{}, error) {
		return nil, fn(ctx)
	}
}

// Empty does nothing. It is useful for grouping and join points.
func Empty() dag.TaskFunc {
	return func(ctx context.Context, in dag.Input) (interface{}, error) {
		return nil, ctx.Err()
	}
}

// Skip always ends the task as skipped by design.
func Skip() dag.TaskFunc {
	return func(ctx context.Context, in dag.Input) (interface{}, error) {
		return nil, dag.ErrSkip
	}
}
