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
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/aaronlmathis/goflow/dag"
	"github.com/aaronlmathis/goflow/operators"
)

// Factory builds the task function for a task spec.
type Factory func(spec TaskSpec) (dag.TaskFunc, error)

// Registry maps operator names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the empty, bash and record
// operators. The sql operator is registered when db is not nil.
func NewRegistry(db *sql.DB) *Registry {
	reg := &Registry{factories: make(map[string]Factory)}
	reg.Register("empty", func(spec TaskSpec) (dag.TaskFunc, error) {
		return operators.Empty(), nil
	})
	reg.Register("bash", bashFactory)
	reg.Register("extract", extractFactory(db))
	reg.Register("transform", transformFactory)
	reg.Register("filter", filterFactory)
	reg.Register("aggregate", aggregateFactory)
	reg.Register("check", checkFactory)
	reg.Register("load", loadFactory(db))
	if db != nil {
		reg.Register("sql", sqlFactory(db))
	}
	return reg
}

// Register adds or replaces an operator.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Operators lists the registered operator names.
func (r *Registry) Operators() []string {
	return slices.Sorted(maps.Keys(r.factories))
}

// Build creates the task function for spec.
func (r *Registry) Build(spec TaskSpec) (dag.TaskFunc, error) {
	if spec.Operator == "" {
		return nil, errors.New("operator is required")
	}
	factory, ok := r.factories[spec.Operator]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q (have %v)", spec.Operator, r.Operators())
	}
	return factory(spec)
}

func bashFactory(spec TaskSpec) (dag.TaskFunc, error) {
	if spec.Command == "" {
		return nil, errors.New("bash operator needs a command")
	}
	var opts []operators.BashOption
	if len(spec.Env) > 0 {
		opts = append(opts, operators.WithEnv(spec.Env))
	}
	if spec.Dir != "" {
		opts = append(opts, operators.WithDir(spec.Dir))
	}
	return operators.Bash(spec.Command, opts...), nil
}

func sqlFactory(db *sql.DB) Factory {
	return func(spec TaskSpec) (dag.TaskFunc, error) {
		if spec.Query == "" {
			return nil, errors.New("sql operator needs a query")
		}
		return operators.SQL(db, spec.Query, spec.Parameters...), nil
	}
}
