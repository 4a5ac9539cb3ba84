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

// dag_builder.go - Builder collecting task definitions into a validated Graph
package dag

import (
	"fmt"
	"maps"
	"slices"
)

// DefaultMaxActiveTasks bounds concurrent tasks of one run unless configured.
const DefaultMaxActiveTasks = 4

// Builder collects task definitions. Finalize validates them once and yields
// an immutable Graph; the builder cannot be reused afterwards.
type Builder struct {
	graph     *Graph
	finalized bool
}

// NewGraph creates a new graph builder
func NewGraph(id string) *Builder {
	return &Builder{
		graph: &Graph{
			id:             id,
			maxActiveTasks: DefaultMaxActiveTasks,
			tasks:          make(map[string]Task),
		},
	}
}

// AddTask registers a task built from fn and options.
func (b *Builder) AddTask(id string, fn TaskFunc, opts ...TaskOption) error {
	task := Task{ID: id, Fn: fn}
	for _, opt := range opts {
		opt(&task)
	}
	return b.Add(task)
}

// Add registers a fully populated task definition.
func (b *Builder) Add(task Task) error {
	if b.finalized {
		return ErrFinalized
	}
	if task.ID == "" {
		return &InvalidTaskError{Reason: "empty task id"}
	}
	if _, exists := b.graph.tasks[task.ID]; exists {
		return &DuplicateTaskError{TaskID: task.ID}
	}
	if task.Fn == nil {
		return &InvalidTaskError{TaskID: task.ID, Reason: "no task function"}
	}
	if task.RetryLimit < 0 {
		return &InvalidTaskError{TaskID: task.ID, Reason: "negative retry limit"}
	}
	if task.Timeout < 0 {
		return &InvalidTaskError{TaskID: task.ID, Reason: "negative timeout"}
	}
	if !task.TriggerRule.Valid() {
		return &InvalidTaskError{TaskID: task.ID, Reason: fmt.Sprintf("unknown trigger rule %q", task.TriggerRule)}
	}
	if task.TriggerRule == "" {
		task.TriggerRule = TriggerAllSuccess
	}

	task = task.clone()
	slices.Sort(task.Upstream)
	task.Upstream = slices.Compact(task.Upstream)

	b.graph.tasks[task.ID] = task
	return nil
}

// WithDescription sets the graph description
func (b *Builder) WithDescription(description string) *Builder {
	b.graph.description = description
	return b
}

// WithSchedule sets the cron expression used by triggers
func (b *Builder) WithSchedule(schedule string) *Builder {
	b.graph.schedule = schedule
	return b
}

// WithMaxActiveTasks sets the maximum number of concurrent tasks per run
func (b *Builder) WithMaxActiveTasks(max int) *Builder {
	if max > 0 {
		b.graph.maxActiveTasks = max
	}
	return b
}

// WithParams sets parameters passed to every task
func (b *Builder) WithParams(params map[string]interface{}) *Builder {
	b.graph.params = maps.Clone(params)
	return b
}

// Finalize validates the collected tasks and returns the immutable Graph.
func (b *Builder) Finalize() (*Graph, error) {
	if b.finalized {
		return nil, ErrFinalized
	}
	g := b.graph

	ids := slices.Sorted(maps.Keys(g.tasks))

	// Check for missing dependencies
	for _, id := range ids {
		for _, dep := range g.tasks[id].Upstream {
			if _, exists := g.tasks[dep]; !exists {
				return nil, &UnknownDependencyError{TaskID: id, Dependency: dep}
			}
		}
	}

	if path := b.findCycle(ids); path != nil {
		return nil, &CycleError{Path: path}
	}

	g.downstream = make(map[string][]string, len(ids))
	for _, id := range ids {
		for _, dep := range g.tasks[id].Upstream {
			g.downstream[dep] = append(g.downstream[dep], id)
		}
	}
	g.order = g.topologicalSort(ids)

	b.finalized = true
	return g, nil
}

// findCycle runs a depth-first search over the upstream relation and returns
// the first cycle found, or nil.
func (b *Builder) findCycle(ids []string) []string {
	visited := make(map[string]bool)
	onStack := make(map[string]int)
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		visited[id] = true
		onStack[id] = len(stack)
		stack = append(stack, id)

		for _, dep := range b.graph.tasks[id].Upstream {
			if idx, ok := onStack[dep]; ok {
				path := slices.Clone(stack[idx:])
				return append(path, dep)
			}
			if !visited[dep] {
				if path := visit(dep); path != nil {
					return path
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, id)
		return nil
	}

	for _, id := range ids {
		if !visited[id] {
			if path := visit(id); path != nil {
				return path
			}
		}
	}
	return nil
}
