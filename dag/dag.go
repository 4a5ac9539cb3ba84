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

package dag

import (
	"fmt"
	"io"
	"maps"
	"slices"
)

// Graph is a finalized, read-only task-dependency graph. It is safe for
// concurrent use by any number of runs.
type Graph struct {
	id             string
	description    string
	schedule       string
	maxActiveTasks int
	params         map[string]interface{}
	tasks          map[string]Task
	downstream     map[string][]string
	order          []string
}

// ID returns the graph's unique identifier
func (g *Graph) ID() string {
	return g.id
}

// Description returns the graph's description
func (g *Graph) Description() string {
	return g.description
}

// Schedule returns the cron expression, empty for manually triggered graphs
func (g *Graph) Schedule() string {
	return g.schedule
}

// MaxActiveTasks returns the per-run concurrency limit
func (g *Graph) MaxActiveTasks() int {
	return g.maxActiveTasks
}

// Params returns a copy of the graph parameters
func (g *Graph) Params() map[string]interface{} {
	return maps.Clone(g.params)
}

// Len returns the total number of tasks
func (g *Graph) Len() int {
	return len(g.tasks)
}

// HasTask checks if a task exists in the graph
func (g *Graph) HasTask(id string) bool {
	_, exists := g.tasks[id]
	return exists
}

// Task returns a copy of the task definition.
func (g *Graph) Task(id string) (Task, bool) {
	task, exists := g.tasks[id]
	if !exists {
		return Task{}, false
	}
	return task.clone(), true
}

// TopologicalOrder returns every task id so that each task follows all of
// its upstream tasks. Ties are broken by id.
func (g *Graph) TopologicalOrder() []string {
	return slices.Clone(g.order)
}

// Upstream returns the direct upstream ids of a task, sorted.
func (g *Graph) Upstream(id string) []string {
	return slices.Clone(g.tasks[id].Upstream)
}

// Downstream returns the direct downstream ids of a task, sorted.
func (g *Graph) Downstream(id string) []string {
	return slices.Clone(g.downstream[id])
}

// Depth returns the number of tasks on the longest dependency chain.
func (g *Graph) Depth() int {
	depths := make(map[string]int, len(g.order))
	maxOverall := 0
	for _, id := range g.order {
		depth := 0
		for _, dep := range g.tasks[id].Upstream {
			depth = max(depth, depths[dep])
		}
		depths[id] = depth + 1
		maxOverall = max(maxOverall, depth+1)
	}
	return maxOverall
}

// Describe writes a human-readable structure of the graph.
func (g *Graph) Describe(w io.Writer) {
	fmt.Fprintf(w, "Graph: %s", g.id)
	if g.description != "" {
		fmt.Fprintf(w, " - %s", g.description)
	}
	fmt.Fprintln(w)
	if g.schedule != "" {
		fmt.Fprintf(w, "  Schedule: %s\n", g.schedule)
	}
	fmt.Fprintf(w, "  Max Active Tasks: %d\n", g.maxActiveTasks)
	fmt.Fprintf(w, "  Tasks: %d, Depth: %d\n", len(g.tasks), g.Depth())

	for _, id := range g.order {
		task := g.tasks[id]
		fmt.Fprintf(w, "  %s [%s]\n", id, task.TriggerRule)
		if task.Description != "" {
			fmt.Fprintf(w, "    Description: %s\n", task.Description)
		}
		if len(task.Upstream) > 0 {
			fmt.Fprintf(w, "    <- depends on: %v\n", task.Upstream)
		}
		if downstream := g.downstream[id]; len(downstream) > 0 {
			fmt.Fprintf(w, "    -> triggers: %v\n", downstream)
		}
		if task.Timeout > 0 {
			fmt.Fprintf(w, "    Timeout: %v\n", task.Timeout)
		}
		if task.RetryLimit > 0 {
			fmt.Fprintf(w, "    Retries: %d\n", task.RetryLimit)
		}
	}
}

// topologicalSort performs Kahn's algorithm, always releasing the smallest
// ready id first.
func (g *Graph) topologicalSort(ids []string) []string {
	inDegree := make(map[string]int, len(ids))
	var ready []string
	for _, id := range ids {
		inDegree[id] = len(g.tasks[id].Upstream)
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]string, 0, len(ids))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		result = append(result, current)

		for _, next := range g.downstream[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				pos, _ := slices.BinarySearch(ready, next)
				ready = slices.Insert(ready, pos, next)
			}
		}
	}
	return result
}
