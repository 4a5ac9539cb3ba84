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

// run.go - One instantiation of a graph at a logical date
package run

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aaronlmathis/goflow/dag"
)

// ErrUnknownTask is returned for task ids the run's graph does not define.
var ErrUnknownTask = errors.New("unknown task")

// Run owns the task instances of one graph instantiation. The dispatcher
// driving the run is its only writer; readers may call accessors from any
// goroutine.
type Run struct {
	id          string
	graph       *dag.Graph
	logicalDate time.Time
	startedAt   time.Time
	endedAt     time.Time
	state       RunState
	instances   map[string]*TaskInstance
	mu          sync.RWMutex
}

// New creates a run with every task instance pending.
func New(g *dag.Graph, id string, logicalDate time.Time) *Run {
	r := &Run{
		id:          id,
		graph:       g,
		logicalDate: logicalDate,
		startedAt:   time.Now(),
		state:       RunRunning,
		instances:   make(map[string]*TaskInstance, g.Len()),
	}
	for _, taskID := range g.TopologicalOrder() {
		r.instances[taskID] = &TaskInstance{TaskID: taskID, RunID: id, State: Pending}
	}
	r.state = r.reduce()
	if r.state.Terminal() {
		r.endedAt = r.startedAt
	}
	return r
}

// ID returns the run identifier
func (r *Run) ID() string { return r.id }

// Graph returns the shared graph definition
func (r *Run) Graph() *dag.Graph { return r.graph }

// LogicalDate returns the schedule time the run represents
func (r *Run) LogicalDate() time.Time { return r.logicalDate }

// State returns the current overall state
func (r *Run) State() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Window returns when the run started and, once terminal, when it ended.
func (r *Run) Window() (time.Time, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startedAt, r.endedAt
}

// Instance returns a copy of one task instance.
func (r *Run) Instance(taskID string) (TaskInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ti, ok := r.instances[taskID]
	if !ok {
		return TaskInstance{}, false
	}
	return *ti, true
}

// Instances returns copies of all task instances in topological order.
func (r *Run) Instances() []TaskInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order := r.graph.TopologicalOrder()
	out := make([]TaskInstance, 0, len(order))
	for _, taskID := range order {
		out = append(out, *r.instances[taskID])
	}
	return out
}

// UpstreamResults collects the results of the succeeded direct upstream
// tasks of taskID.
func (r *Run) UpstreamResults(taskID string) map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	results := make(map[string]interface{})
	for _, dep := range r.graph.Upstream(taskID) {
		if ti := r.instances[dep]; ti != nil && ti.State == Success {
			results[dep] = ti.Result
		}
	}
	return results
}

// Queue moves a pending or retry-eligible instance to Queued.
func (r *Run) Queue(taskID string, now time.Time) (Event, error) {
	return r.transition(taskID, Queued, now, func(ti *TaskInstance) {
		ti.RetryAt = time.Time{}
	})
}

// Start moves a queued instance to Running and counts the attempt.
func (r *Run) Start(taskID string, now time.Time) (Event, error) {
	return r.transition(taskID, Running, now, func(ti *TaskInstance) {
		ti.Attempts++
		ti.StartedAt = now
		ti.EndedAt = time.Time{}
		ti.Result = nil
		ti.Reason = ""
		ti.Err = nil
	})
}

// Succeed records the result of a running instance.
func (r *Run) Succeed(taskID string, result interface{}, now time.Time) (Event, error) {
	return r.transition(taskID, Success, now, func(ti *TaskInstance) {
		ti.Result = result
		ti.EndedAt = now
	})
}

// Fail records a failed attempt. A non-zero retryAt keeps the instance
// eligible for another attempt; a zero retryAt makes the failure terminal.
func (r *Run) Fail(taskID string, cause error, retryAt, now time.Time) (Event, error) {
	return r.transition(taskID, Failed, now, func(ti *TaskInstance) {
		ti.Err = cause
		if cause != nil {
			ti.Reason = cause.Error()
		}
		ti.RetryAt = retryAt
		ti.EndedAt = now
	})
}

// Skip ends a pending or running instance as skipped.
func (r *Run) Skip(taskID string, reason SkipReason, now time.Time) (Event, error) {
	return r.transition(taskID, Skipped, now, func(ti *TaskInstance) {
		ti.SkipReason = reason
		ti.Reason = string(reason)
		ti.EndedAt = now
	})
}

// Cancel ends a non-terminal instance as cancelled.
func (r *Run) Cancel(taskID string, now time.Time) (Event, error) {
	return r.transition(taskID, Cancelled, now, func(ti *TaskInstance) {
		ti.RetryAt = time.Time{}
		ti.EndedAt = now
		if ti.Reason == "" {
			ti.Reason = "run cancelled"
		}
	})
}

// Settle recomputes the overall run state. It returns a run event when the
// state changed.
func (r *Run) Settle(now time.Time) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.reduce()
	if next == r.state {
		return Event{}, false
	}
	prev := r.state
	r.state = next
	if next.Terminal() {
		r.endedAt = now
	}
	return Event{
		Kind:    EventRun,
		RunID:   r.id,
		GraphID: r.graph.ID(),
		From:    string(prev),
		To:      string(next),
		At:      now,
	}, true
}

// reduce derives the run state from its instances. Callers hold mu.
func (r *Run) reduce() RunState {
	var cancelled, broken bool
	for _, ti := range r.instances {
		if !ti.Terminal() {
			return RunRunning
		}
		switch {
		case ti.State == Cancelled:
			cancelled = true
		case ti.Broken():
			broken = true
		}
	}
	switch {
	case cancelled:
		return RunCancelled
	case broken:
		return RunFailed
	default:
		return RunSuccess
	}
}

func (r *Run) transition(taskID string, to State, now time.Time, apply func(*TaskInstance)) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ti, ok := r.instances[taskID]
	if !ok {
		return Event{}, fmt.Errorf("%w %q in run %s", ErrUnknownTask, taskID, r.id)
	}
	if !allowed(*ti, to) {
		return Event{}, &TransitionError{TaskID: taskID, From: ti.State, To: to}
	}

	from := ti.State
	ti.State = to
	apply(ti)

	return Event{
		Kind:    EventTask,
		RunID:   r.id,
		GraphID: r.graph.ID(),
		TaskID:  taskID,
		From:    string(from),
		To:      string(to),
		Attempt: ti.Attempts,
		Reason:  ti.Reason,
		At:      now,
	}, nil
}
