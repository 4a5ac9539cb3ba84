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

package run

import (
	"errors"
	"fmt"
	"time"

	"github.com/aaronlmathis/goflow/dag"
)

// InstanceSnapshot is the persisted form of a TaskInstance.
type InstanceSnapshot struct {
	TaskID     string      `json:"task_id" bson:"task_id"`
	State      State       `json:"state" bson:"state"`
	Attempts   int         `json:"attempts" bson:"attempts"`
	StartedAt  time.Time   `json:"started_at" bson:"started_at"`
	EndedAt    time.Time   `json:"ended_at" bson:"ended_at"`
	RetryAt    time.Time   `json:"retry_at" bson:"retry_at"`
	Result     interface{} `json:"result,omitempty" bson:"result,omitempty"`
	Reason     string      `json:"reason,omitempty" bson:"reason,omitempty"`
	SkipReason SkipReason  `json:"skip_reason,omitempty" bson:"skip_reason,omitempty"`
}

// Snapshot is the persisted form of a Run.
type Snapshot struct {
	RunID       string             `json:"run_id" bson:"_id"`
	GraphID     string             `json:"graph_id" bson:"graph_id"`
	LogicalDate time.Time          `json:"logical_date" bson:"logical_date"`
	State       RunState           `json:"state" bson:"state"`
	StartedAt   time.Time          `json:"started_at" bson:"started_at"`
	EndedAt     time.Time          `json:"ended_at" bson:"ended_at"`
	Instances   []InstanceSnapshot `json:"instances" bson:"instances"`
}

func snapshotOf(ti *TaskInstance) InstanceSnapshot {
	return InstanceSnapshot{
		TaskID:     ti.TaskID,
		State:      ti.State,
		Attempts:   ti.Attempts,
		StartedAt:  ti.StartedAt,
		EndedAt:    ti.EndedAt,
		RetryAt:    ti.RetryAt,
		Result:     ti.Result,
		Reason:     ti.Reason,
		SkipReason: ti.SkipReason,
	}
}

// SnapshotInstance returns the persisted form of one instance.
func (r *Run) SnapshotInstance(taskID string) (InstanceSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ti, ok := r.instances[taskID]
	if !ok {
		return InstanceSnapshot{}, false
	}
	return snapshotOf(ti), true
}

// Snapshot captures the whole run in topological task order.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		RunID:       r.id,
		GraphID:     r.graph.ID(),
		LogicalDate: r.logicalDate,
		State:       r.state,
		StartedAt:   r.startedAt,
		EndedAt:     r.endedAt,
	}
	for _, taskID := range r.graph.TopologicalOrder() {
		snap.Instances = append(snap.Instances, snapshotOf(r.instances[taskID]))
	}
	return snap
}

// Restore rebuilds a run from persisted state so a dispatcher can resume it.
// Finished instances keep their outcome. Instances that were queued or
// running when the state was recorded go back to pending and their
// unfinished attempt is not counted.
func Restore(g *dag.Graph, snap Snapshot) (*Run, error) {
	if snap.GraphID != g.ID() {
		return nil, fmt.Errorf("snapshot of graph %q cannot be restored onto graph %q", snap.GraphID, g.ID())
	}

	r := New(g, snap.RunID, snap.LogicalDate)
	if !snap.StartedAt.IsZero() {
		r.startedAt = snap.StartedAt
	}

	for _, is := range snap.Instances {
		ti, ok := r.instances[is.TaskID]
		if !ok {
			return nil, fmt.Errorf("restore run %s: %w %q", snap.RunID, ErrUnknownTask, is.TaskID)
		}
		ti.State = is.State
		ti.Attempts = is.Attempts
		ti.StartedAt = is.StartedAt
		ti.EndedAt = is.EndedAt
		ti.RetryAt = is.RetryAt
		ti.Result = is.Result
		ti.Reason = is.Reason
		ti.SkipReason = is.SkipReason
		if is.State == Failed && is.Reason != "" {
			ti.Err = errors.New(is.Reason)
		}

		switch is.State {
		case Queued:
			ti.State = Pending
		case Running:
			ti.State = Pending
			ti.Attempts = max(0, ti.Attempts-1)
			ti.StartedAt = time.Time{}
		}
	}

	r.state = r.reduce()
	r.endedAt = time.Time{}
	if r.state.Terminal() {
		r.endedAt = snap.EndedAt
	}
	return r, nil
}
