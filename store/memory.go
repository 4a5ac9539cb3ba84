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

package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/aaronlmathis/goflow/run"
)

// Memory keeps snapshots in process memory.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]run.Snapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]run.Snapshot)}
}

func (m *Memory) SaveRun(ctx context.Context, snap run.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.Instances = slices.Clone(snap.Instances)
	m.runs[snap.RunID] = snap
	return nil
}

func (m *Memory) SaveInstance(ctx context.Context, runID string, inst run.InstanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.runs[runID]
	if !ok {
		return &Error{Op: "save_instance", Err: ErrNotFound}
	}
	idx := slices.IndexFunc(snap.Instances, func(is run.InstanceSnapshot) bool { return is.TaskID == inst.TaskID })
	if idx >= 0 {
		snap.Instances[idx] = inst
	} else {
		snap.Instances = append(snap.Instances, inst)
	}
	m.runs[runID] = snap
	return nil
}

func (m *Memory) LoadRun(ctx context.Context, runID string) (run.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.runs[runID]
	if !ok {
		return run.Snapshot{}, &Error{Op: "load_run", Err: ErrNotFound}
	}
	snap.Instances = slices.Clone(snap.Instances)
	return snap, nil
}

func (m *Memory) ListRuns(ctx context.Context, graphID string) ([]run.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []run.Snapshot
	for _, snap := range m.runs {
		if snap.GraphID == graphID {
			snap.Instances = slices.Clone(snap.Instances)
			out = append(out, snap)
		}
	}
	slices.SortFunc(out, func(a, b run.Snapshot) int {
		if c := a.LogicalDate.Compare(b.LogicalDate); c != 0 {
			return c
		}
		return cmp.Compare(a.RunID, b.RunID)
	})
	return out, nil
}

func (m *Memory) Close() error { return nil }

