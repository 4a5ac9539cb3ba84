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

// Package store persists run state so a crashed control loop can resume a
// run without re-executing finished tasks.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aaronlmathis/goflow/run"
)

// ErrNotFound is returned when a run has never been saved.
var ErrNotFound = errors.New("run not found")

// Error wraps store failures with the operation being performed.
type Error struct {
	Op  string // The operation being performed (e.g., "save_run", "load_run")
	Err error  // The underlying error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Store records run snapshots and individual task instance transitions.
type Store interface {
	// SaveRun upserts the run and every instance in the snapshot.
	SaveRun(ctx context.Context, snap run.Snapshot) error
	// SaveInstance upserts one task instance of an already saved run.
	SaveInstance(ctx context.Context, runID string, inst run.InstanceSnapshot) error
	// LoadRun returns the last saved state of a run.
	LoadRun(ctx context.Context, runID string) (run.Snapshot, error)
	// ListRuns returns the runs of a graph ordered by logical date.
	ListRuns(ctx context.Context, graphID string) ([]run.Snapshot, error)
	Close() error
}
