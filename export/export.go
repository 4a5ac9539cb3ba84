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

// Package export writes run history as CSV or Parquet and uploads archives
// to S3.
package export

import (
	"fmt"
	"time"

	"github.com/aaronlmathis/goflow/core"
	"github.com/aaronlmathis/goflow/run"
)

// Columns is the column order of every export format.
var Columns = []string{
	"run_id", "graph_id", "logical_date", "run_state",
	"task_id", "state", "attempts",
	"started_at", "ended_at", "retry_at",
	"reason", "skip_reason",
}

// Error wraps export failures with the operation being performed.
type Error struct {
	Op  string // The operation being performed (e.g., "write_csv", "upload")
	Err error  // The underlying error
}

func (e *Error) Error() string {
	return fmt.Sprintf("export %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Rows flattens snapshots into one record per task instance. Zero times are
// nil.
func Rows(snapshots ...run.Snapshot) []core.Record {
	var rows []core.Record
	for _, snap := range snapshots {
		for _, inst := range snap.Instances {
			rows = append(rows, core.Record{
				"run_id":       snap.RunID,
				"graph_id":     snap.GraphID,
				"logical_date": snap.LogicalDate.UTC(),
				"run_state":    string(snap.State),
				"task_id":      inst.TaskID,
				"state":        string(inst.State),
				"attempts":     int64(inst.Attempts),
				"started_at":   optionalTime(inst.StartedAt),
				"ended_at":     optionalTime(inst.EndedAt),
				"retry_at":     optionalTime(inst.RetryAt),
				"reason":       inst.Reason,
				"skip_reason":  string(inst.SkipReason),
			})
		}
	}
	return rows
}

func optionalTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
