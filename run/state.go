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
	"fmt"
	"time"
)

// State is the lifecycle state of a TaskInstance.
type State string

const (
	Pending   State = "pending"
	Queued    State = "queued"
	Running   State = "running"
	Success   State = "success"
	Failed    State = "failed"
	Skipped   State = "skipped"
	Cancelled State = "cancelled"
)

// RunState is the overall state of a Run, reduced from its instances.
type RunState string

const (
	RunRunning   RunState = "running"
	RunSuccess   RunState = "success"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s RunState) Terminal() bool {
	return s != RunRunning
}

// SkipReason tells a propagated skip apart from one requested by the task.
type SkipReason string

const (
	SkipUpstreamFailed SkipReason = "upstream_failed"
	SkipByDesign       SkipReason = "by_design"
)

// TransitionError reports a disallowed state change.
type TransitionError struct {
	TaskID string
	From   State
	To     State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("disallowed transition for %q: %s -> %s", e.TaskID, e.From, e.To)
}

// TaskInstance is the state of one task within one run.
type TaskInstance struct {
	TaskID     string
	RunID      string
	State      State
	Attempts   int
	StartedAt  time.Time
	EndedAt    time.Time
	RetryAt    time.Time // set while a failed instance waits for its next attempt
	Result     interface{}
	Reason     string
	Err        error
	SkipReason SkipReason
}

// AwaitingRetry reports whether a failed instance will be attempted again.
func (ti TaskInstance) AwaitingRetry() bool {
	return ti.State == Failed && !ti.RetryAt.IsZero()
}

// Terminal reports whether the instance reached its final state.
func (ti TaskInstance) Terminal() bool {
	switch ti.State {
	case Success, Skipped, Cancelled:
		return true
	case Failed:
		return ti.RetryAt.IsZero()
	default:
		return false
	}
}

// Satisfied reports whether the instance completed in a way every trigger
// rule accepts.
func (ti TaskInstance) Satisfied() bool {
	return ti.State == Success
}

// Tolerable reports whether the instance is acceptable to tasks that tolerate
// skipped upstreams.
func (ti TaskInstance) Tolerable() bool {
	return ti.State == Success || (ti.State == Skipped && ti.SkipReason == SkipByDesign)
}

// Broken reports whether the instance ended without producing its work.
func (ti TaskInstance) Broken() bool {
	if !ti.Terminal() {
		return false
	}
	return ti.State == Failed || ti.State == Cancelled ||
		(ti.State == Skipped && ti.SkipReason == SkipUpstreamFailed)
}

func allowed(ti TaskInstance, to State) bool {
	switch ti.State {
	case Pending:
		return to == Queued || to == Skipped || to == Cancelled
	case Queued:
		return to == Running || to == Cancelled
	case Running:
		return to == Success || to == Failed || to == Skipped || to == Cancelled
	case Failed:
		return ti.AwaitingRetry() && (to == Queued || to == Cancelled)
	default:
		return false
	}
}
