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

// Package scheduler computes which task instances of a run may be dispatched.
//
// Every function here is a pure read of the run: nothing is mutated, and
// calling a function twice without an intervening state change returns the
// same answer. The dispatcher applies the results.
package scheduler

import (
	"github.com/aaronlmathis/goflow/dag"
	"github.com/aaronlmathis/goflow/run"
)

// Verdict is the decision for a single pending instance.
type Verdict int

const (
	// Wait means some upstream instance has not reached a usable state yet.
	Wait Verdict = iota
	// Ready means the instance may be dispatched.
	Ready
	// Doomed means upstream outcomes prevent the instance from ever running.
	Doomed
)

// ReadyTasks returns, in topological order with id as tie-break, every
// pending instance whose upstream instances satisfy its trigger rule.
func ReadyTasks(r *run.Run) []run.TaskInstance {
	instances := r.Instances()
	byID := index(instances)
	g := r.Graph()

	var ready []run.TaskInstance
	for _, ti := range instances {
		if ti.State != run.Pending {
			continue
		}
		task, _ := g.Task(ti.TaskID)
		if verdict, _ := Evaluate(task, byID); verdict == Ready {
			ready = append(ready, ti)
		}
	}
	return ready
}

// SkippableTasks returns every pending instance that can no longer run,
// including instances that are only doomed because an upstream in the same
// result is. Returned copies carry the skip reason to apply, in topological
// order so they can be applied one by one.
func SkippableTasks(r *run.Run) []run.TaskInstance {
	instances := r.Instances()
	byID := index(instances)
	g := r.Graph()

	var doomed []run.TaskInstance
	for _, ti := range instances {
		if ti.State != run.Pending {
			continue
		}
		task, _ := g.Task(ti.TaskID)
		verdict, reason := Evaluate(task, byID)
		if verdict != Doomed {
			continue
		}
		ti.State = run.Skipped
		ti.SkipReason = reason
		ti.Reason = string(reason)
		byID[ti.TaskID] = ti
		doomed = append(doomed, ti)
	}
	return doomed
}

// Evaluate applies the task's trigger rule to the current upstream instances.
// The skip reason is only meaningful for Doomed.
func Evaluate(task dag.Task, instances map[string]run.TaskInstance) (Verdict, run.SkipReason) {
	var waiting, broken, skipped bool
	for _, dep := range task.Upstream {
		up := instances[dep]
		switch {
		case !up.Terminal():
			waiting = true
		case up.Broken():
			broken = true
		case up.State == run.Skipped:
			skipped = true
		}
	}

	switch task.TriggerRule {
	case dag.TriggerAllDone:
		if waiting {
			return Wait, ""
		}
		return Ready, ""
	case dag.TriggerNoneFailed:
		if broken {
			return Doomed, run.SkipUpstreamFailed
		}
		if waiting {
			return Wait, ""
		}
		return Ready, ""
	default:
		if broken {
			return Doomed, run.SkipUpstreamFailed
		}
		if skipped {
			return Doomed, run.SkipByDesign
		}
		if waiting {
			return Wait, ""
		}
		return Ready, ""
	}
}

func index(instances []run.TaskInstance) map[string]run.TaskInstance {
	byID := make(map[string]run.TaskInstance, len(instances))
	for _, ti := range instances {
		byID[ti.TaskID] = ti
	}
	return byID
}
