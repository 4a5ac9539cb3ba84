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
	"context"
	"errors"
	"slices"
	"time"

	"github.com/aaronlmathis/goflow/backoff"
)

// TriggerRule decides how a task reacts to the terminal states of its upstream tasks
type TriggerRule string

const (
	TriggerAllSuccess TriggerRule = "all_success" // Every upstream succeeded (default)
	TriggerNoneFailed TriggerRule = "none_failed" // Every upstream succeeded or was skipped by design
	TriggerAllDone    TriggerRule = "all_done"    // Every upstream is terminal, whatever the outcome
)

// Valid reports whether r is a known trigger rule. The empty rule is valid
// and means TriggerAllSuccess.
func (r TriggerRule) Valid() bool {
	switch r {
	case "", TriggerAllSuccess, TriggerNoneFailed, TriggerAllDone:
		return true
	}
	return false
}

// ErrSkip may be returned by a TaskFunc to end the task as skipped by design.
var ErrSkip = errors.New("task skipped")

// Input is handed to a TaskFunc on every attempt.
type Input struct {
	RunID       string
	GraphID     string
	TaskID      string
	Attempt     int // 1-based
	LogicalDate time.Time
	Params      map[string]interface{}
	Upstream    map[string]interface{} // results of direct upstream tasks that succeeded
}

// TaskFunc is the unit of work behind a task.
type TaskFunc func(ctx context.Context, in Input) (interface{}, error)

// Task is the definition of one node in a Graph.
type Task struct {
	ID          string
	Upstream    []string
	Fn          TaskFunc
	RetryLimit  int
	Backoff     backoff.Strategy
	Timeout     time.Duration
	TriggerRule TriggerRule
	Description string
	Tags        []string
}

// Tolerates reports whether the task may run after an upstream task was
// skipped by design.
func (t Task) Tolerates() bool {
	return t.TriggerRule == TriggerNoneFailed || t.TriggerRule == TriggerAllDone
}

// RunsRegardless reports whether the task runs even when upstream tasks failed.
func (t Task) RunsRegardless() bool {
	return t.TriggerRule == TriggerAllDone
}

func (t Task) clone() Task {
	t.Upstream = slices.Clone(t.Upstream)
	t.Tags = slices.Clone(t.Tags)
	return t
}

// TaskOption is a functional option for configuring tasks
type TaskOption func(*Task)

// WithUpstream declares the tasks that must complete first
func WithUpstream(ids ...string) TaskOption {
	return func(t *Task) {
		t.Upstream = append(t.Upstream, ids...)
	}
}

// WithRetries sets the retry limit and backoff for a task
func WithRetries(limit int, strategy backoff.Strategy) TaskOption {
	return func(t *Task) {
		t.RetryLimit = limit
		t.Backoff = strategy
	}
}

// WithTimeout bounds the wall-clock time of a single attempt
func WithTimeout(timeout time.Duration) TaskOption {
	return func(t *Task) {
		t.Timeout = timeout
	}
}

// WithTriggerRule sets the trigger rule for a task
func WithTriggerRule(rule TriggerRule) TaskOption {
	return func(t *Task) {
		t.TriggerRule = rule
	}
}

// WithDescription sets the description for a task
func WithDescription(description string) TaskOption {
	return func(t *Task) {
		t.Description = description
	}
}

// WithTags adds tags to a task
func WithTags(tags ...string) TaskOption {
	return func(t *Task) {
		t.Tags = append(t.Tags, tags...)
	}
}
