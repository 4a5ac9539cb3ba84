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

// Package retry decides whether a failed task instance is attempted again
// and when it becomes eligible.
package retry

import (
	"errors"
	"time"

	"github.com/aaronlmathis/goflow/backoff"
	"github.com/aaronlmathis/goflow/dag"
	"github.com/aaronlmathis/goflow/run"
)

// Policy is consulted by the dispatcher after every failed attempt.
type Policy interface {
	// ShouldRetry reports whether the failed instance gets another attempt.
	ShouldRetry(ti run.TaskInstance, task dag.Task) bool
	// NextEligible returns the earliest time the next attempt may start.
	NextEligible(ti run.TaskInstance, task dag.Task, now time.Time) time.Time
}

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent failure: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that no retry policy retries it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// DefaultPolicy retries up to the task's retry limit, so a task with
// RetryLimit n runs at most n+1 times. Delays come from the task's backoff
// strategy, or Fallback when the task has none.
type DefaultPolicy struct {
	Fallback backoff.Strategy
	// RetryOn restricts retries to failures matching one of these errors.
	// Empty means every failure is retried.
	RetryOn []error
}

// NewDefaultPolicy creates a policy falling back to exponential backoff.
func NewDefaultPolicy() *DefaultPolicy {
	return &DefaultPolicy{Fallback: backoff.Default()}
}

func (p *DefaultPolicy) ShouldRetry(ti run.TaskInstance, task dag.Task) bool {
	if ti.Attempts > task.RetryLimit {
		return false
	}
	var permanent *PermanentError
	if errors.As(ti.Err, &permanent) {
		return false
	}
	return p.retryable(ti.Err)
}

func (p *DefaultPolicy) NextEligible(ti run.TaskInstance, task dag.Task, now time.Time) time.Time {
	strategy := task.Backoff
	if strategy == nil {
		strategy = p.Fallback
	}
	if strategy == nil {
		strategy = backoff.Default()
	}
	return now.Add(strategy.Delay(max(0, ti.Attempts-1)))
}

func (p *DefaultPolicy) retryable(err error) bool {
	if len(p.RetryOn) == 0 {
		return true
	}
	for _, retryErr := range p.RetryOn {
		if errors.Is(err, retryErr) {
			return true
		}
	}
	return false
}
