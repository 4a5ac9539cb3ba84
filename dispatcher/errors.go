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

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStalled is returned when no instance of a running run can make
// progress. It indicates a bug in a retry policy or trigger rule.
var ErrStalled = errors.New("run cannot make progress")

// ErrNoStore is returned by Resume when the dispatcher has no store.
var ErrNoStore = errors.New("dispatcher has no store")

// TimeoutError is the failure recorded when an attempt exceeds its task
// timeout. It matches context.DeadlineExceeded.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %q timed out after %s", e.TaskID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// PanicError is the failure recorded when a task function panics.
type PanicError struct {
	TaskID string
	Value  interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %q panicked: %v", e.TaskID, e.Value)
}
