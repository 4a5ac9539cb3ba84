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

// Package events delivers run and task state transitions to observability
// sinks: structured logs, JSON lines and Prometheus metrics.
package events

import (
	"slices"
	"sync"

	"github.com/aaronlmathis/goflow/run"
)

// Sink receives every state transition. Emit is called from the control
// loop of a run and must not block for long.
type Sink interface {
	Emit(ev run.Event)
}

// SinkFunc is a function adapter for the Sink interface.
type SinkFunc func(ev run.Event)

// Emit implements the Sink interface for SinkFunc.
func (f SinkFunc) Emit(ev run.Event) {
	f(ev)
}

// Multi fans events out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(ev run.Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ev)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(run.Event) {})

// Recorder keeps events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []run.Event
}

func (r *Recorder) Emit(ev run.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []run.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// ForTask returns the recorded transitions of one task in one run.
func (r *Recorder) ForTask(runID, taskID string) []run.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []run.Event
	for _, ev := range r.events {
		if ev.Kind == run.EventTask && ev.RunID == runID && ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}
