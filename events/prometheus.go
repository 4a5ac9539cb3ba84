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

package events

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aaronlmathis/goflow/run"
)

// PrometheusSink turns transitions into metrics.
type PrometheusSink struct {
	transitions *prometheus.CounterVec
	runs        *prometheus.CounterVec
	running     *prometheus.GaugeVec
	duration    *prometheus.HistogramVec

	mu      sync.Mutex
	started map[attemptKey]time.Time
}

type attemptKey struct {
	runID  string
	taskID string
}

// NewPrometheusSink registers the goflow metrics with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goflow",
			Name:      "task_transitions_total",
			Help:      "Task instance state transitions by target state.",
		}, []string{"graph_id", "state"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goflow",
			Name:      "runs_finished_total",
			Help:      "Runs that reached a terminal state.",
		}, []string{"graph_id", "state"}),
		running: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "goflow",
			Name:      "tasks_running",
			Help:      "Task instances currently executing.",
		}, []string{"graph_id"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "goflow",
			Name:      "task_attempt_duration_seconds",
			Help:      "Wall-clock duration of task attempts by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"graph_id", "outcome"}),
		started: make(map[attemptKey]time.Time),
	}
}

func (s *PrometheusSink) Emit(ev run.Event) {
	if ev.Kind == run.EventRun {
		if run.RunState(ev.To).Terminal() {
			s.runs.WithLabelValues(ev.GraphID, ev.To).Inc()
		}
		return
	}

	s.transitions.WithLabelValues(ev.GraphID, ev.To).Inc()

	key := attemptKey{runID: ev.RunID, taskID: ev.TaskID}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.To == string(run.Running) {
		s.running.WithLabelValues(ev.GraphID).Inc()
		s.started[key] = ev.At
		return
	}
	if ev.From == string(run.Running) {
		s.running.WithLabelValues(ev.GraphID).Dec()
		if start, ok := s.started[key]; ok {
			s.duration.WithLabelValues(ev.GraphID, ev.To).Observe(ev.At.Sub(start).Seconds())
			delete(s.started, key)
		}
	}
}
