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
	"go.uber.org/zap"

	"github.com/aaronlmathis/goflow/events"
	"github.com/aaronlmathis/goflow/retry"
	"github.com/aaronlmathis/goflow/store"
)

// Options configures a Dispatcher.
type Options struct {
	MaxActiveTasks int          // Per-run cap; zero uses the graph's setting
	Pool           *Pool        // Process-wide cap shared across runs; nil for none
	Policy         retry.Policy // Retry decisions; defaults to retry.NewDefaultPolicy()
	Sink           events.Sink  // Receives every state transition
	Store          store.Store  // Persists run state; nil disables persistence
	Logger         *zap.Logger
}

// Option represents a configuration function for Options.
type Option func(*Options)

// WithMaxActiveTasks overrides the graph's per-run concurrency cap.
func WithMaxActiveTasks(n int) Option {
	return func(opts *Options) {
		if n > 0 {
			opts.MaxActiveTasks = n
		}
	}
}

// WithPool shares a process-wide concurrency cap with other dispatchers.
func WithPool(pool *Pool) Option {
	return func(opts *Options) {
		opts.Pool = pool
	}
}

// WithPolicy sets the retry policy.
func WithPolicy(policy retry.Policy) Option {
	return func(opts *Options) {
		opts.Policy = policy
	}
}

// WithSink sets the event sink. Use events.Multi to fan out.
func WithSink(sink events.Sink) Option {
	return func(opts *Options) {
		opts.Sink = sink
	}
}

// WithStore enables persistence of every transition.
func WithStore(s store.Store) Option {
	return func(opts *Options) {
		opts.Store = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func (opts *Options) withDefaults() *Options {
	if opts.Policy == nil {
		opts.Policy = retry.NewDefaultPolicy()
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}
