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

// Package definition loads graphs from YAML files.
//
// A file names its tasks, their operators and dependencies:
//
//	id: nightly_users
//	schedule: "@daily"
//	default_args:
//	  retries: 2
//	  retry_delay: 30s
//	tasks:
//	  - id: extract
//	    operator: bash
//	    command: ./extract.sh
//	  - id: load
//	    operator: sql
//	    upstream: [extract]
//	    query: CALL refresh_users()
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aaronlmathis/goflow/backoff"
	"github.com/aaronlmathis/goflow/dag"
)

// DefaultRetryDelay applies to tasks with retries but no retry_delay.
const DefaultRetryDelay = 5 * time.Minute

// Error reports a problem with a definition file.
type Error struct {
	Path   string // File path, if loaded from disk
	TaskID string // Task the problem belongs to, if any
	Err    error
}

func (e *Error) Error() string {
	msg := "definition"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.TaskID != "" {
		msg += fmt.Sprintf(" task %q", e.TaskID)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Parse decodes a definition without building the graph. Unknown fields are
// rejected.
func Parse(r io.Reader) (*File, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var f File
	if err := decoder.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &Error{Err: errors.New("empty definition")}
		}
		return nil, &Error{Err: err}
	}
	if f.ID == "" {
		return nil, &Error{Err: errors.New("id is required")}
	}
	if len(f.Tasks) == 0 {
		return nil, &Error{Err: errors.New("at least one task is required")}
	}
	return &f, nil
}

// Load parses a definition and builds its graph with operators from reg.
func Load(r io.Reader, reg *Registry) (*dag.Graph, error) {
	f, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return Build(f, reg)
}

// LoadFile loads a definition from disk.
func LoadFile(path string, reg *Registry) (*dag.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	g, err := Load(bytes.NewReader(data), reg)
	var defErr *Error
	if errors.As(err, &defErr) {
		defErr.Path = path
	}
	return g, err
}

// Build turns a parsed definition into a finalized graph.
func Build(f *File, reg *Registry) (*dag.Graph, error) {
	b := dag.NewGraph(f.ID).
		WithDescription(f.Description).
		WithSchedule(f.Schedule).
		WithMaxActiveTasks(f.MaxActiveTasks).
		WithParams(f.Params)

	for _, spec := range f.Tasks {
		fn, err := reg.Build(spec)
		if err != nil {
			return nil, &Error{TaskID: spec.ID, Err: err}
		}
		if err := b.AddTask(spec.ID, fn, taskOptions(spec, f.DefaultArgs)...); err != nil {
			return nil, &Error{TaskID: spec.ID, Err: err}
		}
	}

	g, err := b.Finalize()
	if err != nil {
		return nil, &Error{Err: err}
	}
	return g, nil
}

func taskOptions(spec TaskSpec, defaults Args) []dag.TaskOption {
	args := spec.Args.merge(defaults)
	opts := []dag.TaskOption{
		dag.WithUpstream(spec.Upstream...),
		dag.WithTriggerRule(dag.TriggerRule(spec.TriggerRule)),
		dag.WithDescription(spec.Description),
		dag.WithTags(spec.Tags...),
		dag.WithTimeout(args.ExecutionTimeout.Std()),
	}
	if args.Retries != nil {
		opts = append(opts, dag.WithRetries(*args.Retries, retryBackoff(args)))
	}
	return opts
}

func retryBackoff(args Args) backoff.Strategy {
	delay := DefaultRetryDelay
	if args.RetryDelay != nil {
		delay = args.RetryDelay.Std()
	}
	if args.RetryExponentialBackoff != nil && *args.RetryExponentialBackoff {
		return &backoff.Exponential{BaseDelay: delay, MaxDelay: args.MaxRetryDelay.Std()}
	}
	if delay == 0 {
		return &backoff.None{}
	}
	return &backoff.Fixed{FixedDelay: delay}
}
