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

package definition

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goflow/backoff"
	"github.com/aaronlmathis/goflow/dag"
	"github.com/aaronlmathis/goflow/dispatcher"
	"github.com/aaronlmathis/goflow/run"
)

const nightly = `
id: nightly_users
description: Refresh the users mart
schedule: "@daily"
max_active_tasks: 2
params:
  bucket: raw-users
default_args:
  retries: 2
  retry_delay: 30s
  execution_timeout: 600
tasks:
  - id: extract
    operator: bash
    command: echo "$GOFLOW_PARAM_BUCKET"
  - id: transform
    operator: bash
    upstream: [extract]
    command: echo transformed
    retries: 0
    env:
      MODE: full
  - id: load
    operator: empty
    upstream: [transform]
    retry_exponential_backoff: true
    max_retry_delay: 5m
  - id: notify
    operator: empty
    upstream: [load]
    trigger_rule: all_done
    tags: [alerts]
`

func TestLoad(t *testing.T) {
	g, err := Load(strings.NewReader(nightly), NewRegistry(nil))
	require.NoError(t, err)

	assert.Equal(t, "nightly_users", g.ID())
	assert.Equal(t, "Refresh the users mart", g.Description())
	assert.Equal(t, "@daily", g.Schedule())
	assert.Equal(t, 2, g.MaxActiveTasks())
	assert.Equal(t, "raw-users", g.Params()["bucket"])
	assert.Equal(t, []string{"extract", "transform", "load", "notify"}, g.TopologicalOrder())

	extract, _ := g.Task("extract")
	assert.Equal(t, 2, extract.RetryLimit)
	assert.Equal(t, 10*time.Minute, extract.Timeout)
	assert.Equal(t, &backoff.Fixed{FixedDelay: 30 * time.Second}, extract.Backoff)

	transform, _ := g.Task("transform")
	assert.Equal(t, 0, transform.RetryLimit)
	assert.Equal(t, []string{"extract"}, transform.Upstream)

	load, _ := g.Task("load")
	assert.Equal(t, &backoff.Exponential{BaseDelay: 30 * time.Second, MaxDelay: 5 * time.Minute}, load.Backoff)

	notify, _ := g.Task("notify")
	assert.Equal(t, dag.TriggerAllDone, notify.TriggerRule)
	assert.Equal(t, []string{"alerts"}, notify.Tags)
}

func TestLoadedGraphRuns(t *testing.T) {
	g, err := Load(strings.NewReader(nightly), NewRegistry(nil))
	require.NoError(t, err)

	r := run.New(g, "manual", time.Now())
	state, err := dispatcher.New().Run(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, run.RunSuccess, state)

	extract, _ := r.Instance("extract")
	assert.Equal(t, "raw-users", extract.Result)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", "", "empty definition"},
		{"missing id", "tasks: [{id: a, operator: empty}]", "id is required"},
		{"no tasks", "id: x", "at least one task"},
		{"unknown field", "id: x\nowner: me\ntasks: [{id: a, operator: empty}]", "field owner not found"},
		{"unknown operator", "id: x\ntasks: [{id: a, operator: docker}]", `unknown operator "docker"`},
		{"sql without database", "id: x\ntasks: [{id: a, operator: sql, query: SELECT 1}]", `unknown operator "sql"`},
		{"bash without command", "id: x\ntasks: [{id: a, operator: bash}]", "needs a command"},
		{"bad duration", "id: x\ntasks: [{id: a, operator: empty, retry_delay: soon}]", `invalid duration "soon"`},
		{"duplicate task", "id: x\ntasks: [{id: a, operator: empty}, {id: a, operator: empty}]", "duplicate"},
		{"cycle", "id: x\ntasks: [{id: a, operator: empty, upstream: [b]}, {id: b, operator: empty, upstream: [a]}]", "cycle"},
		{"dangling upstream", "id: x\ntasks: [{id: a, operator: empty, upstream: [ghost]}]", "ghost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml), NewRegistry(nil))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			var defErr *Error
			assert.ErrorAs(t, err, &defErr)
		})
	}
}

func TestLoadKeepsGraphErrorTypes(t *testing.T) {
	_, err := Load(strings.NewReader("id: x\ntasks: [{id: a, operator: empty, upstream: [a]}]"), NewRegistry(nil))
	var cycle *dag.CycleError
	assert.ErrorAs(t, err, &cycle)
}

func TestLoadFileNamesThePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: x\ntasks: [{id: a, operator: nope}]"), 0o644))

	_, err := LoadFile(path, NewRegistry(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), NewRegistry(nil))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCustomOperators(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("constant", func(spec TaskSpec) (dag.TaskFunc, error) {
		return func(ctx context.Context, in dag.Input) (interface{}, error) {
			return spec.Description, nil
		}, nil
	})
	assert.Equal(t, []string{"aggregate", "bash", "check", "constant", "empty", "extract", "filter", "load", "transform"}, reg.Operators())

	g, err := Load(strings.NewReader("id: x\ntasks: [{id: a, operator: constant, description: hi}]"), reg)
	require.NoError(t, err)
	task, _ := g.Task("a")
	out, err := task.Fn(context.Background(), dag.Input{})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestDurationForms(t *testing.T) {
	f, err := Parse(strings.NewReader("id: x\ndefault_args: {retry_delay: 1.5, max_retry_delay: 2m}\ntasks: [{id: a, operator: empty}]"))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, f.DefaultArgs.RetryDelay.Std())
	assert.Equal(t, 2*time.Minute, f.DefaultArgs.MaxRetryDelay.Std())
	assert.Zero(t, f.DefaultArgs.ExecutionTimeout.Std())
}
