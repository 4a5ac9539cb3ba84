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

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goflow/run"
	"github.com/aaronlmathis/goflow/store"
)

const pipeline = `
id: cli_pipeline
schedule: "@daily"
default_args:
  retries: 0
tasks:
  - id: extract
    operator: bash
    command: echo extracted
  - id: load
    operator: empty
    upstream: [extract]
`

const broken = `
id: cli_broken
default_args:
  retries: 0
tasks:
  - id: extract
    operator: bash
    command: exit 3
  - id: load
    operator: empty
    upstream: [extract]
`

func writeDAG(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "dag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", writeDAG(t, pipeline))
	require.NoError(t, err)
	assert.Contains(t, out, "Graph: cli_pipeline")
	assert.Contains(t, out, "Schedule: @daily")
	assert.Contains(t, out, "<- depends on: [extract]")
}

func TestValidateRejectsCycle(t *testing.T) {
	cyclic := `
id: cyclic
tasks:
  - id: a
    operator: empty
    upstream: [b]
  - id: b
    operator: empty
    upstream: [a]
`
	_, err := execute(t, "validate", writeDAG(t, cyclic))
	assert.ErrorContains(t, err, "cycle")
}

func TestRun(t *testing.T) {
	eventsPath := filepath.Join(t.TempDir(), "events.jsonl")
	out, err := execute(t, "run", writeDAG(t, pipeline),
		"--logical-date", "2024-03-01", "--events", eventsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "logical date 2024-03-01T00:00:00Z): success")
	assert.Regexp(t, `extract\s+success\s+1`, out)

	f, err := os.Open(eventsPath)
	require.NoError(t, err)
	defer f.Close()

	var last run.Event
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &last))
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Greater(t, lines, 4)
	assert.Equal(t, run.EventRun, last.Kind)
	assert.Equal(t, string(run.RunSuccess), last.To)
}

func TestRunFailure(t *testing.T) {
	out, err := execute(t, "run", writeDAG(t, broken))
	assert.ErrorContains(t, err, "finished failed")
	assert.Regexp(t, `extract\s+failed\s+1`, out)
	assert.Contains(t, out, "upstream_failed")
}

func TestBackfill(t *testing.T) {
	out, err := execute(t, "backfill", writeDAG(t, pipeline), "--from", "2024-01-01", "--to", "2024-01-03")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "scheduled__2024-01-01T00:00:00Z\tsuccess", lines[0])
	assert.Equal(t, "scheduled__2024-01-03T00:00:00Z\tsuccess", lines[2])
}

func TestBackfillNeedsRange(t *testing.T) {
	_, err := execute(t, "backfill", writeDAG(t, pipeline), "--from", "2024-01-01")
	assert.ErrorContains(t, err, `"to" not set`)
}

func TestStatusUnknownRun(t *testing.T) {
	_, err := execute(t, "status", "manual__missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExportArguments(t *testing.T) {
	_, err := execute(t, "export", "--format", "xml", "r1")
	assert.ErrorContains(t, err, `unknown format "xml"`)

	_, err = execute(t, "export")
	assert.ErrorContains(t, err, "give run ids or --graph")

	out, err := execute(t, "export", "--graph", "nothing", "--format", "csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "run_id,"))
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2024-05-06")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("2024-05-06T10:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 6, 8, 30, 0, 0, time.UTC), got)

	_, err = parseDate("yesterday")
	assert.ErrorContains(t, err, "invalid date")
}
