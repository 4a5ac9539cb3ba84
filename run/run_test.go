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

package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goflow/dag"
)

func noop(ctx context.Context, in dag.Input) (interface{}, error) { return nil, nil }

func etlGraph(t *testing.T) *dag.Graph {
	t.Helper()
	b := dag.NewGraph("etl")
	require.NoError(t, b.AddTask("extract", noop))
	require.NoError(t, b.AddTask("transform", noop, dag.WithUpstream("extract")))
	require.NoError(t, b.AddTask("load", noop, dag.WithUpstream("transform")))
	g, err := b.Finalize()
	require.NoError(t, err)
	return g
}

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestNewRunStartsPending(t *testing.T) {
	r := New(etlGraph(t), "run-1", t0)

	assert.Equal(t, RunRunning, r.State())
	instances := r.Instances()
	require.Len(t, instances, 3)
	assert.Equal(t, []string{"extract", "transform", "load"},
		[]string{instances[0].TaskID, instances[1].TaskID, instances[2].TaskID})
	for _, ti := range instances {
		assert.Equal(t, Pending, ti.State)
		assert.Equal(t, "run-1", ti.RunID)
		assert.Zero(t, ti.Attempts)
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		steps   func(r *Run) error
		wantErr bool
	}{
		{
			name: "happy path",
			steps: func(r *Run) error {
				if _, err := r.Queue("extract", t0); err != nil {
					return err
				}
				if _, err := r.Start("extract", t0); err != nil {
					return err
				}
				_, err := r.Succeed("extract", 42, t0)
				return err
			},
		},
		{
			name: "cannot start pending",
			steps: func(r *Run) error {
				_, err := r.Start("extract", t0)
				return err
			},
			wantErr: true,
		},
		{
			name: "cannot requeue terminal failure",
			steps: func(r *Run) error {
				r.Queue("extract", t0)
				r.Start("extract", t0)
				r.Fail("extract", errors.New("boom"), time.Time{}, t0)
				_, err := r.Queue("extract", t0)
				return err
			},
			wantErr: true,
		},
		{
			name: "retry pending failure requeues",
			steps: func(r *Run) error {
				r.Queue("extract", t0)
				r.Start("extract", t0)
				r.Fail("extract", errors.New("boom"), t0.Add(time.Second), t0)
				_, err := r.Queue("extract", t0.Add(time.Second))
				return err
			},
		},
		{
			name: "success is terminal",
			steps: func(r *Run) error {
				r.Queue("extract", t0)
				r.Start("extract", t0)
				r.Succeed("extract", nil, t0)
				_, err := r.Cancel("extract", t0)
				return err
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.steps(New(etlGraph(t), "run-1", t0))
			if tt.wantErr {
				var te *TransitionError
				assert.True(t, errors.As(err, &te))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUnknownTask(t *testing.T) {
	r := New(etlGraph(t), "run-1", t0)
	_, err := r.Queue("missing", t0)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestEventsDescribeTransition(t *testing.T) {
	r := New(etlGraph(t), "run-1", t0)
	r.Queue("extract", t0)
	ev, err := r.Start("extract", t0.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, Event{
		Kind:    EventTask,
		RunID:   "run-1",
		GraphID: "etl",
		TaskID:  "extract",
		From:    "queued",
		To:      "running",
		Attempt: 1,
		At:      t0.Add(time.Second),
	}, ev)
}

func TestSettleReducesRunState(t *testing.T) {
	finish := func(r *Run, id string) {
		r.Queue(id, t0)
		r.Start(id, t0)
		r.Succeed(id, nil, t0)
	}

	t.Run("all success", func(t *testing.T) {
		r := New(etlGraph(t), "run-1", t0)
		for _, id := range []string{"extract", "transform", "load"} {
			finish(r, id)
		}
		ev, changed := r.Settle(t0)
		require.True(t, changed)
		assert.Equal(t, EventRun, ev.Kind)
		assert.Equal(t, "success", ev.To)
		assert.Equal(t, RunSuccess, r.State())

		_, changed = r.Settle(t0)
		assert.False(t, changed)
	})

	t.Run("skipped by design counts as success", func(t *testing.T) {
		r := New(etlGraph(t), "run-1", t0)
		finish(r, "extract")
		r.Queue("transform", t0)
		r.Start("transform", t0)
		r.Skip("transform", SkipByDesign, t0)
		finish(r, "load")
		r.Settle(t0)
		assert.Equal(t, RunSuccess, r.State())
	})

	t.Run("terminal failure fails run", func(t *testing.T) {
		r := New(etlGraph(t), "run-1", t0)
		r.Queue("extract", t0)
		r.Start("extract", t0)
		r.Fail("extract", errors.New("boom"), time.Time{}, t0)
		r.Skip("transform", SkipUpstreamFailed, t0)
		r.Skip("load", SkipUpstreamFailed, t0)
		r.Settle(t0)
		assert.Equal(t, RunFailed, r.State())
		_, end := r.Window()
		assert.Equal(t, t0, end)
	})

	t.Run("retry pending keeps run running", func(t *testing.T) {
		r := New(etlGraph(t), "run-1", t0)
		r.Queue("extract", t0)
		r.Start("extract", t0)
		r.Fail("extract", errors.New("boom"), t0.Add(time.Minute), t0)
		r.Skip("transform", SkipUpstreamFailed, t0)
		r.Skip("load", SkipUpstreamFailed, t0)
		_, changed := r.Settle(t0)
		assert.False(t, changed)
		assert.Equal(t, RunRunning, r.State())
	})

	t.Run("cancelled", func(t *testing.T) {
		r := New(etlGraph(t), "run-1", t0)
		finish(r, "extract")
		r.Cancel("transform", t0)
		r.Cancel("load", t0)
		r.Settle(t0)
		assert.Equal(t, RunCancelled, r.State())
		ti, _ := r.Instance("load")
		assert.Equal(t, "run cancelled", ti.Reason)
	})
}

func TestUpstreamResults(t *testing.T) {
	r := New(etlGraph(t), "run-1", t0)
	r.Queue("extract", t0)
	r.Start("extract", t0)
	r.Succeed("extract", []int{1, 2}, t0)

	assert.Equal(t, map[string]interface{}{"extract": []int{1, 2}}, r.UpstreamResults("transform"))
	assert.Empty(t, r.UpstreamResults("load"))
}

func TestSnapshotRestore(t *testing.T) {
	g := etlGraph(t)
	r := New(g, "run-1", t0)
	r.Queue("extract", t0)
	r.Start("extract", t0)
	r.Succeed("extract", "rows", t0)
	r.Queue("transform", t0)
	r.Start("transform", t0)

	snap := r.Snapshot()
	assert.Equal(t, "etl", snap.GraphID)
	require.Len(t, snap.Instances, 3)
	assert.Equal(t, Running, snap.Instances[1].State)

	restored, err := Restore(g, snap)
	require.NoError(t, err)

	extract, _ := restored.Instance("extract")
	assert.Equal(t, Success, extract.State)
	assert.Equal(t, "rows", extract.Result)
	assert.Equal(t, 1, extract.Attempts)

	transform, _ := restored.Instance("transform")
	assert.Equal(t, Pending, transform.State)
	assert.Zero(t, transform.Attempts)
	assert.Equal(t, RunRunning, restored.State())
}

func TestRestoreRejectsForeignSnapshots(t *testing.T) {
	g := etlGraph(t)

	_, err := Restore(g, Snapshot{RunID: "r", GraphID: "other"})
	assert.Error(t, err)

	_, err = Restore(g, Snapshot{RunID: "r", GraphID: "etl", Instances: []InstanceSnapshot{{TaskID: "ghost", State: Success}}})
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestRestoreKeepsFailureReason(t *testing.T) {
	g := etlGraph(t)
	snap := Snapshot{RunID: "r", GraphID: "etl", Instances: []InstanceSnapshot{
		{TaskID: "extract", State: Failed, Attempts: 2, Reason: "disk full"},
		{TaskID: "transform", State: Skipped, SkipReason: SkipUpstreamFailed, Reason: "upstream_failed"},
		{TaskID: "load", State: Skipped, SkipReason: SkipUpstreamFailed, Reason: "upstream_failed"},
	}}

	r, err := Restore(g, snap)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, r.State())
	extract, _ := r.Instance("extract")
	assert.EqualError(t, extract.Err, "disk full")
}
