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

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goflow/run"
)

func sampleSnapshot(runID, graphID string, logical time.Time) run.Snapshot {
	started := logical.Add(time.Minute)
	return run.Snapshot{
		RunID:       runID,
		GraphID:     graphID,
		LogicalDate: logical,
		State:       run.RunRunning,
		StartedAt:   started,
		Instances: []run.InstanceSnapshot{
			{TaskID: "extract", State: run.Success, Attempts: 1, StartedAt: started, EndedAt: started.Add(time.Second), Result: "rows"},
			{TaskID: "transform", State: run.Failed, Attempts: 1, StartedAt: started, EndedAt: started.Add(2 * time.Second),
				RetryAt: started.Add(time.Minute), Reason: "connection reset"},
			{TaskID: "load", State: run.Pending},
		},
	}
}

func instanceByID(t *testing.T, snap run.Snapshot, taskID string) run.InstanceSnapshot {
	t.Helper()
	for _, inst := range snap.Instances {
		if inst.TaskID == taskID {
			return inst
		}
	}
	t.Fatalf("instance %s not found in run %s", taskID, snap.RunID)
	return run.InstanceSnapshot{}
}

// exerciseStore runs the behaviour every Store implementation shares.
func exerciseStore(t *testing.T, s Store, prefix string) {
	ctx := context.Background()
	graphID := prefix + "etl"
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("load missing run", func(t *testing.T) {
		_, err := s.LoadRun(ctx, prefix+"missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save instance of missing run", func(t *testing.T) {
		err := s.SaveInstance(ctx, prefix+"missing", run.InstanceSnapshot{TaskID: "extract", State: run.Queued})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("round trip", func(t *testing.T) {
		snap := sampleSnapshot(prefix+"r1", graphID, day)
		require.NoError(t, s.SaveRun(ctx, snap))

		got, err := s.LoadRun(ctx, snap.RunID)
		require.NoError(t, err)
		assert.Equal(t, snap.GraphID, got.GraphID)
		assert.Equal(t, run.RunRunning, got.State)
		assert.True(t, snap.LogicalDate.Equal(got.LogicalDate))
		assert.True(t, got.EndedAt.IsZero())
		require.Len(t, got.Instances, 3)

		extract := instanceByID(t, got, "extract")
		assert.Equal(t, run.Success, extract.State)
		assert.Equal(t, "rows", extract.Result)

		transform := instanceByID(t, got, "transform")
		assert.Equal(t, "connection reset", transform.Reason)
		assert.True(t, snap.Instances[1].RetryAt.Equal(transform.RetryAt))

		load := instanceByID(t, got, "load")
		assert.Equal(t, run.Pending, load.State)
		assert.True(t, load.StartedAt.IsZero())
	})

	t.Run("save instance updates in place", func(t *testing.T) {
		now := day.Add(time.Hour)
		err := s.SaveInstance(ctx, prefix+"r1", run.InstanceSnapshot{
			TaskID: "load", State: run.Running, Attempts: 1, StartedAt: now,
		})
		require.NoError(t, err)

		got, err := s.LoadRun(ctx, prefix+"r1")
		require.NoError(t, err)
		require.Len(t, got.Instances, 3)
		load := instanceByID(t, got, "load")
		assert.Equal(t, run.Running, load.State)
		assert.Equal(t, 1, load.Attempts)
		assert.True(t, now.Equal(load.StartedAt))
	})

	t.Run("list runs ordered by logical date", func(t *testing.T) {
		require.NoError(t, s.SaveRun(ctx, sampleSnapshot(prefix+"r0", graphID, day.Add(-24*time.Hour))))
		require.NoError(t, s.SaveRun(ctx, sampleSnapshot(prefix+"r2", graphID, day.Add(24*time.Hour))))
		require.NoError(t, s.SaveRun(ctx, sampleSnapshot(prefix+"other", prefix+"other", day)))

		runs, err := s.ListRuns(ctx, graphID)
		require.NoError(t, err)
		var ids []string
		for _, snap := range runs {
			ids = append(ids, snap.RunID)
		}
		assert.Equal(t, []string{prefix + "r0", prefix + "r1", prefix + "r2"}, ids)
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	exerciseStore(t, s, "")
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	snap := sampleSnapshot("r1", "etl", time.Now())
	require.NoError(t, s.SaveRun(ctx, snap))

	snap.Instances[0].State = run.Cancelled
	got, err := s.LoadRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.Success, got.Instances[0].State)

	got.Instances[0].State = run.Cancelled
	again, err := s.LoadRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.Success, again.Instances[0].State)
}

func TestErrorWrapping(t *testing.T) {
	err := &Error{Op: "load_run", Err: ErrNotFound}
	assert.Equal(t, "store load_run: run not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresOptions(t *testing.T) {
	opts := &PostgresOptions{}
	WithPostgresDSN("postgres://localhost/goflow")(opts)
	WithPostgresQueryTimeout(3 * time.Second)(opts)
	WithPostgresConnectionPool(4, 2, time.Minute)(opts)
	opts = opts.withDefaults()

	assert.Equal(t, "postgres://localhost/goflow", opts.DSN)
	assert.Equal(t, 3*time.Second, opts.QueryTimeout)
	assert.Equal(t, 4, opts.MaxOpenConns)
	assert.Equal(t, 2, opts.MaxIdleConns)
	assert.Equal(t, time.Minute, opts.ConnMaxLifetime)

	_, err := NewPostgres(context.Background())
	assert.ErrorContains(t, err, "dsn is required")
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("GOFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GOFLOW_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgres(ctx, WithPostgresDSN(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	prefix := "test-" + time.Now().Format("20060102150405.000000") + "-"
	t.Cleanup(func() {
		s.db.ExecContext(ctx, `DELETE FROM goflow_runs WHERE run_id LIKE $1`, prefix+"%")
	})
	exerciseStore(t, s, prefix)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("GOFLOW_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("GOFLOW_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := NewMongo(ctx, WithMongoURI(uri), WithMongoDatabase("goflow_test", "runs"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	t.Cleanup(func() {
		s.collection.Drop(ctx)
	})
	exerciseStore(t, s, "")
}
