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

package trigger

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goflow/dag"
	"github.com/aaronlmathis/goflow/dispatcher"
	"github.com/aaronlmathis/goflow/run"
	"github.com/aaronlmathis/goflow/store"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func scheduledGraph(t *testing.T, schedule string, fn dag.TaskFunc) *dag.Graph {
	b := dag.NewGraph("daily").WithSchedule(schedule)
	require.NoError(t, b.AddTask("work", fn))
	g, err := b.Finalize()
	require.NoError(t, err)
	return g
}

func ok(ctx context.Context, in dag.Input) (interface{}, error) {
	return in.LogicalDate.Format(time.DateOnly), nil
}

func TestRunIDs(t *testing.T) {
	assert.Equal(t, "scheduled__2024-01-02T00:00:00Z", ScheduledRunID(day(2)))
	id := ManualRunID()
	assert.True(t, strings.HasPrefix(id, "manual__"))
	assert.Len(t, id, len("manual__")+36)
	assert.NotEqual(t, id, ManualRunID())
}

func TestBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		from, to time.Time
		want     []time.Time
	}{
		{
			name:     "daily inclusive range",
			schedule: "@daily",
			from:     day(1),
			to:       day(3),
			want:     []time.Time{day(1), day(2), day(3)},
		},
		{
			name:     "cron expression",
			schedule: "30 6 * * *",
			from:     day(1),
			to:       day(2),
			want:     []time.Time{day(1).Add(6*time.Hour + 30*time.Minute)},
		},
		{
			name:     "from between boundaries",
			schedule: "@daily",
			from:     day(1).Add(time.Nanosecond),
			to:       day(2),
			want:     []time.Time{day(2)},
		},
		{
			name:     "empty range",
			schedule: "@daily",
			from:     day(1).Add(time.Hour),
			to:       day(1).Add(2 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig, err := New(scheduledGraph(t, tt.schedule, ok), dispatcher.New())
			require.NoError(t, err)
			got, err := trig.Boundaries(tt.from, tt.to)
			require.NoError(t, err)
			assert.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.True(t, tt.want[i].Equal(got[i]), "boundary %d: want %s got %s", i, tt.want[i], got[i])
			}
		})
	}
}

func TestBoundariesNeedSchedule(t *testing.T) {
	trig, err := New(scheduledGraph(t, "", ok), dispatcher.New())
	require.NoError(t, err)
	_, err = trig.Boundaries(day(1), day(2))
	assert.ErrorIs(t, err, ErrNoSchedule)
	assert.ErrorIs(t, trig.Start(context.Background()), ErrNoSchedule)
}

func TestInvalidSchedule(t *testing.T) {
	_, err := New(scheduledGraph(t, "every tuesday", ok), dispatcher.New())
	assert.ErrorContains(t, err, "invalid schedule")
}

func TestTriggerNow(t *testing.T) {
	trig, err := New(scheduledGraph(t, "", ok), dispatcher.New())
	require.NoError(t, err)

	r, err := trig.TriggerNow(context.Background(), day(5))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(r.ID(), "manual__"))
	assert.Equal(t, run.RunSuccess, r.State())
	ti, _ := r.Instance("work")
	assert.Equal(t, "2024-01-05", ti.Result)
}

func TestBackfillRespectsMaxActiveRuns(t *testing.T) {
	var current, peak atomic.Int32
	slow := func(ctx context.Context, in dag.Input) (interface{}, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	}
	trig, err := New(scheduledGraph(t, "@daily", slow), dispatcher.New(), WithMaxActiveRuns(2))
	require.NoError(t, err)

	runs, err := trig.Backfill(context.Background(), day(1), day(5))
	require.NoError(t, err)
	require.Len(t, runs, 5)
	for i, r := range runs {
		assert.Equal(t, ScheduledRunID(day(i+1)), r.ID())
		assert.Equal(t, run.RunSuccess, r.State())
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestBackfillIsIdempotentWithStore(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	failFirstOfDay2 := func(ctx context.Context, in dag.Input) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		calls[in.RunID]++
		if in.RunID == ScheduledRunID(day(2)) && calls[in.RunID] == 1 {
			return nil, assert.AnError
		}
		return nil, nil
	}
	mem := store.NewMemory()
	trig, err := New(scheduledGraph(t, "@daily", failFirstOfDay2), dispatcher.New(dispatcher.WithStore(mem)), WithMaxActiveRuns(3))
	require.NoError(t, err)

	runs, err := trig.Backfill(context.Background(), day(1), day(3))
	require.NoError(t, err)
	assert.Equal(t, run.RunFailed, runs[1].State())

	runs, err = trig.Backfill(context.Background(), day(1), day(3))
	require.NoError(t, err)
	for _, r := range runs {
		assert.Equal(t, run.RunSuccess, r.State(), r.ID())
	}
	assert.Equal(t, 1, calls[ScheduledRunID(day(1))])
	assert.Equal(t, 2, calls[ScheduledRunID(day(2))])
	assert.Equal(t, 1, calls[ScheduledRunID(day(3))])

	saved, err := mem.ListRuns(context.Background(), "daily")
	require.NoError(t, err)
	assert.Len(t, saved, 3)
}

func TestStartTriggersAtBoundaries(t *testing.T) {
	var runs atomic.Int32
	done := make(chan struct{}, 10)
	fn := func(ctx context.Context, in dag.Input) (interface{}, error) {
		runs.Add(1)
		done <- struct{}{}
		return nil, nil
	}
	trig, err := New(scheduledGraph(t, "@every 1s", fn), dispatcher.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- trig.Start(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no run triggered")
	}
	cancel()
	require.NoError(t, <-errCh)
	assert.GreaterOrEqual(t, runs.Load(), int32(1))
}
