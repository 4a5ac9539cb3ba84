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

// Package trigger creates runs of a graph at its schedule boundaries, on
// demand, or for a backfill range.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/goflow/dag"
	"github.com/aaronlmathis/goflow/dispatcher"
	"github.com/aaronlmathis/goflow/run"
	"github.com/aaronlmathis/goflow/store"
)

// ErrNoSchedule is returned for schedule-driven operations on a graph
// without a schedule.
var ErrNoSchedule = errors.New("graph has no schedule")

// MaxBoundaries caps the number of runs a single backfill may create.
const MaxBoundaries = 10000

// ScheduledRunID names the run of a schedule boundary.
func ScheduledRunID(logicalDate time.Time) string {
	return "scheduled__" + logicalDate.UTC().Format(time.RFC3339)
}

// ManualRunID names a run triggered on demand.
func ManualRunID() string {
	return "manual__" + uuid.NewString()
}

// Options configures a Trigger.
type Options struct {
	MaxActiveRuns int            // Runs of the graph executing at once
	Location      *time.Location // Time zone the schedule is evaluated in
	Logger        *zap.Logger
}

// Option represents a configuration function for Options.
type Option func(*Options)

// WithMaxActiveRuns limits concurrent runs.
func WithMaxActiveRuns(n int) Option {
	return func(opts *Options) {
		opts.MaxActiveRuns = n
	}
}

// WithLocation evaluates the schedule in loc instead of UTC.
func WithLocation(loc *time.Location) Option {
	return func(opts *Options) {
		opts.Location = loc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func (opts *Options) withDefaults() *Options {
	if opts.MaxActiveRuns <= 0 {
		opts.MaxActiveRuns = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}

// Trigger starts runs of one graph through a dispatcher.
type Trigger struct {
	graph      *dag.Graph
	dispatcher *dispatcher.Dispatcher
	schedule   cron.Schedule
	opts       Options
	logger     *zap.Logger
}

// New creates a trigger for g. The graph schedule accepts standard
// five-field cron expressions and descriptors such as @daily or @every 1h.
// A graph without a schedule can only be triggered on demand.
func New(g *dag.Graph, d *dispatcher.Dispatcher, opts ...Option) (*Trigger, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	options = options.withDefaults()

	t := &Trigger{
		graph:      g,
		dispatcher: d,
		opts:       *options,
		logger:     options.Logger.Named("trigger").With(zap.String("graph_id", g.ID())),
	}
	if g.Schedule() != "" {
		schedule, err := cron.ParseStandard(g.Schedule())
		if err != nil {
			return nil, fmt.Errorf("graph %s: invalid schedule %q: %w", g.ID(), g.Schedule(), err)
		}
		t.schedule = schedule
	}
	return t, nil
}

// Next returns the first schedule boundary after t.
func (t *Trigger) Next(after time.Time) (time.Time, error) {
	if t.schedule == nil {
		return time.Time{}, ErrNoSchedule
	}
	return t.schedule.Next(after.In(t.opts.Location)), nil
}

// Boundaries lists the schedule boundaries between from and to, both
// inclusive.
func (t *Trigger) Boundaries(from, to time.Time) ([]time.Time, error) {
	if t.schedule == nil {
		return nil, ErrNoSchedule
	}
	start := from.Truncate(time.Second)
	if start.Before(from) {
		start = start.Add(time.Second)
	}

	var out []time.Time
	for b := t.schedule.Next(start.Add(-time.Second).In(t.opts.Location)); !b.After(to); b = t.schedule.Next(b) {
		if len(out) == MaxBoundaries {
			return nil, fmt.Errorf("range %s to %s has more than %d boundaries", from, to, MaxBoundaries)
		}
		out = append(out, b)
	}
	return out, nil
}

// TriggerNow creates a manual run for logicalDate and drives it to the end.
func (t *Trigger) TriggerNow(ctx context.Context, logicalDate time.Time) (*run.Run, error) {
	r := run.New(t.graph, ManualRunID(), logicalDate)
	t.logger.Info("triggering manual run", zap.String("run_id", r.ID()), zap.Time("logical_date", logicalDate))
	_, err := t.dispatcher.Run(ctx, r)
	return r, err
}

// Backfill runs every boundary between from and to, at most MaxActiveRuns
// at a time, and returns the runs in boundary order. With a store
// configured on the dispatcher, boundaries whose run already succeeded are
// not run again, unfinished runs are resumed, and failed or cancelled runs
// start over.
func (t *Trigger) Backfill(ctx context.Context, from, to time.Time) ([]*run.Run, error) {
	boundaries, err := t.Boundaries(from, to)
	if err != nil {
		return nil, err
	}
	t.logger.Info("backfilling", zap.Time("from", from), zap.Time("to", to), zap.Int("runs", len(boundaries)))

	runs := make([]*run.Run, len(boundaries))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(t.opts.MaxActiveRuns)
	for i, boundary := range boundaries {
		group.Go(func() error {
			r, err := t.runBoundary(gctx, boundary)
			runs[i] = r
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return runs, err
	}
	return runs, nil
}

// Start triggers a run at every schedule boundary until ctx is done, then
// waits for the runs in flight. Run failures are logged, not returned.
func (t *Trigger) Start(ctx context.Context) error {
	if t.schedule == nil {
		return ErrNoSchedule
	}
	t.logger.Info("scheduler started", zap.String("schedule", t.graph.Schedule()))

	var wg sync.WaitGroup
	slots := make(chan struct{}, t.opts.MaxActiveRuns)
	defer wg.Wait()

	for {
		next := t.schedule.Next(time.Now().In(t.opts.Location))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("scheduler stopping")
			return nil
		case <-timer.C:
		}

		select {
		case slots <- struct{}{}:
		default:
			t.logger.Warn("skipping boundary, too many active runs",
				zap.Time("logical_date", next), zap.Int("max_active_runs", t.opts.MaxActiveRuns))
			continue
		}

		wg.Add(1)
		go func(logicalDate time.Time) {
			defer wg.Done()
			defer func() { <-slots }()
			if _, err := t.runBoundary(ctx, logicalDate); err != nil && ctx.Err() == nil {
				t.logger.Error("scheduled run failed to complete", zap.Time("logical_date", logicalDate), zap.Error(err))
			}
		}(next)
	}
}

func (t *Trigger) runBoundary(ctx context.Context, logicalDate time.Time) (*run.Run, error) {
	runID := ScheduledRunID(logicalDate)
	log := t.logger.With(zap.String("run_id", runID))

	if s := t.dispatcher.Store(); s != nil {
		snap, err := s.LoadRun(ctx, runID)
		switch {
		case err == nil && snap.State == run.RunSuccess:
			log.Info("run already succeeded")
			return run.Restore(t.graph, snap)
		case err == nil && !snap.State.Terminal():
			log.Info("resuming unfinished run")
			return t.dispatcher.Resume(ctx, t.graph, runID)
		case err == nil:
			log.Info("rerunning", zap.String("previous_state", string(snap.State)))
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	r := run.New(t.graph, runID, logicalDate)
	_, err := t.dispatcher.Run(ctx, r)
	return r, err
}
