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

// Package dispatcher drives runs to completion. One control loop per run
// owns every state transition; task functions execute on worker goroutines
// bounded by a per-run cap and an optional process-wide Pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/goflow/dag"
	"github.com/aaronlmathis/goflow/run"
	"github.com/aaronlmathis/goflow/scheduler"
	"github.com/aaronlmathis/goflow/store"
)

// Dispatcher executes runs. It keeps no per-run state, so one Dispatcher
// may drive any number of runs concurrently.
type Dispatcher struct {
	opts   Options
	logger *zap.Logger
}

// New creates a dispatcher with options
func New(opts ...Option) *Dispatcher {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	options = options.withDefaults()
	return &Dispatcher{opts: *options, logger: options.Logger.Named("dispatcher")}
}

// Store returns the configured store, or nil.
func (d *Dispatcher) Store() store.Store {
	return d.opts.Store
}

// Run drives r until every task instance is terminal or ctx is done, and
// returns the final run state. Task failures are recorded on their
// instances and never returned as errors. When ctx is cancelled, every
// unfinished instance is cancelled and ctx's error is returned.
//
// A run must be driven by at most one call to Run at a time.
func (d *Dispatcher) Run(ctx context.Context, r *run.Run) (run.RunState, error) {
	limit := d.opts.MaxActiveTasks
	if limit <= 0 {
		limit = r.Graph().MaxActiveTasks()
	}
	if limit <= 0 {
		limit = dag.DefaultMaxActiveTasks
	}

	e := &execution{
		d:        d,
		r:        r,
		g:        r.Graph(),
		limit:    limit,
		inflight: make(map[string]context.CancelFunc),
		results:  make(chan result, r.Graph().Len()),
		storeCtx: context.WithoutCancel(ctx),
		logger: d.logger.With(
			zap.String("graph_id", r.Graph().ID()),
			zap.String("run_id", r.ID()),
		),
	}
	return e.loop(ctx)
}

// Resume loads a run from the store, rebuilds it against g and drives it
// to completion. Tasks that already succeeded are not executed again.
func (d *Dispatcher) Resume(ctx context.Context, g *dag.Graph, runID string) (*run.Run, error) {
	if d.opts.Store == nil {
		return nil, ErrNoStore
	}
	snap, err := d.opts.Store.LoadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", runID, err)
	}
	r, err := run.Restore(g, snap)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", runID, err)
	}
	d.logger.Info("resuming run",
		zap.String("graph_id", g.ID()),
		zap.String("run_id", runID),
		zap.String("state", string(r.State())))

	_, err = d.Run(ctx, r)
	return r, err
}

type result struct {
	taskID   string
	attempt  int
	value    interface{}
	err      error
	duration time.Duration
}

// execution is the state of one control loop.
type execution struct {
	d        *Dispatcher
	r        *run.Run
	g        *dag.Graph
	limit    int
	inflight map[string]context.CancelFunc
	results  chan result
	storeCtx context.Context
	logger   *zap.Logger
}

func (e *execution) loop(ctx context.Context) (run.RunState, error) {
	e.saveRun()
	e.logger.Info("run started", zap.Int("tasks", e.g.Len()), zap.Int("max_active_tasks", e.limit))

	for {
		if ctx.Err() != nil {
			return e.abort(ctx.Err())
		}

		e.propagateSkips()
		nextRetry := e.promoteRetries()
		freed := e.d.opts.Pool.Freed()
		blocked := e.admit(ctx)
		e.settle()

		if state := e.r.State(); state.Terminal() {
			e.logger.Info("run finished", zap.String("state", string(state)))
			return state, nil
		}
		if len(e.inflight) == 0 && !blocked && nextRetry.IsZero() {
			e.logger.Error("run stalled")
			return e.r.State(), ErrStalled
		}

		var timer *time.Timer
		var retryDue <-chan time.Time
		if !nextRetry.IsZero() {
			timer = time.NewTimer(max(0, time.Until(nextRetry)))
			retryDue = timer.C
		}
		var poolFreed <-chan struct{}
		if blocked {
			poolFreed = freed
		}

		select {
		case res := <-e.results:
			if ctx.Err() == nil {
				e.complete(res)
			}
		case <-retryDue:
		case <-poolFreed:
		case <-ctx.Done():
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// propagateSkips skips every pending instance whose upstream outcomes rule
// it out.
func (e *execution) propagateSkips() {
	for _, ti := range scheduler.SkippableTasks(e.r) {
		e.apply(e.r.Skip(ti.TaskID, ti.SkipReason, time.Now()))
	}
}

// promoteRetries queues failed instances whose retry time has come and
// returns the earliest retry time still in the future.
func (e *execution) promoteRetries() time.Time {
	now := time.Now()
	var next time.Time
	for _, ti := range e.r.Instances() {
		if !ti.AwaitingRetry() {
			continue
		}
		if !ti.RetryAt.After(now) {
			e.apply(e.r.Queue(ti.TaskID, now))
			continue
		}
		if next.IsZero() || ti.RetryAt.Before(next) {
			next = ti.RetryAt
		}
	}
	return next
}

// admit starts ready and retry-queued instances in topological order while
// the per-run cap and the pool have room. Ready instances beyond the limit
// stay Pending. It reports whether an instance is waiting only for a pool
// slot.
func (e *execution) admit(ctx context.Context) bool {
	ready := make(map[string]bool)
	for _, ti := range scheduler.ReadyTasks(e.r) {
		ready[ti.TaskID] = true
	}

	blocked := false
	for _, ti := range e.r.Instances() {
		queued := ti.State == run.Queued && e.inflight[ti.TaskID] == nil
		if !ready[ti.TaskID] && !queued {
			continue
		}
		if len(e.inflight) >= e.limit {
			break
		}
		if !e.d.opts.Pool.TryAcquire() {
			blocked = true
			break
		}
		if ready[ti.TaskID] {
			if err := e.apply(e.r.Queue(ti.TaskID, time.Now())); err != nil {
				e.d.opts.Pool.Release()
				continue
			}
		}
		e.launch(ctx, ti.TaskID)
	}
	return blocked
}

func (e *execution) launch(ctx context.Context, taskID string) {
	task, _ := e.g.Task(taskID)
	if err := e.apply(e.r.Start(taskID, time.Now())); err != nil {
		e.d.opts.Pool.Release()
		return
	}
	ti, _ := e.r.Instance(taskID)

	in := dag.Input{
		RunID:       e.r.ID(),
		GraphID:     e.g.ID(),
		TaskID:      taskID,
		Attempt:     ti.Attempts,
		LogicalDate: e.r.LogicalDate(),
		Params:      e.g.Params(),
		Upstream:    e.r.UpstreamResults(taskID),
	}

	var taskCtx context.Context
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, task.Timeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}
	e.inflight[taskID] = cancel

	e.logger.Debug("task admitted",
		zap.String("task_id", taskID),
		zap.Int("attempt", ti.Attempts),
		zap.Int("in_flight", len(e.inflight)))

	go e.work(taskCtx, task, in)
}

// work runs one attempt. It returns as soon as the attempt finishes or its
// context ends; a task that ignores its context keeps running in the
// background and its result is dropped.
func (e *execution) work(ctx context.Context, task dag.Task, in dag.Input) {
	defer e.d.opts.Pool.Release()

	start := time.Now()
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: &PanicError{TaskID: task.ID, Value: p}}
			}
		}()
		value, err := task.Fn(ctx, in)
		done <- result{value: value, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res = result{err: &TimeoutError{TaskID: task.ID, Timeout: task.Timeout}}
	}

	res.taskID = task.ID
	res.attempt = in.Attempt
	res.duration = time.Since(start)
	e.results <- res
}

// complete records the outcome of an attempt.
func (e *execution) complete(res result) {
	cancel, ok := e.inflight[res.taskID]
	if !ok {
		return
	}
	cancel()
	delete(e.inflight, res.taskID)

	ti, _ := e.r.Instance(res.taskID)
	if ti.State != run.Running || ti.Attempts != res.attempt {
		e.logger.Debug("discarding stale result", zap.String("task_id", res.taskID), zap.Int("attempt", res.attempt))
		return
	}

	e.logger.Debug("task attempt finished",
		zap.String("task_id", res.taskID),
		zap.Int("attempt", res.attempt),
		zap.Duration("duration", res.duration),
		zap.Bool("ok", res.err == nil))

	now := time.Now()
	switch {
	case res.err == nil:
		e.apply(e.r.Succeed(res.taskID, res.value, now))
	case errors.Is(res.err, dag.ErrSkip):
		e.apply(e.r.Skip(res.taskID, run.SkipByDesign, now))
	default:
		task, _ := e.g.Task(res.taskID)
		ti.Err = res.err

		var timeout *TimeoutError
		if errors.As(res.err, &timeout) {
			e.logger.Warn("task timed out", zap.String("task_id", res.taskID),
				zap.Int("attempt", ti.Attempts), zap.Duration("timeout", timeout.Timeout))
		}

		var retryAt time.Time
		if e.d.opts.Policy.ShouldRetry(ti, task) {
			retryAt = e.d.opts.Policy.NextEligible(ti, task, now)
			if retryAt.Before(now) {
				retryAt = now
			}
			e.logger.Info("task will be retried",
				zap.String("task_id", res.taskID),
				zap.Int("attempt", ti.Attempts),
				zap.Time("retry_at", retryAt),
				zap.Error(res.err))
		}
		e.apply(e.r.Fail(res.taskID, res.err, retryAt, now))
	}
}

// abort cancels the run after its context ended.
func (e *execution) abort(cause error) (run.RunState, error) {
	for taskID, cancel := range e.inflight {
		cancel()
		delete(e.inflight, taskID)
	}

	now := time.Now()
	for _, ti := range e.r.Instances() {
		if !ti.Terminal() {
			e.apply(e.r.Cancel(ti.TaskID, now))
		}
	}
	e.settle()

	state := e.r.State()
	e.logger.Warn("run cancelled", zap.String("state", string(state)), zap.Error(cause))
	return state, cause
}

func (e *execution) settle() {
	if ev, changed := e.r.Settle(time.Now()); changed {
		e.d.opts.Sink.Emit(ev)
		e.saveRun()
	}
}

// apply publishes and persists a task transition. A rejected transition
// is a dispatcher bug; it is logged and returned.
func (e *execution) apply(ev run.Event, err error) error {
	if err != nil {
		e.logger.Error("transition rejected", zap.Error(err))
		return err
	}
	e.d.opts.Sink.Emit(ev)

	if e.d.opts.Store == nil {
		return nil
	}
	inst, _ := e.r.SnapshotInstance(ev.TaskID)
	if err := e.d.opts.Store.SaveInstance(e.storeCtx, e.r.ID(), inst); err != nil {
		e.logger.Warn("persisting task instance failed", zap.String("task_id", ev.TaskID), zap.Error(err))
	}
	return nil
}

func (e *execution) saveRun() {
	if e.d.opts.Store == nil {
		return
	}
	if err := e.d.opts.Store.SaveRun(e.storeCtx, e.r.Snapshot()); err != nil {
		e.logger.Warn("persisting run failed", zap.Error(err))
	}
}
