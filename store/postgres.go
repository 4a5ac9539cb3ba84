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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/aaronlmathis/goflow/run"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS goflow_runs (
	run_id       TEXT PRIMARY KEY,
	graph_id     TEXT NOT NULL,
	logical_date TIMESTAMPTZ NOT NULL,
	state        TEXT NOT NULL,
	started_at   TIMESTAMPTZ,
	ended_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS goflow_runs_graph_idx ON goflow_runs (graph_id, logical_date);
CREATE TABLE IF NOT EXISTS goflow_task_instances (
	run_id      TEXT NOT NULL REFERENCES goflow_runs (run_id) ON DELETE CASCADE,
	task_id     TEXT NOT NULL,
	state       TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ,
	ended_at    TIMESTAMPTZ,
	retry_at    TIMESTAMPTZ,
	result      JSONB,
	reason      TEXT NOT NULL DEFAULT '',
	skip_reason TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, task_id)
);`

const upsertRunSQL = `
INSERT INTO goflow_runs (run_id, graph_id, logical_date, state, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id) DO UPDATE SET
	state = EXCLUDED.state,
	started_at = EXCLUDED.started_at,
	ended_at = EXCLUDED.ended_at`

const upsertInstanceSQL = `
INSERT INTO goflow_task_instances
	(run_id, task_id, state, attempts, started_at, ended_at, retry_at, result, reason, skip_reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (run_id, task_id) DO UPDATE SET
	state = EXCLUDED.state,
	attempts = EXCLUDED.attempts,
	started_at = EXCLUDED.started_at,
	ended_at = EXCLUDED.ended_at,
	retry_at = EXCLUDED.retry_at,
	result = EXCLUDED.result,
	reason = EXCLUDED.reason,
	skip_reason = EXCLUDED.skip_reason`

const foreignKeyViolation pq.ErrorCode = "23503"

// PostgresOptions configures the PostgreSQL store.
type PostgresOptions struct {
	DSN             string        // PostgreSQL connection string
	CreateTables    bool          // Create tables if not exists
	QueryTimeout    time.Duration // Timeout for queries
	MaxOpenConns    int           // Max open connections
	MaxIdleConns    int           // Max idle connections
	ConnMaxLifetime time.Duration // Max connection lifetime
}

// PostgresOption represents a configuration function for PostgresOptions.
type PostgresOption func(*PostgresOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresOption {
	return func(opts *PostgresOptions) {
		opts.DSN = dsn
	}
}

// WithCreateTables enables or disables schema creation on connect.
func WithCreateTables(create bool) PostgresOption {
	return func(opts *PostgresOptions) {
		opts.CreateTables = create
	}
}

// WithPostgresQueryTimeout sets the query timeout.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresOption {
	return func(opts *PostgresOptions) {
		opts.QueryTimeout = timeout
	}
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen, maxIdle int, maxLifetime time.Duration) PostgresOption {
	return func(opts *PostgresOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
		opts.ConnMaxLifetime = maxLifetime
	}
}

// withDefaults applies default values to PostgresOptions.
func (opts *PostgresOptions) withDefaults() *PostgresOptions {
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	return opts
}

// Postgres stores runs in two tables, one row per run and one per task
// instance. Results are stored as JSONB, so they must be JSON encodable and
// come back in their generic JSON form.
type Postgres struct {
	db      *sql.DB
	options PostgresOptions
	ownsDB  bool
}

// NewPostgres connects to PostgreSQL and prepares the schema.
func NewPostgres(ctx context.Context, opts ...PostgresOption) (*Postgres, error) {
	options := &PostgresOptions{CreateTables: true}
	for _, opt := range opts {
		opt(options)
	}
	options = options.withDefaults()
	if options.DSN == "" {
		return nil, &Error{Op: "validate", Err: errors.New("dsn is required")}
	}

	db, err := sql.Open("postgres", options.DSN)
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}
	db.SetMaxOpenConns(options.MaxOpenConns)
	db.SetMaxIdleConns(options.MaxIdleConns)
	db.SetConnMaxLifetime(options.ConnMaxLifetime)

	p, err := newPostgres(ctx, db, *options)
	if err != nil {
		db.Close()
		return nil, err
	}
	p.ownsDB = true
	return p, nil
}

// NewPostgresFromDB uses an existing connection pool, which the caller keeps
// ownership of.
func NewPostgresFromDB(ctx context.Context, db *sql.DB, opts ...PostgresOption) (*Postgres, error) {
	options := &PostgresOptions{CreateTables: true}
	for _, opt := range opts {
		opt(options)
	}
	return newPostgres(ctx, db, *options.withDefaults())
}

func newPostgres(ctx context.Context, db *sql.DB, options PostgresOptions) (*Postgres, error) {
	p := &Postgres{db: db, options: options}

	ctx, cancel := p.queryContext(ctx)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, &Error{Op: "ping", Err: err}
	}
	if options.CreateTables {
		if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
			return nil, &Error{Op: "create_tables", Err: err}
		}
	}
	return p, nil
}

func (p *Postgres) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.options.QueryTimeout > 0 {
		return context.WithTimeout(ctx, p.options.QueryTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Postgres) SaveRun(ctx context.Context, snap run.Snapshot) error {
	ctx, cancel := p.queryContext(ctx)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "save_run", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertRunSQL,
		snap.RunID, snap.GraphID, snap.LogicalDate, string(snap.State),
		nullTime(snap.StartedAt), nullTime(snap.EndedAt)); err != nil {
		return &Error{Op: "save_run", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, upsertInstanceSQL)
	if err != nil {
		return &Error{Op: "save_run", Err: err}
	}
	defer stmt.Close()

	for _, inst := range snap.Instances {
		args, err := instanceArgs(snap.RunID, inst)
		if err != nil {
			return &Error{Op: "save_run", Err: err}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return &Error{Op: "save_run", Err: fmt.Errorf("task %s: %w", inst.TaskID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Op: "save_run", Err: err}
	}
	return nil
}

func (p *Postgres) SaveInstance(ctx context.Context, runID string, inst run.InstanceSnapshot) error {
	ctx, cancel := p.queryContext(ctx)
	defer cancel()

	args, err := instanceArgs(runID, inst)
	if err != nil {
		return &Error{Op: "save_instance", Err: err}
	}
	if _, err := p.db.ExecContext(ctx, upsertInstanceSQL, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return &Error{Op: "save_instance", Err: ErrNotFound}
		}
		return &Error{Op: "save_instance", Err: err}
	}
	return nil
}

func (p *Postgres) LoadRun(ctx context.Context, runID string) (run.Snapshot, error) {
	ctx, cancel := p.queryContext(ctx)
	defer cancel()

	snap, err := p.scanRun(p.db.QueryRowContext(ctx,
		`SELECT run_id, graph_id, logical_date, state, started_at, ended_at FROM goflow_runs WHERE run_id = $1`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return run.Snapshot{}, &Error{Op: "load_run", Err: ErrNotFound}
	}
	if err != nil {
		return run.Snapshot{}, &Error{Op: "load_run", Err: err}
	}

	if snap.Instances, err = p.loadInstances(ctx, runID); err != nil {
		return run.Snapshot{}, &Error{Op: "load_run", Err: err}
	}
	return snap, nil
}

func (p *Postgres) ListRuns(ctx context.Context, graphID string) ([]run.Snapshot, error) {
	ctx, cancel := p.queryContext(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx,
		`SELECT run_id, graph_id, logical_date, state, started_at, ended_at FROM goflow_runs
		 WHERE graph_id = $1 ORDER BY logical_date, run_id`, graphID)
	if err != nil {
		return nil, &Error{Op: "list_runs", Err: err}
	}
	defer rows.Close()

	var out []run.Snapshot
	for rows.Next() {
		snap, err := p.scanRun(rows)
		if err != nil {
			return nil, &Error{Op: "list_runs", Err: err}
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "list_runs", Err: err}
	}

	for i := range out {
		if out[i].Instances, err = p.loadInstances(ctx, out[i].RunID); err != nil {
			return nil, &Error{Op: "list_runs", Err: err}
		}
	}
	return out, nil
}

func (p *Postgres) Close() error {
	if p.ownsDB {
		return p.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (p *Postgres) scanRun(row rowScanner) (run.Snapshot, error) {
	var (
		snap           run.Snapshot
		state          string
		started, ended sql.NullTime
	)
	if err := row.Scan(&snap.RunID, &snap.GraphID, &snap.LogicalDate, &state, &started, &ended); err != nil {
		return run.Snapshot{}, err
	}
	snap.State = run.RunState(state)
	snap.StartedAt = started.Time
	snap.EndedAt = ended.Time
	return snap, nil
}

func (p *Postgres) loadInstances(ctx context.Context, runID string) ([]run.InstanceSnapshot, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT task_id, state, attempts, started_at, ended_at, retry_at, result, reason, skip_reason
		 FROM goflow_task_instances WHERE run_id = $1 ORDER BY task_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []run.InstanceSnapshot
	for rows.Next() {
		var (
			inst                    run.InstanceSnapshot
			state, skipReason       string
			started, ended, retryAt sql.NullTime
			result                  []byte
		)
		if err := rows.Scan(&inst.TaskID, &state, &inst.Attempts, &started, &ended, &retryAt,
			&result, &inst.Reason, &skipReason); err != nil {
			return nil, err
		}
		inst.State = run.State(state)
		inst.SkipReason = run.SkipReason(skipReason)
		inst.StartedAt = started.Time
		inst.EndedAt = ended.Time
		inst.RetryAt = retryAt.Time
		if len(result) > 0 {
			if err := json.Unmarshal(result, &inst.Result); err != nil {
				return nil, fmt.Errorf("decode result of %s: %w", inst.TaskID, err)
			}
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func instanceArgs(runID string, inst run.InstanceSnapshot) ([]interface{}, error) {
	var result interface{}
	if inst.Result != nil {
		encoded, err := json.Marshal(inst.Result)
		if err != nil {
			return nil, fmt.Errorf("encode result of %s: %w", inst.TaskID, err)
		}
		result = encoded
	}
	return []interface{}{
		runID, inst.TaskID, string(inst.State), inst.Attempts,
		nullTime(inst.StartedAt), nullTime(inst.EndedAt), nullTime(inst.RetryAt),
		result, inst.Reason, string(inst.SkipReason),
	}, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
