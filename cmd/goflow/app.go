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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aaronlmathis/goflow/config"
	"github.com/aaronlmathis/goflow/dag"
	"github.com/aaronlmathis/goflow/definition"
	"github.com/aaronlmathis/goflow/dispatcher"
	"github.com/aaronlmathis/goflow/events"
	"github.com/aaronlmathis/goflow/logging"
	"github.com/aaronlmathis/goflow/store"
	"github.com/aaronlmathis/goflow/trigger"
)

// app holds what a subcommand needs: configuration, logger, store and the
// metrics registry. Everything is built from the loaded config.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	out     io.Writer
	store   store.Store
	db      *sql.DB
	pool    *dispatcher.Pool
	metrics *prometheus.Registry
	sinks   []events.Sink
	closers []func() error
}

func newApp(ctx context.Context, flags *rootFlags, out io.Writer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		metrics: prometheus.NewRegistry(),
	}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})
	if cfg.Executor.PoolSize > 0 {
		a.pool = dispatcher.NewPool(cfg.Executor.PoolSize)
	}
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.sinks = append(a.sinks, events.NewLogSink(logger), events.NewPrometheusSink(a.metrics))

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case "memory":
		a.store = store.NewMemory()
	case "postgres":
		db, err := sql.Open("postgres", a.cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		pg, err := store.NewPostgresFromDB(ctx, db)
		if err != nil {
			db.Close()
			return err
		}
		a.db = db
		a.store = pg
		a.closers = append(a.closers, db.Close)
	case "mongo":
		m, err := store.NewMongo(ctx,
			store.WithMongoURI(a.cfg.Store.DSN),
			store.WithMongoDatabase(a.cfg.Store.Database, a.cfg.Store.Collection),
		)
		if err != nil {
			return err
		}
		a.store = m
		a.closers = append(a.closers, m.Close)
	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
	return nil
}

// Close releases the store and flushes the logger.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// registry returns the operators available to definitions. The sql operator
// shares the Postgres store connection when one is configured.
func (a *app) registry() *definition.Registry {
	return definition.NewRegistry(a.db)
}

func (a *app) loadGraph(path string) (*dag.Graph, error) {
	return definition.LoadFile(path, a.registry())
}

// addSink sends events to sink in addition to the log and metrics sinks.
func (a *app) addSink(sink events.Sink) {
	a.sinks = append(a.sinks, sink)
}

func (a *app) dispatcher() *dispatcher.Dispatcher {
	opts := []dispatcher.Option{
		dispatcher.WithPool(a.pool),
		dispatcher.WithStore(a.store),
		dispatcher.WithSink(events.Multi(a.sinks)),
		dispatcher.WithLogger(a.logger),
	}
	if a.cfg.Executor.MaxActiveTasks > 0 {
		opts = append(opts, dispatcher.WithMaxActiveTasks(a.cfg.Executor.MaxActiveTasks))
	}
	return dispatcher.New(opts...)
}

func (a *app) trigger(g *dag.Graph) (*trigger.Trigger, error) {
	return trigger.New(g, a.dispatcher(),
		trigger.WithMaxActiveRuns(a.cfg.Executor.MaxActiveRuns),
		trigger.WithLogger(a.logger),
	)
}

// serveMetrics exposes the registry on addr until ctx is done. An empty
// addr disables the endpoint.
func (a *app) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{Registry: a.metrics}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("serving metrics", zap.String("addr", addr), zap.String("path", a.cfg.Metrics.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// openOutput returns a writer for path; "-" is the command output.
func (a *app) openOutput(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return a.out, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
