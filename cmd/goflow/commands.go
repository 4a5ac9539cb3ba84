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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aaronlmathis/goflow/events"
	"github.com/aaronlmathis/goflow/run"
)

// withApp builds the app for a command and closes it afterwards. The
// context is cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, a *app) error) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, flags, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

// parseDate accepts RFC 3339 timestamps and plain dates. Plain dates are
// midnight UTC.
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", value)
	}
	return t, nil
}

func printSnapshot(w io.Writer, snap run.Snapshot) error {
	fmt.Fprintf(w, "run %s (graph %s, logical date %s): %s\n",
		snap.RunID, snap.GraphID, snap.LogicalDate.Format(time.RFC3339), snap.State)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATE\tATTEMPTS\tDURATION\tREASON")
	for _, inst := range snap.Instances {
		duration := "-"
		if !inst.StartedAt.IsZero() && !inst.EndedAt.IsZero() {
			duration = inst.EndedAt.Sub(inst.StartedAt).Round(time.Millisecond).String()
		}
		reason := inst.Reason
		if inst.SkipReason != "" {
			reason = string(inst.SkipReason)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", inst.TaskID, inst.State, inst.Attempts, duration, reason)
	}
	return tw.Flush()
}

func newValidateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dag.yaml>",
		Short: "Check a DAG definition without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				g, err := a.loadGraph(args[0])
				if err != nil {
					return err
				}
				g.Describe(a.out)
				return nil
			})
		},
	}
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var (
		logicalDate string
		resumeID    string
		metricsAddr string
		eventsPath  string
	)
	cmd := &cobra.Command{
		Use:   "run <dag.yaml>",
		Short: "Execute one run of a DAG",
		Example: `  goflow run etl.yaml
  goflow run etl.yaml --logical-date 2024-01-01
  goflow run etl.yaml --resume manual__5b7c... --config goflow.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				g, err := a.loadGraph(args[0])
				if err != nil {
					return err
				}
				if eventsPath != "" {
					w, closeFn, err := a.openOutput(eventsPath)
					if err != nil {
						return err
					}
					defer closeFn()
					sink := events.NewJSONSink(w)
					defer sink.Flush()
					a.addSink(sink)
				}
				if !cmd.Flags().Changed("metrics-addr") {
					metricsAddr = a.cfg.Metrics.Addr
				}
				a.serveMetrics(ctx, metricsAddr)

				var r *run.Run
				if resumeID != "" {
					r, err = a.dispatcher().Resume(ctx, g, resumeID)
				} else {
					date := time.Now().UTC()
					if logicalDate != "" {
						if date, err = parseDate(logicalDate); err != nil {
							return err
						}
					}
					t, terr := a.trigger(g)
					if terr != nil {
						return terr
					}
					r, err = t.TriggerNow(ctx, date)
				}
				if r != nil {
					if perr := printSnapshot(a.out, r.Snapshot()); perr != nil {
						return perr
					}
				}
				if err != nil {
					return err
				}
				if state := r.State(); state != run.RunSuccess {
					return fmt.Errorf("run %s finished %s", r.ID(), state)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&logicalDate, "logical-date", "", "logical date of the run (default now)")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume a persisted run instead of starting a new one")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&eventsPath, "events", "", "write state transitions as JSON lines to this file (- for stdout)")
	return cmd
}

func newBackfillCmd(flags *rootFlags) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "backfill <dag.yaml>",
		Short: "Run every schedule boundary in a date range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate(from)
			if err != nil {
				return err
			}
			end, err := parseDate(to)
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				g, err := a.loadGraph(args[0])
				if err != nil {
					return err
				}
				t, err := a.trigger(g)
				if err != nil {
					return err
				}
				runs, err := t.Backfill(ctx, start, end)

				failed := 0
				for _, r := range runs {
					if r == nil {
						continue
					}
					if r.State() != run.RunSuccess {
						failed++
					}
					fmt.Fprintf(a.out, "%s\t%s\n", r.ID(), r.State())
				}
				if err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d runs did not succeed", failed, len(runs))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first logical date (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "last logical date (inclusive)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newScheduleCmd(flags *rootFlags) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "schedule <dag.yaml>",
		Short: "Trigger runs at every schedule boundary until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				g, err := a.loadGraph(args[0])
				if err != nil {
					return err
				}
				t, err := a.trigger(g)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("metrics-addr") {
					metricsAddr = a.cfg.Metrics.Addr
				}
				a.serveMetrics(ctx, metricsAddr)
				return t.Start(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a persisted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				snap, err := a.store.LoadRun(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(a.out)
					enc.SetIndent("", "  ")
					return enc.Encode(snap)
				}
				return printSnapshot(a.out, snap)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}
