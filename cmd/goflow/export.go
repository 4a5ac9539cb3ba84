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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronlmathis/goflow/export"
	"github.com/aaronlmathis/goflow/run"
)

var contentTypes = map[string]string{
	"csv":     "text/csv",
	"parquet": "application/vnd.apache.parquet",
}

func newExportCmd(flags *rootFlags) *cobra.Command {
	var (
		graphID string
		format  string
		outPath string
		s3Key   string
	)
	cmd := &cobra.Command{
		Use:   "export [run-id...]",
		Short: "Write persisted run history as CSV or Parquet",
		Example: `  goflow export scheduled__2024-01-01T00:00:00Z --format csv
  goflow export --graph etl --format parquet --out runs.parquet
  goflow export --graph etl --format parquet --s3-key etl/runs.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := contentTypes[format]; !ok {
				return fmt.Errorf("unknown format %q: want csv or parquet", format)
			}
			if graphID == "" && len(args) == 0 {
				return errors.New("give run ids or --graph")
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				snaps, err := collectSnapshots(ctx, a, graphID, args)
				if err != nil {
					return err
				}

				var buf bytes.Buffer
				if err := writeHistory(&buf, format, snaps); err != nil {
					return err
				}

				if s3Key != "" {
					if err := a.upload(ctx, s3Key, bytes.NewReader(buf.Bytes()), contentTypes[format]); err != nil {
						return err
					}
					if !cmd.Flags().Changed("out") {
						return nil
					}
				}
				w, closeFn, err := a.openOutput(outPath)
				if err != nil {
					return err
				}
				if _, err := buf.WriteTo(w); err != nil {
					closeFn()
					return err
				}
				return closeFn()
			})
		},
	}
	cmd.Flags().StringVar(&graphID, "graph", "", "export every run of this graph")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "csv or parquet")
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file (- for stdout)")
	cmd.Flags().StringVar(&s3Key, "s3-key", "", "upload to export.bucket under this key")
	return cmd
}

func collectSnapshots(ctx context.Context, a *app, graphID string, runIDs []string) ([]run.Snapshot, error) {
	var snaps []run.Snapshot
	if graphID != "" {
		listed, err := a.store.ListRuns(ctx, graphID)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, listed...)
	}
	for _, id := range runIDs {
		snap, err := a.store.LoadRun(ctx, id)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func writeHistory(w io.Writer, format string, snaps []run.Snapshot) error {
	if format == "parquet" {
		return export.WriteParquet(w, snaps)
	}
	return export.WriteCSV(w, snaps)
}

func (a *app) upload(ctx context.Context, key string, body io.ReadSeeker, contentType string) error {
	cfg := a.cfg.Export
	opts := []export.S3Option{export.WithBucket(cfg.Bucket, cfg.Prefix)}
	if cfg.Region != "" {
		opts = append(opts, export.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, export.WithEndpoint(cfg.Endpoint, cfg.PathStyle))
	}
	uploader, err := export.NewS3Uploader(ctx, opts...)
	if err != nil {
		return err
	}
	uri, err := uploader.Upload(ctx, key, body, contentType)
	if err != nil {
		return err
	}
	a.logger.Info("uploaded run history", zap.String("uri", uri))
	fmt.Fprintln(a.out, uri)
	return nil
}
