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

package operators

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/aaronlmathis/goflow/aggregate"
	"github.com/aaronlmathis/goflow/core"
	"github.com/aaronlmathis/goflow/dag"
	"github.com/aaronlmathis/goflow/retry"
	"github.com/aaronlmathis/goflow/validators"
)

// SourceFactory opens a fresh data source for every attempt.
type SourceFactory func(ctx context.Context, in dag.Input) (core.DataSource, error)

// SinkFactory opens a fresh data sink for every attempt.
type SinkFactory func(ctx context.Context, in dag.Input) (core.DataSink, error)

// Extract reads every record of the source; the records are the result.
func Extract(open SourceFactory) dag.TaskFunc {
	return func(ctx context.Context, in dag.Input) (interface{}, error) {
		src, err := open(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		defer src.Close()

		records := []core.Record{}
		for {
			record, err := src.Read(ctx)
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			if err != nil {
				return nil, &core.RecordError{Index: len(records), Err: err}
			}
			records = append(records, record)
		}
	}
}

// Transform applies t to the records of the upstream tasks.
func Transform(t core.Transformer, strategy core.ErrorStrategy) dag.TaskFunc {
	return func(ctx context.Context, in dag.Input) (interface{}, error) {
		records := UpstreamRecords(in)
		out := make([]core.Record, 0, len(records))
		for i, record := range records {
			transformed, err := t.Transform(ctx, record.Clone())
			if err != nil {
				if strategy == core.SkipErrors {
					continue
				}
				return nil, &core.RecordError{Index: i, Err: err}
			}
			if transformed != nil {
				out = append(out, transformed)
			}
		}
		return out, nil
	}
}

// Filter keeps the upstream records f includes.
func Filter(f core.Filter, strategy core.ErrorStrategy) dag.TaskFunc {
	return func(ctx context.Context, in dag.Input) (interface{}, error) {
		records := UpstreamRecords(in)
		out := make([]core.Record, 0, len(records))
		for i, record := range records {
			keep, err := f.ShouldInclude(ctx, record)
			if err != nil {
				if strategy == core.SkipErrors {
					continue
				}
				return nil, &core.RecordError{Index: i, Err: err}
			}
			if keep {
				out = append(out, record)
			}
		}
		return out, nil
	}
}

// Load writes the upstream records to the sink and returns how many were
// written.
func Load(open SinkFactory) dag.TaskFunc {
	return func(ctx context.Context, in dag.Input) (interface{}, error) {
		records := UpstreamRecords(in)
		sink, err := open(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("open sink: %w", err)
		}
		defer sink.Close()

		for i, record := range records {
			if err := sink.Write(ctx, record); err != nil {
				return nil, &core.RecordError{Index: i, Err: err}
			}
		}
		if err := sink.Flush(); err != nil {
			return nil, fmt.Errorf("flush sink: %w", err)
		}
		return len(records), nil
	}
}

// UpstreamRecords concatenates the record results of the upstream tasks in
// task id order. Upstream results that are not records are ignored.
func UpstreamRecords(in dag.Input) []core.Record {
	var out []core.Record
	for _, id := range slices.Sorted(maps.Keys(in.Upstream)) {
		result := in.Upstream[id]
		if result == nil {
			continue
		}
		if records, ok := core.Records(result); ok {
			out = append(out, records...)
		}
	}
	return out
}

// SliceSource serves records from memory.
type SliceSource struct {
	records []core.Record
	pos     int
}

// NewSliceSource creates a source over records.
func NewSliceSource(records ...core.Record) *SliceSource {
	return &SliceSource{records: records}
}

// Records returns a factory serving the same records to every attempt.
func Records(records ...core.Record) SourceFactory {
	return func(ctx context.Context, in dag.Input) (core.DataSource, error) {
		return NewSliceSource(records...), nil
	}
}

func (s *SliceSource) Read(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	record := s.records[s.pos].Clone()
	s.pos++
	return record, nil
}

func (s *SliceSource) Close() error { return nil }

// Aggregate groups the upstream records and returns one record per group.
func Aggregate(g *aggregate.GroupBy) dag.TaskFunc {
	return func(ctx context.Context, in dag.Input) (interface{}, error) {
		return g.Apply(ctx, UpstreamRecords(in))
	}
}

// Check validates the upstream records and passes them through. A
// violation is permanent since retrying the check sees the same data.
func Check(q *validators.Quality) dag.TaskFunc {
	return func(ctx context.Context, in dag.Input) (interface{}, error) {
		records := UpstreamRecords(in)
		if err := q.Validate(records); err != nil {
			return nil, retry.Permanent(err)
		}
		if records == nil {
			records = []core.Record{}
		}
		return records, nil
	}
}
