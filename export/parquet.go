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

package export

import (
	"io"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/goflow/run"
)

// Schema is the Arrow schema of the Parquet export.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "run_id", Type: arrow.BinaryTypes.String},
	{Name: "graph_id", Type: arrow.BinaryTypes.String},
	{Name: "logical_date", Type: arrow.FixedWidthTypes.Timestamp_us},
	{Name: "run_state", Type: arrow.BinaryTypes.String},
	{Name: "task_id", Type: arrow.BinaryTypes.String},
	{Name: "state", Type: arrow.BinaryTypes.String},
	{Name: "attempts", Type: arrow.PrimitiveTypes.Int64},
	{Name: "started_at", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true},
	{Name: "ended_at", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true},
	{Name: "retry_at", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true},
	{Name: "reason", Type: arrow.BinaryTypes.String},
	{Name: "skip_reason", Type: arrow.BinaryTypes.String},
}, nil)

// ParquetOptions configures the Parquet export.
type ParquetOptions struct {
	Compression  compress.Compression // Compression algorithm
	RowGroupSize int64                // Rows per row group
}

// ParquetOption represents a configuration function for ParquetOptions.
type ParquetOption func(*ParquetOptions)

// WithCompression sets the Parquet compression algorithm.
func WithCompression(compression compress.Compression) ParquetOption {
	return func(opts *ParquetOptions) {
		opts.Compression = compression
	}
}

// WithRowGroupSize sets the maximum rows per row group.
func WithRowGroupSize(size int64) ParquetOption {
	return func(opts *ParquetOptions) {
		opts.RowGroupSize = size
	}
}

// WriteParquet writes one row per task instance as a Parquet file,
// snappy-compressed unless configured otherwise.
func WriteParquet(w io.Writer, snapshots []run.Snapshot, opts ...ParquetOption) error {
	options := &ParquetOptions{
		Compression:  compress.Codecs.Snappy,
		RowGroupSize: 64 * 1024,
	}
	for _, opt := range opts {
		opt(options)
	}

	record := buildRecord(memory.NewGoAllocator(), snapshots)
	defer record.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(options.Compression),
		parquet.WithMaxRowGroupLength(options.RowGroupSize),
	)
	writer, err := pqarrow.NewFileWriter(Schema, w, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return &Error{Op: "create_writer", Err: err}
	}
	if record.NumRows() > 0 {
		if err := writer.Write(record); err != nil {
			writer.Close()
			return &Error{Op: "write_parquet", Err: err}
		}
	}
	if err := writer.Close(); err != nil {
		return &Error{Op: "close_writer", Err: err}
	}
	return nil
}

func buildRecord(mem memory.Allocator, snapshots []run.Snapshot) arrow.Record {
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	str := func(i int) *array.StringBuilder { return b.Field(i).(*array.StringBuilder) }
	ts := func(i int) *array.TimestampBuilder { return b.Field(i).(*array.TimestampBuilder) }
	appendTime := func(tb *array.TimestampBuilder, t time.Time) {
		if t.IsZero() {
			tb.AppendNull()
			return
		}
		tb.Append(arrow.Timestamp(t.UnixMicro()))
	}

	for _, snap := range snapshots {
		for _, inst := range snap.Instances {
			str(0).Append(snap.RunID)
			str(1).Append(snap.GraphID)
			ts(2).Append(arrow.Timestamp(snap.LogicalDate.UnixMicro()))
			str(3).Append(string(snap.State))
			str(4).Append(inst.TaskID)
			str(5).Append(string(inst.State))
			b.Field(6).(*array.Int64Builder).Append(int64(inst.Attempts))
			appendTime(ts(7), inst.StartedAt)
			appendTime(ts(8), inst.EndedAt)
			appendTime(ts(9), inst.RetryAt)
			str(10).Append(inst.Reason)
			str(11).Append(string(inst.SkipReason))
		}
	}
	return b.NewRecord()
}
