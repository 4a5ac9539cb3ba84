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
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/goflow/core"
	"github.com/aaronlmathis/goflow/dag"
)

// FileError wraps failures of the file sources and sinks.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// ExpandPath substitutes ${ds}, ${logical_date}, ${run_id}, ${graph_id},
// ${task_id} and ${param.NAME} in path. Other names come from the
// environment.
func ExpandPath(path string, in dag.Input) string {
	return os.Expand(path, func(name string) string {
		switch name {
		case "ds":
			return in.LogicalDate.UTC().Format(time.DateOnly)
		case "logical_date":
			return in.LogicalDate.UTC().Format(time.RFC3339)
		case "run_id":
			return in.RunID
		case "graph_id":
			return in.GraphID
		case "task_id":
			return in.TaskID
		}
		if param, ok := strings.CutPrefix(name, "param."); ok {
			if v, ok := in.Params[param]; ok {
				return fmt.Sprint(v)
			}
			return ""
		}
		return os.Getenv(name)
	})
}

// CSVOptions configures CSV sources and sinks.
type CSVOptions struct {
	Comma  rune     // Field delimiter
	Header []string // Column names; a source then treats the first row as data
}

// CSVOption represents a configuration function for CSVOptions.
type CSVOption func(*CSVOptions)

// WithComma sets the field delimiter.
func WithComma(comma rune) CSVOption {
	return func(opts *CSVOptions) {
		opts.Comma = comma
	}
}

// WithHeader fixes the column names and their order.
func WithHeader(columns ...string) CSVOption {
	return func(opts *CSVOptions) {
		opts.Header = columns
	}
}

func (opts *CSVOptions) withDefaults() *CSVOptions {
	if opts.Comma == 0 {
		opts.Comma = ','
	}
	return opts
}

func csvOptions(opts []CSVOption) CSVOptions {
	options := &CSVOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return *options.withDefaults()
}

// CSVSource reads records from CSV. Values are typed as int64, float64 or
// bool when they parse as one; empty cells become nil.
type CSVSource struct {
	reader *csv.Reader
	closer io.Closer
	header []string
}

// NewCSVSource reads from r, taking column names from the first row unless
// WithHeader is given.
func NewCSVSource(r io.ReadCloser, opts ...CSVOption) (*CSVSource, error) {
	options := csvOptions(opts)
	reader := csv.NewReader(r)
	reader.Comma = options.Comma
	reader.TrimLeadingSpace = true

	src := &CSVSource{reader: reader, closer: r, header: options.Header}
	if len(src.header) == 0 {
		header, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return src, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv header: %w", err)
		}
		src.header = header
	}
	return src, nil
}

// CSVFile opens path (after ExpandPath) for every attempt.
func CSVFile(path string, opts ...CSVOption) SourceFactory {
	return func(ctx context.Context, in dag.Input) (core.DataSource, error) {
		resolved := ExpandPath(path, in)
		f, err := os.Open(resolved)
		if err != nil {
			return nil, &FileError{Op: "open", Path: resolved, Err: err}
		}
		src, err := NewCSVSource(f, opts...)
		if err != nil {
			f.Close()
			return nil, &FileError{Op: "read", Path: resolved, Err: err}
		}
		return src, nil
	}
}

func (s *CSVSource) Read(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.header == nil {
		return nil, io.EOF
	}
	row, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	record := make(core.Record, len(row))
	for i, value := range row {
		key := "col_" + strconv.Itoa(i)
		if i < len(s.header) {
			key = s.header[i]
		}
		record[key] = parseCell(value)
	}
	return record, nil
}

func (s *CSVSource) Close() error {
	return s.closer.Close()
}

func parseCell(value string) interface{} {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

// JSONSource reads a stream of JSON objects, typically JSON Lines.
type JSONSource struct {
	decoder *json.Decoder
	closer  io.Closer
}

// NewJSONSource reads from r.
func NewJSONSource(r io.ReadCloser) *JSONSource {
	return &JSONSource{decoder: json.NewDecoder(r), closer: r}
}

// JSONFile opens path (after ExpandPath) for every attempt.
func JSONFile(path string) SourceFactory {
	return func(ctx context.Context, in dag.Input) (core.DataSource, error) {
		resolved := ExpandPath(path, in)
		f, err := os.Open(resolved)
		if err != nil {
			return nil, &FileError{Op: "open", Path: resolved, Err: err}
		}
		return NewJSONSource(f), nil
	}
}

func (s *JSONSource) Read(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var record core.Record
	if err := s.decoder.Decode(&record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *JSONSource) Close() error {
	return s.closer.Close()
}

// pendingFile is written next to its destination and renamed into place
// on commit, so readers never observe a partial file.
type pendingFile struct {
	*os.File
	path      string
	committed bool
}

func createPending(path string) (*pendingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &FileError{Op: "create", Path: path, Err: err}
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, &FileError{Op: "create", Path: path, Err: err}
	}
	return &pendingFile{File: f, path: path}, nil
}

func (p *pendingFile) commit() error {
	if err := p.Sync(); err != nil {
		return &FileError{Op: "sync", Path: p.path, Err: err}
	}
	if err := p.File.Close(); err != nil {
		return &FileError{Op: "close", Path: p.path, Err: err}
	}
	if err := os.Rename(p.Name(), p.path); err != nil {
		return &FileError{Op: "rename", Path: p.path, Err: err}
	}
	p.committed = true
	return nil
}

func (p *pendingFile) discard() error {
	if p.committed {
		return nil
	}
	p.File.Close()
	return os.Remove(p.Name())
}

// CSVSink writes records as CSV to a file that appears on Flush.
type CSVSink struct {
	file   *pendingFile
	writer *csv.Writer
	header []string
	row    []string
}

// CSVOutput creates a CSVSink at path (after ExpandPath) for every attempt.
// Without WithHeader the columns are the sorted fields of the first record.
func CSVOutput(path string, opts ...CSVOption) SinkFactory {
	return func(ctx context.Context, in dag.Input) (core.DataSink, error) {
		options := csvOptions(opts)
		file, err := createPending(ExpandPath(path, in))
		if err != nil {
			return nil, err
		}
		writer := csv.NewWriter(file)
		writer.Comma = options.Comma
		return &CSVSink{file: file, writer: writer, header: options.Header}, nil
	}
}

func (s *CSVSink) Write(ctx context.Context, record core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.row == nil {
		if len(s.header) == 0 {
			s.header = record.Fields()
		}
		if err := s.writer.Write(s.header); err != nil {
			return err
		}
		s.row = make([]string, len(s.header))
	}
	for i, col := range s.header {
		s.row[i] = ""
		if v := record[col]; v != nil {
			s.row[i] = fmt.Sprint(v)
		}
	}
	return s.writer.Write(s.row)
}

// Flush writes the header for an empty load and moves the file into place.
func (s *CSVSink) Flush() error {
	if s.row == nil && len(s.header) > 0 {
		if err := s.writer.Write(s.header); err != nil {
			return err
		}
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return &FileError{Op: "write", Path: s.file.path, Err: err}
	}
	return s.file.commit()
}

// Close removes the file if it was never flushed.
func (s *CSVSink) Close() error {
	return s.file.discard()
}

// JSONSink writes records as JSON Lines to a file that appears on Flush.
type JSONSink struct {
	file    *pendingFile
	encoder *json.Encoder
}

// JSONOutput creates a JSONSink at path (after ExpandPath) for every
// attempt.
func JSONOutput(path string) SinkFactory {
	return func(ctx context.Context, in dag.Input) (core.DataSink, error) {
		file, err := createPending(ExpandPath(path, in))
		if err != nil {
			return nil, err
		}
		return &JSONSink{file: file, encoder: json.NewEncoder(file)}, nil
	}
}

func (s *JSONSink) Write(ctx context.Context, record core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.encoder.Encode(record)
}

func (s *JSONSink) Flush() error {
	return s.file.commit()
}

// Close removes the file if it was never flushed.
func (s *JSONSink) Close() error {
	return s.file.discard()
}
