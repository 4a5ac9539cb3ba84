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
	"slices"
	"sync"

	"github.com/aaronlmathis/goflow/core"
	"github.com/aaronlmathis/goflow/dag"
)

// CollectSink keeps loaded records in memory. Records become visible on
// Flush, so a failed attempt leaves nothing behind.
type CollectSink struct {
	mu        sync.Mutex
	pending   []core.Record
	committed []core.Record
}

// Factory returns a SinkFactory handing out this sink.
func (c *CollectSink) Factory() SinkFactory {
	return func(ctx context.Context, in dag.Input) (core.DataSink, error) {
		return c, nil
	}
}

func (c *CollectSink) Write(ctx context.Context, record core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, record.Clone())
	return nil
}

func (c *CollectSink) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, c.pending...)
	c.pending = nil
	return nil
}

// Close drops records that were never flushed.
func (c *CollectSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	return nil
}

// Records returns the flushed records.
func (c *CollectSink) Records() []core.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.committed)
}
