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

package events

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"github.com/aaronlmathis/goflow/run"
)

// JSONSink writes one JSON object per event (JSON Lines). Write errors are
// counted, not returned, so a broken sink never stalls a run.
type JSONSink struct {
	mu      sync.Mutex
	writer  *bufio.Writer
	encoder *json.Encoder
	errors  int64
}

// NewJSONSink creates a sink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	bw := bufio.NewWriter(w)
	return &JSONSink{writer: bw, encoder: json.NewEncoder(bw)}
}

func (s *JSONSink) Emit(ev run.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(ev); err != nil {
		s.errors++
		return
	}
	// run events are rare and mark milestones, push them out immediately
	if ev.Kind == run.EventRun {
		if err := s.writer.Flush(); err != nil {
			s.errors++
		}
	}
}

// Flush writes any buffered events.
func (s *JSONSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Flush()
}

// Errors returns the number of failed writes.
func (s *JSONSink) Errors() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}
