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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aaronlmathis/goflow/run"
)

// LogSink writes transitions to a zap logger. Failures and cancellations
// are logged at warn level, everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Emit(ev run.Event) {
	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.String("graph_id", ev.GraphID),
		zap.String("run_id", ev.RunID),
		zap.String("from", ev.From),
		zap.String("to", ev.To),
		zap.Time("at", ev.At),
	}
	if ev.TaskID != "" {
		fields = append(fields, zap.String("task_id", ev.TaskID), zap.Int("attempt", ev.Attempt))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}

	level := zapcore.InfoLevel
	switch ev.Kind {
	case run.EventRun:
		switch run.RunState(ev.To) {
		case run.RunFailed, run.RunCancelled:
			level = zapcore.WarnLevel
		}
	default:
		switch run.State(ev.To) {
		case run.Failed, run.Cancelled:
			level = zapcore.WarnLevel
		}
	}
	if ce := s.logger.Check(level, "state transition"); ce != nil {
		ce.Write(fields...)
	}
}
