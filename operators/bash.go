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
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/goflow/dag"
)

// SkipExitCode is the exit status that makes a bash task end as skipped.
const SkipExitCode = 99

// BashOptions configures a Bash task.
type BashOptions struct {
	Env       map[string]string // Extra environment variables
	Dir       string            // Working directory
	Shell     string            // Interpreter invoked with -c
	KeepEnv   bool              // Inherit the process environment
	WaitDelay time.Duration     // Grace period for output pipes after the process is killed
}

// BashOption represents a configuration function for BashOptions.
type BashOption func(*BashOptions)

// WithEnv adds environment variables.
func WithEnv(env map[string]string) BashOption {
	return func(opts *BashOptions) {
		if opts.Env == nil {
			opts.Env = make(map[string]string)
		}
		maps.Copy(opts.Env, env)
	}
}

// WithDir sets the working directory.
func WithDir(dir string) BashOption {
	return func(opts *BashOptions) {
		opts.Dir = dir
	}
}

// WithShell sets the interpreter.
func WithShell(shell string) BashOption {
	return func(opts *BashOptions) {
		opts.Shell = shell
	}
}

// WithCleanEnv runs the command without the process environment.
func WithCleanEnv() BashOption {
	return func(opts *BashOptions) {
		opts.KeepEnv = false
	}
}

// CommandError reports a non-zero exit of a bash task.
type CommandError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command exited with status %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("command exited with status %d", e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Bash runs command with the shell. The trimmed standard output is the
// task result. The command sees GOFLOW_RUN_ID, GOFLOW_GRAPH_ID,
// GOFLOW_TASK_ID, GOFLOW_ATTEMPT, GOFLOW_LOGICAL_DATE and GOFLOW_DS, plus each graph
// parameter as GOFLOW_PARAM_<NAME>. Exit status SkipExitCode skips the task.
func Bash(command string, opts ...BashOption) dag.TaskFunc {
	options := &BashOptions{
		Shell:     "bash",
		KeepEnv:   true,
		WaitDelay: time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}

	return func(ctx context.Context, in dag.Input) (interface{}, error) {
		cmd := exec.CommandContext(ctx, options.Shell, "-c", command)
		cmd.Dir = options.Dir
		cmd.Env = commandEnv(options, in)
		cmd.WaitDelay = options.WaitDelay

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == SkipExitCode {
				return nil, dag.ErrSkip
			}
			return nil, &CommandError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
				Err:      err,
			}
		}
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}

func commandEnv(options *BashOptions, in dag.Input) []string {
	var env []string
	if options.KeepEnv {
		env = os.Environ()
	}
	env = append(env,
		"GOFLOW_RUN_ID="+in.RunID,
		"GOFLOW_GRAPH_ID="+in.GraphID,
		"GOFLOW_TASK_ID="+in.TaskID,
		"GOFLOW_ATTEMPT="+strconv.Itoa(in.Attempt),
		"GOFLOW_LOGICAL_DATE="+in.LogicalDate.UTC().Format(time.RFC3339),
		"GOFLOW_DS="+in.LogicalDate.UTC().Format(time.DateOnly),
	)
	for _, name := range slices.Sorted(maps.Keys(in.Params)) {
		env = append(env, fmt.Sprintf("GOFLOW_PARAM_%s=%v", strings.ToUpper(name), in.Params[name]))
	}
	for _, name := range slices.Sorted(maps.Keys(options.Env)) {
		env = append(env, name+"="+options.Env[name])
	}
	return env
}
