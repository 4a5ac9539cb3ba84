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

package definition

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the YAML form of a graph.
type File struct {
	ID             string                 `yaml:"id"`
	Description    string                 `yaml:"description"`
	Schedule       string                 `yaml:"schedule"`
	MaxActiveTasks int                    `yaml:"max_active_tasks"`
	Params         map[string]interface{} `yaml:"params"`
	DefaultArgs    Args                   `yaml:"default_args"`
	Tasks          []TaskSpec             `yaml:"tasks"`
}

// Args are the retry and timeout settings a task inherits from the file's
// default_args unless it sets them itself.
type Args struct {
	Retries                 *int      `yaml:"retries"`
	RetryDelay              *Duration `yaml:"retry_delay"`
	RetryExponentialBackoff *bool     `yaml:"retry_exponential_backoff"`
	MaxRetryDelay           *Duration `yaml:"max_retry_delay"`
	ExecutionTimeout        *Duration `yaml:"execution_timeout"`
}

// TaskSpec is one entry of the tasks list. Operator-specific fields are
// only read by the operator they belong to.
type TaskSpec struct {
	ID          string   `yaml:"id"`
	Operator    string   `yaml:"operator"`
	Upstream    []string `yaml:"upstream"`
	TriggerRule string   `yaml:"trigger_rule"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Args        `yaml:",inline"`

	// bash
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`

	// sql
	Query      string        `yaml:"query"`
	Parameters []interface{} `yaml:"parameters"`

	// extract, load
	Format      string   `yaml:"format"` // csv (default), json or postgres
	Path        string   `yaml:"path"`
	Delimiter   string   `yaml:"delimiter"`
	Columns     []string `yaml:"columns"`
	Table       string   `yaml:"table"`
	CreateTable bool     `yaml:"create_table"`
	OnConflict  string   `yaml:"on_conflict"` // error (default), ignore or update
	Key         []string `yaml:"key"`

	// transform, applied in this order
	Rename  map[string]string `yaml:"rename"`
	Select  []string          `yaml:"select"`
	Drop    []string          `yaml:"drop"`
	Trim    []string          `yaml:"trim"`
	Upper   []string          `yaml:"upper"`
	Lower   []string          `yaml:"lower"`
	ToInt   []string          `yaml:"to_int"`
	ToFloat []string          `yaml:"to_float"`

	// transform, filter
	Where   []Condition `yaml:"where"`
	OnError string      `yaml:"on_error"` // fail (default) or skip

	// aggregate
	GroupBy    []string        `yaml:"group_by"`
	Aggregates []AggregateSpec `yaml:"aggregates"`

	// check
	Check *CheckSpec `yaml:"check"`
}

// Condition is one predicate of a where list; all must hold.
type Condition struct {
	Field string      `yaml:"field"`
	Op    string      `yaml:"op"`
	Value interface{} `yaml:"value"`
}

// AggregateSpec is one output column of an aggregate task.
type AggregateSpec struct {
	Name  string `yaml:"name"`
	Func  string `yaml:"func"` // count, sum, avg, min, max
	Field string `yaml:"field"`
}

// CheckSpec holds the data quality rules of a check task.
type CheckSpec struct {
	MinRecords  int                   `yaml:"min_records"`
	MaxRecords  int                   `yaml:"max_records"`
	MaxNullRate float64               `yaml:"max_null_rate"`
	Required    []string              `yaml:"required"`
	Forbidden   []string              `yaml:"forbidden"`
	Fields      map[string]FieldCheck `yaml:"fields"`
}

// FieldCheck constrains the values of one field.
type FieldCheck struct {
	Type    string        `yaml:"type"`
	Pattern string        `yaml:"pattern"`
	Min     *float64      `yaml:"min"`
	Max     *float64      `yaml:"max"`
	Allowed []interface{} `yaml:"allowed"`
}

// Duration accepts Go duration strings ("90s", "5m") or a plain number of
// seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if secs, err := strconv.ParseFloat(value.Value, 64); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d *Duration) Std() time.Duration {
	if d == nil {
		return 0
	}
	return time.Duration(*d)
}

// merge returns a with unset fields taken from defaults.
func (a Args) merge(defaults Args) Args {
	if a.Retries == nil {
		a.Retries = defaults.Retries
	}
	if a.RetryDelay == nil {
		a.RetryDelay = defaults.RetryDelay
	}
	if a.RetryExponentialBackoff == nil {
		a.RetryExponentialBackoff = defaults.RetryExponentialBackoff
	}
	if a.MaxRetryDelay == nil {
		a.MaxRetryDelay = defaults.MaxRetryDelay
	}
	if a.ExecutionTimeout == nil {
		a.ExecutionTimeout = defaults.ExecutionTimeout
	}
	return a
}
