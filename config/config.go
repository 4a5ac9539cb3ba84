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

// Package config loads goflow settings from YAML with GOFLOW_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aaronlmathis/goflow/logging"
)

// Config is the top-level configuration file.
type Config struct {
	Log      logging.Config `yaml:"log"`
	Executor ExecutorConfig `yaml:"executor"`
	Store    StoreConfig    `yaml:"store"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Export   ExportConfig   `yaml:"export"`
}

var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())
	configValidate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// ExecutorConfig bounds concurrency.
type ExecutorConfig struct {
	PoolSize       int `yaml:"pool_size" validate:"gte=0"`                // Process-wide task slots; 0 means unlimited
	MaxActiveTasks int `yaml:"max_active_tasks_per_run" validate:"gte=0"` // Overrides graph settings when positive
	MaxActiveRuns  int `yaml:"max_active_runs" validate:"gte=1"`          // Concurrent runs per graph
}

// StoreConfig selects where run state is persisted.
type StoreConfig struct {
	Driver     string `yaml:"driver" validate:"oneof=memory postgres mongo"`
	DSN        string `yaml:"dsn" validate:"required_unless=Driver memory"` // Connection string or URI
	Database   string `yaml:"database"`                                     // Mongo database
	Collection string `yaml:"collection"`                                   // Mongo collection
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Listen address; empty disables the endpoint
	Path string `yaml:"path" validate:"startswith=/"`
}

// ExportConfig is where archived history is uploaded.
type ExportConfig struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	PathStyle bool   `yaml:"path_style"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	return cfg.withDefaults()
}

// Load reads path, applies environment overrides and defaults, and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) withDefaults() *Config {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Executor.MaxActiveRuns == 0 {
		c.Executor.MaxActiveRuns = 4
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Database == "" {
		c.Store.Database = "goflow"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "runs"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	return c
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return err
	}
	problems := make([]string, 0, len(invalid))
	for _, fe := range invalid {
		problems = append(problems, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

func describe(fe validator.FieldError) string {
	name := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if", "required_unless":
		return name + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", name, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", name, fe.Param())
	default:
		return fmt.Sprintf("%s is not a valid %s", name, fe.Tag())
	}
}

// applyEnv overrides settings from GOFLOW_* variables.
func (c *Config) applyEnv() error {
	texts := map[string]*string{
		"GOFLOW_LOG_LEVEL":       &c.Log.Level,
		"GOFLOW_LOG_FORMAT":      &c.Log.Format,
		"GOFLOW_LOG_OUTPUT":      &c.Log.Output,
		"GOFLOW_LOG_FILE":        &c.Log.File,
		"GOFLOW_STORE_DRIVER":    &c.Store.Driver,
		"GOFLOW_STORE_DSN":       &c.Store.DSN,
		"GOFLOW_STORE_DATABASE":  &c.Store.Database,
		"GOFLOW_METRICS_ADDR":    &c.Metrics.Addr,
		"GOFLOW_EXPORT_BUCKET":   &c.Export.Bucket,
		"GOFLOW_EXPORT_PREFIX":   &c.Export.Prefix,
		"GOFLOW_EXPORT_REGION":   &c.Export.Region,
		"GOFLOW_EXPORT_ENDPOINT": &c.Export.Endpoint,
	}
	for name, field := range texts {
		if v, ok := os.LookupEnv(name); ok {
			*field = v
		}
	}

	ints := map[string]*int{
		"GOFLOW_POOL_SIZE":        &c.Executor.PoolSize,
		"GOFLOW_MAX_ACTIVE_TASKS": &c.Executor.MaxActiveTasks,
		"GOFLOW_MAX_ACTIVE_RUNS":  &c.Executor.MaxActiveRuns,
	}
	for name, field := range ints {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = n
	}

	if v, ok := os.LookupEnv("GOFLOW_EXPORT_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GOFLOW_EXPORT_PATH_STYLE: %w", err)
		}
		c.Export.PathStyle = b
	}
	return nil
}
