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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "goflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Executor.MaxActiveRuns)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
executor:
  pool_size: 8
  max_active_tasks_per_run: 3
  max_active_runs: 2
store:
  driver: postgres
  dsn: postgres://goflow@localhost/goflow?sslmode=disable
metrics:
  addr: ":9090"
export:
  bucket: history
  path_style: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ExecutorConfig{PoolSize: 8, MaxActiveTasks: 3, MaxActiveRuns: 2}, cfg.Executor)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "history", cfg.Export.Bucket)
	assert.True(t, cfg.Export.PathStyle)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\nexecutor:\n  pool_size: 2\n")
	t.Setenv("GOFLOW_LOG_LEVEL", "error")
	t.Setenv("GOFLOW_POOL_SIZE", "16")
	t.Setenv("GOFLOW_STORE_DRIVER", "mongo")
	t.Setenv("GOFLOW_STORE_DSN", "mongodb://localhost:27017")
	t.Setenv("GOFLOW_EXPORT_PATH_STYLE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 16, cfg.Executor.PoolSize)
	assert.Equal(t, "mongo", cfg.Store.Driver)
	assert.Equal(t, "goflow", cfg.Store.Database)
	assert.True(t, cfg.Export.PathStyle)
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown driver", body: "store:\n  driver: sqlite\n", wantErr: `store.driver must be one of [memory postgres mongo], got "sqlite"`},
		{name: "postgres without dsn", body: "store:\n  driver: postgres\n", wantErr: "store.dsn is required"},
		{name: "mongo without dsn", body: "store:\n  driver: mongo\n", wantErr: "store.dsn is required"},
		{name: "negative pool", body: "executor:\n  pool_size: -1\n", wantErr: "executor.pool_size must be at least 0"},
		{name: "negative task cap", env: map[string]string{"GOFLOW_MAX_ACTIVE_TASKS": "-2"}, wantErr: "executor.max_active_tasks_per_run must be at least 0"},
		{name: "unknown log format", body: "log:\n  format: xml\n", wantErr: "log.format must be one of [console json]"},
		{name: "file output without file", body: "log:\n  output: file\n", wantErr: "log.file is required"},
		{name: "relative metrics path", body: "metrics:\n  path: metrics\n", wantErr: "metrics.path must start with"},
		{name: "bad endpoint", body: "export:\n  endpoint: not a url\n", wantErr: "export.endpoint is not a valid url"},
		{name: "bad yaml", body: "log: [", wantErr: "parse config"},
		{name: "bad env int", env: map[string]string{"GOFLOW_MAX_ACTIVE_RUNS": "many"}, wantErr: "GOFLOW_MAX_ACTIVE_RUNS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "examples", "goflow.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 8, cfg.Executor.PoolSize)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Executor.MaxActiveRuns = 0
	cfg.Store.Driver = "postgres"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor.max_active_runs must be at least 1")
	assert.Contains(t, err.Error(), "store.dsn is required")
	assert.NoError(t, Default().Validate())
}
