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
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goflow/run"
)

var started = time.Date(2025, 4, 2, 1, 0, 0, 0, time.UTC)

func history() []run.Snapshot {
	return []run.Snapshot{{
		RunID:       "scheduled__2025-04-02T00:00:00Z",
		GraphID:     "etl",
		LogicalDate: started.Truncate(24 * time.Hour),
		State:       run.RunFailed,
		StartedAt:   started,
		EndedAt:     started.Add(time.Minute),
		Instances: []run.InstanceSnapshot{
			{TaskID: "extract", State: run.Failed, Attempts: 2, StartedAt: started, EndedAt: started.Add(time.Second), Reason: "timeout"},
			{TaskID: "load", State: run.Skipped, Reason: "upstream_failed", SkipReason: run.SkipUpstreamFailed},
		},
	}}
}

func TestRows(t *testing.T) {
	rows := Rows(history()...)
	require.Len(t, rows, 2)
	assert.Equal(t, "extract", rows[0]["task_id"])
	assert.Equal(t, int64(2), rows[0]["attempts"])
	assert.Equal(t, started, rows[0]["started_at"])
	assert.Nil(t, rows[0]["retry_at"])
	assert.Nil(t, rows[1]["started_at"])
	assert.Equal(t, "upstream_failed", rows[1]["skip_reason"])
	for _, row := range rows {
		assert.Len(t, row, len(Columns))
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, history()))

	lines, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, Columns, lines[0])
	assert.Equal(t, []string{
		"scheduled__2025-04-02T00:00:00Z", "etl", "2025-04-02T00:00:00Z", "failed",
		"extract", "failed", "2",
		"2025-04-02T01:00:00Z", "2025-04-02T01:00:01Z", "",
		"timeout", "",
	}, lines[1])
	assert.Equal(t, "", lines[2][7])
}

func TestWriteParquet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, history(), WithCompression(compress.Codecs.Gzip)))

	mem := memory.NewGoAllocator()
	table, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(buf.Bytes()),
		parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	require.NoError(t, err)
	defer table.Release()

	assert.EqualValues(t, 2, table.NumRows())
	assert.EqualValues(t, len(Columns), table.NumCols())
	for i, col := range Columns {
		assert.Equal(t, col, table.Schema().Field(i).Name)
	}

	tasks := table.Column(4).Data().Chunk(0).(*array.String)
	assert.Equal(t, "extract", tasks.Value(0))
	assert.Equal(t, "load", tasks.Value(1))

	startedAt := table.Column(7).Data().Chunk(0).(*array.Timestamp)
	assert.False(t, startedAt.IsNull(0))
	assert.True(t, startedAt.IsNull(1))
}

func TestWriteParquetEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, nil))
	assert.NotZero(t, buf.Len())
}

func TestS3Upload(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	up, err := NewS3Uploader(context.Background(),
		WithBucket("history", "goflow/etl"),
		WithRegion("us-east-1"),
		WithEndpoint(server.URL, true),
		WithStaticCredentials("key", "secret", ""),
	)
	require.NoError(t, err)

	uri, err := up.Upload(context.Background(), "runs.csv", bytes.NewReader([]byte("a,b\n")), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "s3://history/goflow/etl/runs.csv", uri)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/history/goflow/etl/runs.csv", gotPath)
	assert.Equal(t, "text/csv", gotType)
	assert.Contains(t, string(gotBody), "a,b")
}

func TestS3UploaderNeedsBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background())
	var exportErr *Error
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, "validate", exportErr.Op)
}
