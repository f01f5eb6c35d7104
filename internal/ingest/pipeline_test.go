// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loadtrace/backend/internal/canon"
	"github.com/loadtrace/backend/internal/ingest"
	"github.com/loadtrace/backend/internal/ingest/pivot"
	"github.com/loadtrace/backend/internal/repository"
	"github.com/loadtrace/backend/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func TestMain(m *testing.M) {
	if err := repository.Connect("sqlite3", ":memory:"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunIngestsAndPromotesRows(t *testing.T) {
	content := "metric_name,metric_value,timestamp,name,method,url,status\n" +
		"http_req_duration,120,2024-01-01T00:00:00Z,home,GET,home,200\n" +
		"http_req_duration,80,2024-01-01T00:00:01Z,home,GET,home,500\n"
	path := writeCSV(t, content)

	ingestionRepo := repository.GetIngestionJobRepository()
	jobID, err := ingestionRepo.Create("file-pipeline", ".csv", 0.01)
	require.NoError(t, err)

	rows, err := ingest.Run(context.Background(), jobID, path, ingest.Options{
		OnInvalid: pivot.DropInvalidRow,
		Aliaser:   canon.NewAliaser(nil),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, rows)

	stats := repository.GetStatsRepository()
	metrics, err := stats.GlobalMetrics(jobID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, metrics.TotalRequests)
}

func TestRunRejectsUnrecognizedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.bin")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	ingestionRepo := repository.GetIngestionJobRepository()
	jobID, err := ingestionRepo.Create("file-bad-ext", ".bin", 0.01)
	require.NoError(t, err)

	_, err = ingest.Run(context.Background(), jobID, path, ingest.Options{})
	assert.Error(t, err)
}

func TestDiscardClearsStagedRows(t *testing.T) {
	ingestionRepo := repository.GetIngestionJobRepository()
	jobID, err := ingestionRepo.Create("file-discard", ".csv", 0.01)
	require.NoError(t, err)

	staging := repository.GetStagingRepository()
	require.NoError(t, staging.InsertChunk(jobID, []schema.Record{
		{Timestamp: time.Now(), URL: "home", Method: "GET", ResponseTimeMs: 12, StatusCode: intPtr(200)},
	}))

	require.NoError(t, ingest.Discard(jobID))

	promoted, err := staging.Promote(jobID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, promoted)
}

func intPtr(v int) *int { return &v }
