// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository_test

import (
	"os"
	"testing"
	"time"

	"github.com/loadtrace/backend/internal/apperr"
	"github.com/loadtrace/backend/internal/repository"
	"github.com/loadtrace/backend/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

// TestMain opens the package-wide sqlite3 connection once. repository.Connect
// is a sync.Once singleton, so every test in this file shares one
// in-memory database.
func TestMain(m *testing.M) {
	if err := repository.Connect("sqlite3", ":memory:"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func ptr[T any](v T) *T { return &v }

func mustIngestionJob(t *testing.T) int64 {
	t.Helper()
	id, err := repository.GetIngestionJobRepository().Create("file-"+t.Name(), ".csv", 1.5)
	require.NoError(t, err)
	return id
}

func TestJobRepositoryCreateAndByID(t *testing.T) {
	repo := repository.GetJobRepository()
	ingestionID := mustIngestionJob(t)
	fileID := "file-a"

	id, err := repo.Create(schema.JobKindIngestion, &fileID, nil, nil, &ingestionID, 3)
	require.NoError(t, err)

	job, err := repo.ByID(id)
	require.NoError(t, err)
	assert.Equal(t, schema.JobKindIngestion, job.Kind)
	assert.Equal(t, schema.JobStatusPending, job.Status)
	assert.Equal(t, fileID, *job.FileID)
	assert.Equal(t, ingestionID, *job.IngestionJobID)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, 3, job.MaxRetries)
}

func TestJobRepositoryByIDNotFound(t *testing.T) {
	_, err := repository.GetJobRepository().ByID(999999)
	require.Error(t, err)
	appErr, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.KindJobNotFound, appErr.Kind)
}

func TestJobRepositoryClaimCompleteLifecycle(t *testing.T) {
	repo := repository.GetJobRepository()
	id, err := repo.Create(schema.JobKindAnalysis, nil, ptr("report-1"), nil, nil, 2)
	require.NoError(t, err)

	require.NoError(t, repo.Claim(id))
	// Claiming an already-claimed job must fail: it is no longer pending.
	assert.Error(t, repo.Claim(id))

	resultBlob := "reports/1.json"
	require.NoError(t, repo.Complete(id, &resultBlob))

	job, err := repo.ByID(id)
	require.NoError(t, err)
	assert.Equal(t, schema.JobStatusCompleted, job.Status)
	assert.Equal(t, resultBlob, *job.ResultBlob)
	assert.NotNil(t, job.FinishedAt)
}

func TestJobRepositoryFailAndRetry(t *testing.T) {
	repo := repository.GetJobRepository()
	id, err := repo.Create(schema.JobKindQA, nil, ptr("report-2"), nil, nil, 1)
	require.NoError(t, err)

	require.NoError(t, repo.Claim(id))
	require.NoError(t, repo.Fail(id, "boom"))

	job, err := repo.ByID(id)
	require.NoError(t, err)
	assert.Equal(t, schema.JobStatusFailed, job.Status)
	assert.Equal(t, "boom", *job.ErrorDetails)
	assert.True(t, job.CanRetry())

	require.NoError(t, repo.Retry(id, false))
	job, err = repo.ByID(id)
	require.NoError(t, err)
	assert.Equal(t, schema.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Nil(t, job.ErrorDetails)

	// Exhaust the retry budget, then confirm force bypasses it.
	require.NoError(t, repo.Claim(id))
	require.NoError(t, repo.Fail(id, "boom again"))
	job, err = repo.ByID(id)
	require.NoError(t, err)
	assert.False(t, job.CanRetry())
	assert.Error(t, repo.Retry(id, false))
	require.NoError(t, repo.Retry(id, true))
}

func TestJobRepositoryRetryRejectsNonFailed(t *testing.T) {
	repo := repository.GetJobRepository()
	id, err := repo.Create(schema.JobKindQA, nil, ptr("report-3"), nil, nil, 1)
	require.NoError(t, err)

	err = repo.Retry(id, false)
	require.Error(t, err)
	appErr, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.KindIllegalTransition, appErr.Kind)
}

func TestJobRepositoryByFileIDAndByReportID(t *testing.T) {
	repo := repository.GetJobRepository()
	fileID := "file-list-test"
	reportID := "report-list-test"

	_, err := repo.Create(schema.JobKindIngestion, &fileID, nil, nil, nil, 0)
	require.NoError(t, err)
	_, err = repo.Create(schema.JobKindAnalysis, nil, &reportID, nil, nil, 0)
	require.NoError(t, err)
	_, err = repo.Create(schema.JobKindQA, nil, &reportID, nil, nil, 0)
	require.NoError(t, err)

	byFile, err := repo.ByFileID(fileID)
	require.NoError(t, err)
	assert.Len(t, byFile, 1)

	byReport, err := repo.ByReportID(reportID)
	require.NoError(t, err)
	assert.Len(t, byReport, 2)
}

func TestJobRepositoryFailTimedOut(t *testing.T) {
	repo := repository.GetJobRepository()
	id, err := repo.Create(schema.JobKindAnalysis, nil, ptr("report-timeout"), nil, nil, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Claim(id))

	n, err := repo.FailTimedOut(-1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	job, err := repo.ByID(id)
	require.NoError(t, err)
	assert.Equal(t, schema.JobStatusFailed, job.Status)
}

func TestIngestionJobRepositoryLifecycle(t *testing.T) {
	repo := repository.GetIngestionJobRepository()
	id, err := repo.Create("file-ingest", ".json", 4.2)
	require.NoError(t, err)

	job, err := repo.ByID(id)
	require.NoError(t, err)
	assert.Equal(t, schema.IngestionStatusPending, job.Status)

	require.NoError(t, repo.Start(id))
	require.NoError(t, repo.AdvanceRows(id, 100))
	require.NoError(t, repo.AdvanceRows(id, 50))

	job, err = repo.ByID(id)
	require.NoError(t, err)
	assert.Equal(t, int64(150), job.RowsIngested)

	require.NoError(t, repo.Complete(id, 150))
	job, err = repo.ByID(id)
	require.NoError(t, err)
	assert.Equal(t, schema.IngestionStatusCompleted, job.Status)
	require.NotNil(t, job.TotalRows)
	assert.Equal(t, int64(150), *job.TotalRows)
}

func TestIngestionJobRepositoryFailTimedOut(t *testing.T) {
	repo := repository.GetIngestionJobRepository()
	id, err := repo.Create("file-ingest-timeout", ".json", 1)
	require.NoError(t, err)
	require.NoError(t, repo.Start(id))

	n, err := repo.FailTimedOut(-1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	job, err := repo.ByID(id)
	require.NoError(t, err)
	assert.Equal(t, schema.IngestionStatusFailed, job.Status)
}

func TestStagingRepositoryInsertPromoteDiscard(t *testing.T) {
	staging := repository.GetStagingRepository()
	ingestionID := mustIngestionJob(t)

	records := []schema.Record{
		{Timestamp: time.Now(), URL: "/a", Method: "GET", ResponseTimeMs: 12, StatusCode: ptr(200)},
		{Timestamp: time.Now(), URL: "/b", Method: "POST", ResponseTimeMs: 34, StatusCode: ptr(500)},
	}
	require.NoError(t, staging.InsertChunk(ingestionID, records))

	promoted, err := staging.Promote(ingestionID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), promoted)

	// A second promote sees no staging rows left and promotes nothing.
	promoted, err = staging.Promote(ingestionID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), promoted)

	stats := repository.GetStatsRepository()
	metrics, err := stats.GlobalMetrics(ingestionID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), metrics.TotalRequests)
}

func TestStagingRepositoryDiscard(t *testing.T) {
	staging := repository.GetStagingRepository()
	ingestionID := mustIngestionJob(t)

	records := []schema.Record{
		{Timestamp: time.Now(), URL: "/c", Method: "GET", ResponseTimeMs: 5, StatusCode: ptr(200)},
	}
	require.NoError(t, staging.InsertChunk(ingestionID, records))
	require.NoError(t, staging.DiscardStaging(ingestionID))

	promoted, err := staging.Promote(ingestionID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), promoted)
}

func TestStagingRepositoryPurgeStaleStaging(t *testing.T) {
	staging := repository.GetStagingRepository()
	ingestionID := mustIngestionJob(t)

	records := []schema.Record{
		{Timestamp: time.Now(), URL: "/d", Method: "GET", ResponseTimeMs: 7, StatusCode: ptr(200)},
	}
	require.NoError(t, staging.InsertChunk(ingestionID, records))

	n, err := staging.PurgeStaleStaging(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStatsRepositoryGlobalAndEndpointMetrics(t *testing.T) {
	staging := repository.GetStagingRepository()
	stats := repository.GetStatsRepository()
	ingestionID := mustIngestionJob(t)

	records := []schema.Record{
		{Timestamp: time.Now(), URL: "/x", Method: "GET", ResponseTimeMs: 10, StatusCode: ptr(200), Success: ptr(true)},
		{Timestamp: time.Now(), URL: "/x", Method: "GET", ResponseTimeMs: 20, StatusCode: ptr(500), Success: ptr(false)},
		{Timestamp: time.Now(), URL: "/y", Method: "GET", ResponseTimeMs: 30, StatusCode: ptr(200), Success: ptr(true)},
	}
	require.NoError(t, staging.InsertChunk(ingestionID, records))
	_, err := staging.Promote(ingestionID)
	require.NoError(t, err)

	global, err := stats.GlobalMetrics(ingestionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), global.TotalRequests)
	require.NotNil(t, global.Status5xx)
	assert.InDelta(t, 1.0/3.0, *global.Status5xx, 0.0001)

	endpoints, err := stats.EndpointMetrics(ingestionID)
	require.NoError(t, err)
	assert.Len(t, endpoints, 2)

	histogram, err := stats.StatusHistogram(ingestionID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), histogram[200])
	assert.Equal(t, int64(1), histogram[500])
}

func TestStatsRepositoryGlobalMetricsStable(t *testing.T) {
	staging := repository.GetStagingRepository()
	stats := repository.GetStatsRepository()
	ingestionID := mustIngestionJob(t)

	records := []schema.Record{
		{Timestamp: time.Now(), URL: "/stable", Method: "GET", ResponseTimeMs: 10, StatusCode: ptr(200)},
	}
	require.NoError(t, staging.InsertChunk(ingestionID, records))
	_, err := staging.Promote(ingestionID)
	require.NoError(t, err)

	first, err := stats.GlobalMetrics(ingestionID)
	require.NoError(t, err)

	// Repeated calls against the same immutable job must agree.
	second, err := stats.GlobalMetrics(ingestionID)
	require.NoError(t, err)
	assert.Equal(t, first.TotalRequests, second.TotalRequests)
}

func TestStatsRepositoryTimeSeries(t *testing.T) {
	staging := repository.GetStagingRepository()
	stats := repository.GetStatsRepository()
	ingestionID := mustIngestionJob(t)

	base := time.Now().Truncate(time.Second)
	records := []schema.Record{
		{Timestamp: base, URL: "/t", Method: "GET", ResponseTimeMs: 10, StatusCode: ptr(200)},
		{Timestamp: base.Add(61 * time.Second), URL: "/t", Method: "GET", ResponseTimeMs: 20, StatusCode: ptr(500)},
	}
	require.NoError(t, staging.InsertChunk(ingestionID, records))
	_, err := staging.Promote(ingestionID)
	require.NoError(t, err)

	points, err := stats.TimeSeries(ingestionID, 60)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, int64(1), points[0].Requests)
	assert.Equal(t, int64(1), points[1].Requests)
	assert.Equal(t, int64(1), points[1].ErrorCount)
}
