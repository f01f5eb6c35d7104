// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workerpool

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/loadtrace/backend/internal/blobstore"
	"github.com/loadtrace/backend/internal/broker"
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
	store, err := blobstore.NewFileStore(os.TempDir() + "/loadtrace-workerpool-test")
	if err != nil {
		panic(err)
	}
	SetBlobStore(store)
	os.Exit(m.Run())
}

func intPtr(v int) *int { return &v }

func TestDispatchUnknownKindFails(t *testing.T) {
	_, err := dispatch(context.Background(), broker.TaskEnvelope{Version: broker.CurrentEnvelopeVersion, Kind: "bogus", JobID: 1})
	assert.Error(t, err)
}

func TestRunIngestionEndToEnd(t *testing.T) {
	blobKey := "uploads/workerpool-test.csv"
	content := "metric_name,metric_value,timestamp,name,method,url,status\n" +
		"http_req_duration,50,2024-01-01T00:00:00Z,home,GET,home,200\n"
	_, err := blobStore.Put(context.Background(), blobKey, strings.NewReader(content))
	require.NoError(t, err)

	ingestionRepo := repository.GetIngestionJobRepository()
	ingestionID, err := ingestionRepo.Create("workerpool-test-file", ".csv", 0.01)
	require.NoError(t, err)

	jobRepo := repository.GetJobRepository()
	fileID := "workerpool-test-file"
	jobID, err := jobRepo.Create(schema.JobKindIngestion, &fileID, nil, &blobKey, &ingestionID, 0)
	require.NoError(t, err)

	_, err = runIngestion(context.Background(), jobID)
	require.NoError(t, err)

	ingestionJob, err := ingestionRepo.ByID(ingestionID)
	require.NoError(t, err)
	assert.Equal(t, schema.IngestionStatusCompleted, ingestionJob.Status)
}

func TestRunIngestionFailsWithoutIngestionJobID(t *testing.T) {
	jobRepo := repository.GetJobRepository()
	jobID, err := jobRepo.Create(schema.JobKindIngestion, nil, nil, nil, nil, 0)
	require.NoError(t, err)

	_, err = runIngestion(context.Background(), jobID)
	assert.Error(t, err)
}

func TestRunAnalysisProducesReportBlob(t *testing.T) {
	staging := repository.GetStagingRepository()
	ingestionRepo := repository.GetIngestionJobRepository()
	ingestionID, err := ingestionRepo.Create("workerpool-analysis-file", ".csv", 0.01)
	require.NoError(t, err)
	require.NoError(t, staging.InsertChunk(ingestionID, []schema.Record{
		{Timestamp: time.Now(), URL: "/home", Method: "GET", ResponseTimeMs: 15, StatusCode: intPtr(200)},
	}))
	_, err = staging.Promote(ingestionID)
	require.NoError(t, err)

	jobRepo := repository.GetJobRepository()
	reportID := "report-workerpool-test"
	jobID, err := jobRepo.Create(schema.JobKindAnalysis, nil, &reportID, nil, &ingestionID, 0)
	require.NoError(t, err)

	resultBlob, err := runAnalysis(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, resultBlob)
	assert.Equal(t, reportBlobKey(jobID), *resultBlob)

	r, err := blobStore.Get(context.Background(), *resultBlob)
	require.NoError(t, err)
	defer r.Close()
}

func TestRunQAValidatesJobExists(t *testing.T) {
	_, err := runQA(context.Background(), 999999)
	assert.Error(t, err)
}
