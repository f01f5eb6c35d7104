// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workerpool

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strconv"

	"github.com/loadtrace/backend/internal/apperr"
	"github.com/loadtrace/backend/internal/blobstore"
	"github.com/loadtrace/backend/internal/canon"
	"github.com/loadtrace/backend/internal/config"
	"github.com/loadtrace/backend/internal/ingest"
	"github.com/loadtrace/backend/internal/ingest/pivot"
	"github.com/loadtrace/backend/internal/repository"
	"github.com/loadtrace/backend/internal/util"
	"github.com/loadtrace/backend/pkg/log"
)

var blobStore blobstore.Store

// SetBlobStore installs the blob backend tasks read uploads from and write
// results to. Called once from the worker's main before Pool.Start.
func SetBlobStore(s blobstore.Store) {
	blobStore = s
}

// runIngestion drives one ingestion job: it pulls the uploaded file out of
// blob storage, streams it through the ingest pipeline keyed by the
// job's ingestion_job_id, and reflects progress/terminal state onto the
// ingestion_jobs row the API process polls.
func runIngestion(ctx context.Context, jobID int64) (*string, error) {
	jobRepo := repository.GetJobRepository()
	ingestionRepo := repository.GetIngestionJobRepository()

	job, err := jobRepo.ByID(jobID)
	if err != nil {
		return nil, err
	}
	if job.IngestionJobID == nil || job.InputBlob == nil {
		return nil, apperr.New(apperr.KindValidationFailure, "ingestion job %d missing ingestion_job_id/input_blob", jobID)
	}
	ingestionJobID := *job.IngestionJobID

	if err := ingestionRepo.Start(ingestionJobID); err != nil {
		return nil, err
	}

	tmpFile, err := downloadToTemp(ctx, *job.InputBlob)
	if err != nil {
		failIngestion(ingestionJobID, err)
		return nil, err
	}
	defer os.Remove(tmpFile)

	aliaser := canon.NewAliaser(config.Keys.Aliases)
	rows, runErr := ingest.Run(ctx, ingestionJobID, tmpFile, ingest.Options{
		OnInvalid: pivot.DropInvalidRow,
		Aliaser:   aliaser,
	})
	if runErr != nil {
		if discardErr := ingest.Discard(ingestionJobID); discardErr != nil {
			log.Errorf("workerpool: discarding staging rows for ingestion job %d: %v", ingestionJobID, discardErr)
		}
		failIngestion(ingestionJobID, runErr)
		return nil, runErr
	}

	if err := ingestionRepo.Complete(ingestionJobID, rows); err != nil {
		return nil, err
	}
	return nil, nil
}

func failIngestion(ingestionJobID int64, cause error) {
	if err := repository.GetIngestionJobRepository().Fail(ingestionJobID, cause.Error()); err != nil {
		log.Errorf("workerpool: marking ingestion job %d failed: %v", ingestionJobID, err)
	}
}

func downloadToTemp(ctx context.Context, key string) (string, error) {
	r, err := blobStore.Get(ctx, key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInputNotFound, err, "fetching blob %q", key)
	}
	defer r.Close()

	f, err := os.CreateTemp("", "loadtrace-ingest-*")
	if err != nil {
		return "", apperr.Wrap(apperr.KindPersistenceFailure, err, "creating temp file for blob %q", key)
	}
	defer f.Close()

	if _, err := f.ReadFrom(r); err != nil {
		os.Remove(f.Name())
		return "", apperr.Wrap(apperr.KindPersistenceFailure, err, "downloading blob %q", key)
	}
	log.Debugf("workerpool: downloaded blob %q (%d bytes)", key, util.GetFilesize(f.Name()))
	return f.Name(), nil
}

// runAnalysis computes the full report (global metrics, per-endpoint
// breakdown, status histogram) for the dataset a job's ingestion_job_id
// points at, and stores the JSON result as the job's result blob.
func runAnalysis(ctx context.Context, jobID int64) (*string, error) {
	jobRepo := repository.GetJobRepository()
	job, err := jobRepo.ByID(jobID)
	if err != nil {
		return nil, err
	}
	if job.IngestionJobID == nil {
		return nil, apperr.New(apperr.KindValidationFailure, "analysis job %d missing ingestion_job_id", jobID)
	}

	stats := repository.GetStatsRepository()
	global, err := stats.GlobalMetrics(*job.IngestionJobID)
	if err != nil {
		return nil, err
	}
	endpoints, err := stats.EndpointMetrics(*job.IngestionJobID)
	if err != nil {
		return nil, err
	}
	histogram, err := stats.StatusHistogram(*job.IngestionJobID)
	if err != nil {
		return nil, err
	}

	report := struct {
		Global          interface{} `json:"global"`
		Endpoints       interface{} `json:"endpoints"`
		StatusHistogram interface{} `json:"status_histogram"`
	}{global, endpoints, histogram}

	data, err := json.Marshal(report)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "marshaling report for job %d", jobID)
	}

	key := reportBlobKey(jobID)
	if _, err := blobStore.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "storing report for job %d", jobID)
	}

	return &key, nil
}

// runQA checks that the job exists and completes it with no result blob; no
// answer to the question is produced. The question/answer pipeline is out
// of scope for this worker pool beyond wiring its job state through the
// same claim/complete/fail machinery every other job kind uses.
func runQA(_ context.Context, jobID int64) (*string, error) {
	jobRepo := repository.GetJobRepository()
	if _, err := jobRepo.ByID(jobID); err != nil {
		return nil, err
	}
	return nil, nil
}

func reportBlobKey(jobID int64) string {
	return "reports/" + strconv.FormatInt(jobID, 10) + ".json"
}
