// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/loadtrace/backend/internal/apperr"
	"github.com/loadtrace/backend/internal/schema"
)

var (
	jobRepoOnce     sync.Once
	jobRepoInstance *JobRepository
)

// JobRepository is the CRUD and state-machine layer for schema.Job rows.
type JobRepository struct {
	DB        *sqlx.DB
	stmtCache *sq.StmtCache
}

// GetJobRepository returns the process-wide job repository, built on the
// already-established database connection.
func GetJobRepository() *JobRepository {
	jobRepoOnce.Do(func() {
		conn := GetConnection()
		jobRepoInstance = &JobRepository{
			DB:        conn.DB,
			stmtCache: conn.StmtCache,
		}
	})
	return jobRepoInstance
}

var jobColumns = []string{
	"id", "kind", "status", "file_id", "report_id", "ingestion_job_id",
	"input_blob", "result_blob", "error_details", "retry_count", "max_retries",
	"created_at", "started_at", "finished_at",
}

func scanJob(row interface{ Scan(...interface{}) error }) (*schema.Job, error) {
	job := &schema.Job{}
	if err := row.Scan(
		&job.ID, &job.Kind, &job.Status, &job.FileID, &job.ReportID, &job.IngestionJobID,
		&job.InputBlob, &job.ResultBlob, &job.ErrorDetails, &job.RetryCount, &job.MaxRetries,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	); err != nil {
		return nil, err
	}
	return job, nil
}

// Create inserts a new pending job and returns its assigned ID. fileID,
// reportID, inputBlob and ingestionJobID are all optional and left nil for
// kinds that do not use them.
func (r *JobRepository) Create(kind schema.JobKind, fileID, reportID, inputBlob *string, ingestionJobID *int64, maxRetries int) (int64, error) {
	res, err := sq.Insert("jobs").
		Columns("kind", "status", "file_id", "report_id", "ingestion_job_id", "input_blob", "max_retries", "created_at").
		Values(kind, schema.JobStatusPending, fileID, reportID, ingestionJobID, inputBlob, maxRetries, time.Now()).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailure, err, "inserting job")
	}
	return res.LastInsertId()
}

// ByID loads a job by its primary key.
func (r *JobRepository) ByID(id int64) (*schema.Job, error) {
	q := sq.Select(jobColumns...).From("jobs").Where("id = ?", id)
	job, err := scanJob(q.RunWith(r.stmtCache).QueryRow())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindJobNotFound, "job %d not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "loading job %d", id)
	}
	return job, nil
}

// ByReportID returns every job (typically "analysis"/"qa" kind) tied to a
// report, newest first.
func (r *JobRepository) ByReportID(reportID string) ([]*schema.Job, error) {
	rows, err := sq.Select(jobColumns...).From("jobs").
		Where("report_id = ?", reportID).
		OrderBy("created_at DESC").
		RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "loading jobs for report %s", reportID)
	}
	defer rows.Close()

	jobs := make([]*schema.Job, 0, 4)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "scanning job row")
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ByFileID returns every ingestion job that ever ran against an uploaded
// file, newest first.
func (r *JobRepository) ByFileID(fileID string) ([]*schema.Job, error) {
	rows, err := sq.Select(jobColumns...).From("jobs").
		Where("file_id = ?", fileID).
		OrderBy("created_at DESC").
		RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "loading jobs for file %s", fileID)
	}
	defer rows.Close()

	jobs := make([]*schema.Job, 0, 4)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "scanning job row")
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Claim transitions a pending job to in_progress and stamps started_at. It
// fails with KindIllegalTransition if the job is not currently pending,
// guarding against a worker double-claiming a job another worker already
// picked up.
func (r *JobRepository) Claim(id int64) error {
	now := time.Now()
	res, err := sq.Update("jobs").
		Set("status", schema.JobStatusInProgress).
		Set("started_at", now).
		Where("id = ? AND status = ?", id, schema.JobStatusPending).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "claiming job %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "claiming job %d", id)
	}
	if n == 0 {
		return apperr.New(apperr.KindIllegalTransition, "job %d is not pending", id)
	}
	return nil
}

// Complete transitions a job to completed and records the result blob
// reference, if any.
func (r *JobRepository) Complete(id int64, resultBlob *string) error {
	_, err := sq.Update("jobs").
		Set("status", schema.JobStatusCompleted).
		Set("result_blob", resultBlob).
		Set("finished_at", time.Now()).
		Where("id = ?", id).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "completing job %d", id)
	}
	return nil
}

// Fail transitions a job to failed and stores the failure text.
func (r *JobRepository) Fail(id int64, detail string) error {
	_, err := sq.Update("jobs").
		Set("status", schema.JobStatusFailed).
		Set("error_details", detail).
		Set("finished_at", time.Now()).
		Where("id = ?", id).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "failing job %d", id)
	}
	return nil
}

// Retry resets a failed job back to pending and increments its retry
// count, clearing the fields a fresh attempt must repopulate. It is
// allowed when the job's own retry budget (CanRetry) permits it, or when
// force is set to bypass that budget. It returns KindIllegalTransition if
// neither applies, or if the job is not currently failed.
func (r *JobRepository) Retry(id int64, force bool) error {
	job, err := r.ByID(id)
	if err != nil {
		return err
	}
	if job.Status != schema.JobStatusFailed {
		return apperr.New(apperr.KindIllegalTransition, "job %d is not failed (status=%s)", id, job.Status)
	}
	if !job.CanRetry() && !force {
		return apperr.New(apperr.KindIllegalTransition, "job %d cannot be retried (retry_count=%d max_retries=%d)", id, job.RetryCount, job.MaxRetries)
	}

	_, err = sq.Update("jobs").
		Set("status", schema.JobStatusPending).
		Set("retry_count", job.RetryCount+1).
		Set("error_details", nil).
		Set("started_at", nil).
		Set("finished_at", nil).
		Where("id = ?", id).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "retrying job %d", id)
	}
	return nil
}

// FailTimedOut marks every in_progress job whose started_at is older than
// hardTimeoutSeconds ago as failed, with the Timeout failure text. A
// worker process crashing mid-task leaves its job stuck in_progress
// forever otherwise; this sweep is the DB-level backstop for that, run
// periodically rather than relying on killing the stuck goroutine.
func (r *JobRepository) FailTimedOut(hardTimeoutSeconds int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(hardTimeoutSeconds) * time.Second)
	res, err := sq.Update("jobs").
		Set("status", schema.JobStatusFailed).
		Set("error_details", apperr.KindTimeout.JobFailureText("")).
		Set("finished_at", time.Now()).
		Where("status = ? AND started_at < ?", schema.JobStatusInProgress, cutoff).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailure, err, "sweeping timed-out jobs")
	}
	return res.RowsAffected()
}
