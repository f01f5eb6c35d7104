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
	ingestionRepoOnce     sync.Once
	ingestionRepoInstance *IngestionJobRepository
)

// IngestionJobRepository is the CRUD and state-machine layer for
// schema.IngestionJob rows.
type IngestionJobRepository struct {
	DB        *sqlx.DB
	stmtCache *sq.StmtCache
}

// GetIngestionJobRepository returns the process-wide ingestion job
// repository.
func GetIngestionJobRepository() *IngestionJobRepository {
	ingestionRepoOnce.Do(func() {
		conn := GetConnection()
		ingestionRepoInstance = &IngestionJobRepository{
			DB:        conn.DB,
			stmtCache: conn.StmtCache,
		}
	})
	return ingestionRepoInstance
}

var ingestionColumns = []string{
	"id", "file_id", "file_type", "file_size_mb", "status",
	"rows_ingested", "total_rows", "error_details",
	"created_at", "started_at", "finished_at",
}

func scanIngestionJob(row interface{ Scan(...interface{}) error }) (*schema.IngestionJob, error) {
	j := &schema.IngestionJob{}
	if err := row.Scan(
		&j.ID, &j.FileID, &j.FileType, &j.FileSizeMB, &j.Status,
		&j.RowsIngested, &j.TotalRows, &j.ErrorDetails,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	); err != nil {
		return nil, err
	}
	return j, nil
}

// Create inserts a new queued ingestion job for an uploaded file.
func (r *IngestionJobRepository) Create(fileID, fileType string, fileSizeMB float64) (int64, error) {
	res, err := sq.Insert("ingestion_jobs").
		Columns("file_id", "file_type", "file_size_mb", "status", "created_at").
		Values(fileID, fileType, fileSizeMB, schema.IngestionStatusPending, time.Now()).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailure, err, "inserting ingestion job")
	}
	return res.LastInsertId()
}

// ByID loads an ingestion job by its primary key.
func (r *IngestionJobRepository) ByID(id int64) (*schema.IngestionJob, error) {
	q := sq.Select(ingestionColumns...).From("ingestion_jobs").Where("id = ?", id)
	job, err := scanIngestionJob(q.RunWith(r.stmtCache).QueryRow())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindJobNotFound, "ingestion job %d not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "loading ingestion job %d", id)
	}
	return job, nil
}

// Start transitions a queued ingestion job to processing.
func (r *IngestionJobRepository) Start(id int64) error {
	_, err := sq.Update("ingestion_jobs").
		Set("status", schema.IngestionStatusInProgress).
		Set("started_at", time.Now()).
		Where("id = ?", id).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "starting ingestion job %d", id)
	}
	return nil
}

// AdvanceRows bumps the running row counter as chunks are processed, so a
// client polling the job can see live progress.
func (r *IngestionJobRepository) AdvanceRows(id int64, delta int64) error {
	_, err := sq.Update("ingestion_jobs").
		Set("rows_ingested", sq.Expr("rows_ingested + ?", delta)).
		Where("id = ?", id).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "advancing ingestion job %d", id)
	}
	return nil
}

// Complete marks an ingestion job finished with its final row count.
func (r *IngestionJobRepository) Complete(id int64, totalRows int64) error {
	_, err := sq.Update("ingestion_jobs").
		Set("status", schema.IngestionStatusCompleted).
		Set("total_rows", totalRows).
		Set("rows_ingested", totalRows).
		Set("finished_at", time.Now()).
		Where("id = ?", id).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "completing ingestion job %d", id)
	}
	return nil
}

// Fail marks an ingestion job failed with the given detail text.
func (r *IngestionJobRepository) Fail(id int64, detail string) error {
	_, err := sq.Update("ingestion_jobs").
		Set("status", schema.IngestionStatusFailed).
		Set("error_details", detail).
		Set("finished_at", time.Now()).
		Where("id = ?", id).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "failing ingestion job %d", id)
	}
	return nil
}

// FailTimedOut marks every processing ingestion job whose started_at is
// older than hardTimeoutSeconds ago as failed.
func (r *IngestionJobRepository) FailTimedOut(hardTimeoutSeconds int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(hardTimeoutSeconds) * time.Second)
	res, err := sq.Update("ingestion_jobs").
		Set("status", schema.IngestionStatusFailed).
		Set("error_details", apperr.KindTimeout.JobFailureText("")).
		Set("finished_at", time.Now()).
		Where("status = ? AND started_at < ?", schema.IngestionStatusInProgress, cutoff).
		RunWith(r.stmtCache).Exec()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailure, err, "sweeping timed-out ingestion jobs")
	}
	return res.RowsAffected()
}
