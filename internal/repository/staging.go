// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/loadtrace/backend/internal/apperr"
	"github.com/loadtrace/backend/internal/schema"
)

const namedStagingInsert = `INSERT INTO request_logs_staging (
	job_id, timestamp, url, method, status_code, success, response_time_ms,
	blocked_ms, connecting_ms, receiving_ms, sending_ms, tls_handshake_ms, waiting_ms
) VALUES (
	:job_id, :timestamp, :url, :method, :status_code, :success, :response_time_ms,
	:blocked_ms, :connecting_ms, :receiving_ms, :sending_ms, :tls_handshake_ms, :waiting_ms
)`

// stagingRow is the flat, named-parameter shape of one staging insert; it is
// never exposed outside the ingestion transaction.
type stagingRow struct {
	JobID          int64      `db:"job_id"`
	Timestamp      time.Time  `db:"timestamp"`
	URL            string     `db:"url"`
	Method         string     `db:"method"`
	StatusCode     *int       `db:"status_code"`
	Success        *bool      `db:"success"`
	ResponseTimeMs float64    `db:"response_time_ms"`
	BlockedMs      *float64   `db:"blocked_ms"`
	ConnectingMs   *float64   `db:"connecting_ms"`
	ReceivingMs    *float64   `db:"receiving_ms"`
	SendingMs      *float64   `db:"sending_ms"`
	TLSHandshakeMs *float64   `db:"tls_handshake_ms"`
	WaitingMs      *float64   `db:"waiting_ms"`
}

func toStagingRow(jobID int64, r *schema.Record) stagingRow {
	return stagingRow{
		JobID:          jobID,
		Timestamp:      r.Timestamp,
		URL:            r.URL,
		Method:         r.Method,
		StatusCode:     r.StatusCode,
		Success:        r.Success,
		ResponseTimeMs: r.ResponseTimeMs,
		BlockedMs:      r.BlockedMs,
		ConnectingMs:   r.ConnectingMs,
		ReceivingMs:    r.ReceivingMs,
		SendingMs:      r.SendingMs,
		TLSHandshakeMs: r.TLSHandshakeMs,
		WaitingMs:      r.WaitingMs,
	}
}

// StagingRepository bundles the batched staging inserts an ingestion run
// performs into one transaction per chunk, since individual inserts on
// sqlite are orders of magnitude slower than a batched transaction.
type StagingRepository struct {
	DB *sqlx.DB
}

// GetStagingRepository builds a StagingRepository over the process-wide
// connection. Unlike JobRepository/IngestionJobRepository it is cheap
// enough (no cached statements) to construct per call; callers that ingest
// many chunks typically hold onto one instance for the life of a job.
func GetStagingRepository() *StagingRepository {
	return &StagingRepository{DB: GetConnection().DB}
}

// InsertChunk appends one chunk's worth of pivoted records into the staging
// table, tagged with the owning ingestion job's ID, inside a single
// transaction.
func (r *StagingRepository) InsertChunk(jobID int64, records []schema.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]stagingRow, len(records))
	for i := range records {
		rows[i] = toStagingRow(jobID, &records[i])
	}

	tx, err := r.DB.Beginx()
	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "beginning staging transaction")
	}

	stmt, err := tx.PrepareNamed(namedStagingInsert)
	if err != nil {
		tx.Rollback()
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "preparing staging insert")
	}

	for _, row := range rows {
		if _, err := stmt.Exec(row); err != nil {
			tx.Rollback()
			return apperr.Wrap(apperr.KindPersistenceFailure, err, "inserting staging row")
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "committing staging transaction")
	}
	return nil
}

// Promote moves every staged row for jobID into request_logs and clears the
// staging rows, atomically. It is the clean-EOF path of an ingestion job:
// called once after the last chunk has been staged successfully.
func (r *StagingRepository) Promote(jobID int64) (int64, error) {
	tx, err := r.DB.Beginx()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailure, err, "beginning promotion transaction")
	}

	res, err := tx.Exec(`INSERT INTO request_logs (
		job_id, timestamp, url, method, status_code, success, response_time_ms,
		blocked_ms, connecting_ms, receiving_ms, sending_ms, tls_handshake_ms, waiting_ms
	) SELECT
		job_id, timestamp, url, method, status_code, success, response_time_ms,
		blocked_ms, connecting_ms, receiving_ms, sending_ms, tls_handshake_ms, waiting_ms
	FROM request_logs_staging WHERE job_id = ?`, jobID)
	if err != nil {
		tx.Rollback()
		return 0, apperr.Wrap(apperr.KindPersistenceFailure, err, "promoting staged rows for job %d", jobID)
	}

	promoted, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return 0, apperr.Wrap(apperr.KindPersistenceFailure, err, "counting promoted rows for job %d", jobID)
	}

	if _, err := tx.Exec(`DELETE FROM request_logs_staging WHERE job_id = ?`, jobID); err != nil {
		tx.Rollback()
		return 0, apperr.Wrap(apperr.KindPersistenceFailure, err, "clearing staging rows for job %d", jobID)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailure, err, "committing promotion for job %d", jobID)
	}
	return promoted, nil
}

// DiscardStaging deletes every staged row for jobID without promoting them,
// the rollback path taken when an ingestion job fails partway through.
func (r *StagingRepository) DiscardStaging(jobID int64) error {
	if _, err := r.DB.Exec(`DELETE FROM request_logs_staging WHERE job_id = ?`, jobID); err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, err, "discarding staging rows for job %d", jobID)
	}
	return nil
}

// PurgeStaleStaging deletes staging rows belonging to ingestion jobs created
// before cutoff that are not in_progress, the periodic housekeeping sweep
// for rows orphaned by a worker crash mid-ingestion.
func (r *StagingRepository) PurgeStaleStaging(cutoff time.Time) (int64, error) {
	res, err := r.DB.Exec(`DELETE FROM request_logs_staging WHERE job_id IN (
		SELECT id FROM ingestion_jobs WHERE created_at < ? AND status != ?
	)`, cutoff, schema.IngestionStatusInProgress)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistenceFailure, err, "purging stale staging rows")
	}
	return res.RowsAffected()
}
