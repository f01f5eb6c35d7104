// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import "time"

// JobKind enumerates the kinds of work the orchestrator dispatches to the
// worker pool. Only "ingestion" drives the ingestion pipeline; "analysis"
// computes a metrics report from an ingested dataset, and "qa" is carried as
// a first-class state whose body only completes the job, so the job state
// machine and its retry/status-reporting paths cover every kind the data
// model names.
type JobKind string

const (
	JobKindIngestion JobKind = "ingestion"
	JobKindAnalysis  JobKind = "analysis"
	JobKindQA        JobKind = "qa"
)

// JobStatus is the job state machine's current state.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is a unit of dispatched work tracked end to end: queued by the API
// process, claimed and executed by a worker, its terminal state and any
// result/error persisted back for the API to report.
type Job struct {
	ID             int64      `db:"id" json:"id"`
	Kind           JobKind    `db:"kind" json:"kind"`
	Status         JobStatus  `db:"status" json:"status"`
	FileID         *string    `db:"file_id" json:"file_id,omitempty"`
	ReportID       *string    `db:"report_id" json:"report_id,omitempty"`
	IngestionJobID *int64     `db:"ingestion_job_id" json:"ingestion_job_id,omitempty"`
	InputBlob      *string    `db:"input_blob" json:"input_blob,omitempty"`
	ResultBlob     *string    `db:"result_blob" json:"result_blob,omitempty"`
	ErrorDetails   *string    `db:"error_details" json:"error_details,omitempty"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
	MaxRetries     int        `db:"max_retries" json:"max_retries"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// CanRetry reports whether a failed job is still eligible for another
// attempt.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// IngestionStatus is the lifecycle state of one uploaded file's ingestion.
type IngestionStatus string

const (
	IngestionStatusPending    IngestionStatus = "pending"
	IngestionStatusInProgress IngestionStatus = "in_progress"
	IngestionStatusCompleted  IngestionStatus = "completed"
	IngestionStatusFailed     IngestionStatus = "failed"
)

// IngestionJob tracks one raw-file-to-canonical-records ingestion run.
type IngestionJob struct {
	ID            int64           `db:"id" json:"id"`
	FileID        string          `db:"file_id" json:"file_id"`
	FileType      string          `db:"file_type" json:"file_type"`
	FileSizeMB    float64         `db:"file_size_mb" json:"file_size_mb"`
	Status        IngestionStatus `db:"status" json:"status"`
	RowsIngested  int64           `db:"rows_ingested" json:"rows_ingested"`
	TotalRows     *int64          `db:"total_rows" json:"total_rows,omitempty"`
	ErrorDetails  *string         `db:"error_details" json:"error_details,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	StartedAt     *time.Time      `db:"started_at" json:"started_at,omitempty"`
	FinishedAt    *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}
