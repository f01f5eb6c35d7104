// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package httpapi is the HTTP control plane: it accepts uploads, creates
// and enqueues jobs, and exposes job status and computed metrics. It never
// runs a pipeline itself — every state-mutating handler inserts a row,
// commits, and only then publishes a task envelope for a worker to pick up.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/loadtrace/backend/internal/apperr"
	"github.com/loadtrace/backend/internal/blobstore"
	"github.com/loadtrace/backend/internal/broker"
	"github.com/loadtrace/backend/internal/config"
	"github.com/loadtrace/backend/internal/repository"
	"github.com/loadtrace/backend/internal/schema"
	"github.com/loadtrace/backend/pkg/log"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title                      loadtrace backend API
// @version                    1.0.0
// @description                Control plane for load-test ingestion, metrics and report jobs.

// @contact.name               loadtrace
// @license.name               MIT License
// @license.url                https://opensource.org/licenses/MIT

// @host                       localhost:8080
// @basePath                   /

// RestApi wires the HTTP control plane to the persistence layer, the
// blob store and the broker. Every handler is a thin transaction: write
// the job row, commit, then publish a task envelope.
type RestApi struct {
	JobRepo       *repository.JobRepository
	IngestionRepo *repository.IngestionJobRepository
	StatsRepo     *repository.StatsRepository
	Blob          blobstore.Store
	Broker        *broker.Client
	Metrics       *Collector
}

// MountRoutes registers every route this control plane exposes onto r.
func (api *RestApi) MountRoutes(r *mux.Router) {
	r.HandleFunc("/upload/upload_file", api.uploadFile).Methods(http.MethodPost)
	r.HandleFunc("/upload/ingest/{job_id}", api.ingestJob).Methods(http.MethodPost)
	r.HandleFunc("/upload/jobs/{job_id}", api.getJob).Methods(http.MethodGet)
	r.HandleFunc("/upload/file/{file_id}/jobs", api.getFileJobs).Methods(http.MethodGet)

	r.HandleFunc("/analyze/analyze-async", api.analyzeAsync).Methods(http.MethodPost)
	r.HandleFunc("/analyze/ask-async", api.askAsync).Methods(http.MethodPost)
	r.HandleFunc("/analyze/jobs/{job_id}", api.getJob).Methods(http.MethodGet)
	r.HandleFunc("/analyze/report/{report_id}/jobs", api.getReportJobs).Methods(http.MethodGet)

	r.HandleFunc("/jobs/{job_id}/retry", api.retryJob).Methods(http.MethodPost)

	r.HandleFunc("/report/generate-eda-report", api.generateReport).Methods(http.MethodPost)

	r.HandleFunc("/health/health_check", api.healthCheck).Methods(http.MethodGet)
	r.HandleFunc("/health/celery", api.healthCelery).Methods(http.MethodGet)

	r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"))).Methods(http.MethodGet)
	if api.Metrics != nil {
		r.Handle("/metrics", api.Metrics.Handler()).Methods(http.MethodGet)
	}
}

// ErrorResponse is the JSON body every non-2xx response carries.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func handleError(err error, rw http.ResponseWriter) {
	status := http.StatusInternalServerError
	if appErr, ok := err.(*apperr.Error); ok {
		status = appErr.Kind.HTTPStatus()
	}
	log.Warnf("httpapi: %s", err.Error())
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(ErrorResponse{Detail: err.Error()})
}

func decode(r io.Reader, val interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(val)
}

func writeJSON(rw http.ResponseWriter, status int, val interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(val)
}

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.New(apperr.KindValidationFailure, "%s must be an integer, got %q", name, raw)
	}
	return id, nil
}

// uploadFileResponse is the 2xx body /upload/upload_file returns.
type uploadFileResponse struct {
	FileID       string  `json:"file_id"`
	FilePath     string  `json:"file_path"`
	FileSizeMB   float64 `json:"file_size_mb"`
	Validation   string  `json:"validation"`
	JobID        int64   `json:"job_id"`
}

// uploadFile accepts a multipart file upload, stores it in the blob store,
// and creates the ingestion job and orchestration job rows pending
// ingestion. The returned job_id is not yet enqueued; a client calls
// /upload/ingest/{job_id} to start the pipeline.
//
// @summary     Upload a load-test trace file
// @tags        upload
// @accept      multipart/form-data
// @produce     json
// @param       file     formData file   true  "raw trace file (.json, .jsonl, .ndjson or .csv)"
// @param       metadata formData string false "optional JSON metadata"
// @success     200 {object} httpapi.uploadFileResponse
// @failure     400 {object} httpapi.ErrorResponse
// @failure     500 {object} httpapi.ErrorResponse
// @router      /upload/upload_file [post]
func (api *RestApi) uploadFile(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		handleError(apperr.Wrap(apperr.KindValidationFailure, err, "parsing multipart form"), rw)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		handleError(apperr.Wrap(apperr.KindValidationFailure, err, "missing form field \"file\""), rw)
		return
	}
	defer file.Close()

	fileID := uuid.NewString()
	fileType := fileExtension(header.Filename)
	blobKey := "uploads/" + fileID + fileType

	written, err := api.Blob.Put(r.Context(), blobKey, file)
	if err != nil {
		handleError(apperr.Wrap(apperr.KindPersistenceFailure, err, "storing upload %q", header.Filename), rw)
		return
	}
	fileSizeMB := float64(written) / 1e6

	ingestionJobID, err := api.IngestionRepo.Create(fileID, fileType, fileSizeMB)
	if err != nil {
		handleError(err, rw)
		return
	}

	jobID, err := api.JobRepo.Create(schema.JobKindIngestion, &fileID, nil, &blobKey, &ingestionJobID, config.Keys.JobMaxRetries)
	if err != nil {
		handleError(err, rw)
		return
	}

	if api.Metrics != nil {
		api.Metrics.UploadRequests.Inc()
		api.Metrics.UploadBytes.Observe(float64(written))
		api.Metrics.JobsCreated.WithLabelValues(string(schema.JobKindIngestion)).Inc()
	}

	writeJSON(rw, http.StatusOK, uploadFileResponse{
		FileID:     fileID,
		FilePath:   blobKey,
		FileSizeMB: fileSizeMB,
		Validation: "ok",
		JobID:      jobID,
	})
}

func fileExtension(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			return filename[i:]
		}
	}
	return ""
}

// ingestJob enqueues the ingestion task for an already-created job and
// returns its current status. The job row is left pending until the
// worker claims it; enqueue failure here fails the job immediately rather
// than leaving an orphaned pending row no worker will ever see.
//
// @summary     Start ingestion for an uploaded file
// @tags        upload
// @produce     json
// @param       job_id path int true "job id"
// @success     200 {object} schema.Job
// @failure     404 {object} httpapi.ErrorResponse
// @failure     500 {object} httpapi.ErrorResponse
// @router      /upload/ingest/{job_id} [post]
func (api *RestApi) ingestJob(rw http.ResponseWriter, r *http.Request) {
	jobID, err := pathInt64(r, "job_id")
	if err != nil {
		handleError(err, rw)
		return
	}
	job, err := api.JobRepo.ByID(jobID)
	if err != nil {
		handleError(err, rw)
		return
	}

	if err := api.enqueue(job.Kind, jobID); err != nil {
		handleError(err, rw)
		return
	}

	job, err = api.JobRepo.ByID(jobID)
	if err != nil {
		handleError(err, rw)
		return
	}
	writeJSON(rw, http.StatusOK, job)
}

// enqueue publishes a task envelope for jobID, marking the job failed
// immediately if the broker cannot accept it so it never sits pending
// with no worker ever told about it.
func (api *RestApi) enqueue(kind schema.JobKind, jobID int64) error {
	env := broker.NewTaskEnvelope(string(kind), jobID)
	if err := api.Broker.Publish(config.Keys.Broker.Subject, env); err != nil {
		failErr := apperr.Wrap(apperr.KindBrokerFailure, err, "publishing task for job %d", jobID)
		if dbErr := api.JobRepo.Fail(jobID, failErr.Error()); dbErr != nil {
			log.Errorf("httpapi: marking job %d failed after enqueue failure: %v", jobID, dbErr)
		}
		return failErr
	}
	return nil
}

// getJob fetches a job by id, shared by the upload and analyze status
// routes since both resolve to the same underlying jobs table.
//
// @summary     Fetch a job by id
// @tags        upload,analyze
// @produce     json
// @param       job_id path int true "job id"
// @success     200 {object} schema.Job
// @failure     404 {object} httpapi.ErrorResponse
// @router      /upload/jobs/{job_id} [get]
func (api *RestApi) getJob(rw http.ResponseWriter, r *http.Request) {
	jobID, err := pathInt64(r, "job_id")
	if err != nil {
		handleError(err, rw)
		return
	}
	job, err := api.JobRepo.ByID(jobID)
	if err != nil {
		handleError(err, rw)
		return
	}
	writeJSON(rw, http.StatusOK, job)
}

// getFileJobs lists every job ever run against an uploaded file.
//
// @summary     List jobs for an uploaded file
// @tags        upload
// @produce     json
// @param       file_id path string true "file id"
// @success     200 {array} schema.Job
// @router      /upload/file/{file_id}/jobs [get]
func (api *RestApi) getFileJobs(rw http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]
	jobs, err := api.JobRepo.ByFileID(fileID)
	if err != nil {
		handleError(err, rw)
		return
	}
	writeJSON(rw, http.StatusOK, jobs)
}

// analyzeAsyncRequest is the body /analyze/analyze-async accepts.
type analyzeAsyncRequest struct {
	ReportID               string  `json:"report_id"`
	AnalysisType           *string `json:"analysis_type,omitempty"`
	IncludeRecommendations *bool   `json:"include_recommendations,omitempty"`
}

// analyzeAsync creates and enqueues an analysis job for an already
// generated report.
//
// @summary     Run analysis over a report
// @tags        analyze
// @accept      json
// @produce     json
// @param       body body httpapi.analyzeAsyncRequest true "analysis request"
// @success     200 {object} schema.Job
// @failure     400 {object} httpapi.ErrorResponse
// @router      /analyze/analyze-async [post]
func (api *RestApi) analyzeAsync(rw http.ResponseWriter, r *http.Request) {
	var req analyzeAsyncRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(apperr.Wrap(apperr.KindValidationFailure, err, "decoding request body"), rw)
		return
	}
	if req.ReportID == "" {
		handleError(apperr.New(apperr.KindValidationFailure, "report_id is required"), rw)
		return
	}

	jobID, err := api.JobRepo.Create(schema.JobKindAnalysis, nil, &req.ReportID, nil, nil, config.Keys.JobMaxRetries)
	if err != nil {
		handleError(err, rw)
		return
	}
	if api.Metrics != nil {
		api.Metrics.JobsCreated.WithLabelValues(string(schema.JobKindAnalysis)).Inc()
	}
	if err := api.enqueue(schema.JobKindAnalysis, jobID); err != nil {
		handleError(err, rw)
		return
	}

	job, err := api.JobRepo.ByID(jobID)
	if err != nil {
		handleError(err, rw)
		return
	}
	writeJSON(rw, http.StatusOK, job)
}

// askAsyncRequest is the body /analyze/ask-async accepts.
type askAsyncRequest struct {
	Question    string  `json:"question"`
	ReportID    string  `json:"report_id"`
	ContextType *string `json:"context_type,omitempty"`
}

// askAsync creates and enqueues a question-answering job against a report.
//
// @summary     Ask a question about a report
// @tags        analyze
// @accept      json
// @produce     json
// @param       body body httpapi.askAsyncRequest true "question request"
// @success     200 {object} schema.Job
// @failure     400 {object} httpapi.ErrorResponse
// @router      /analyze/ask-async [post]
func (api *RestApi) askAsync(rw http.ResponseWriter, r *http.Request) {
	var req askAsyncRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(apperr.Wrap(apperr.KindValidationFailure, err, "decoding request body"), rw)
		return
	}
	if len(req.Question) < 5 {
		handleError(apperr.New(apperr.KindValidationFailure, "question must be at least 5 characters"), rw)
		return
	}
	if req.ReportID == "" {
		handleError(apperr.New(apperr.KindValidationFailure, "report_id is required"), rw)
		return
	}

	jobID, err := api.JobRepo.Create(schema.JobKindQA, nil, &req.ReportID, nil, nil, config.Keys.JobMaxRetries)
	if err != nil {
		handleError(err, rw)
		return
	}
	if api.Metrics != nil {
		api.Metrics.JobsCreated.WithLabelValues(string(schema.JobKindQA)).Inc()
	}
	if err := api.enqueue(schema.JobKindQA, jobID); err != nil {
		handleError(err, rw)
		return
	}

	job, err := api.JobRepo.ByID(jobID)
	if err != nil {
		handleError(err, rw)
		return
	}
	writeJSON(rw, http.StatusOK, job)
}

// getReportJobs lists every analysis/qa job run against a report.
//
// @summary     List jobs for a report
// @tags        analyze
// @produce     json
// @param       report_id path string true "report id"
// @success     200 {array} schema.Job
// @router      /analyze/report/{report_id}/jobs [get]
func (api *RestApi) getReportJobs(rw http.ResponseWriter, r *http.Request) {
	reportID := mux.Vars(r)["report_id"]
	jobs, err := api.JobRepo.ByReportID(reportID)
	if err != nil {
		handleError(err, rw)
		return
	}
	writeJSON(rw, http.StatusOK, jobs)
}

// retryJobRequest is the body /jobs/{job_id}/retry accepts.
type retryJobRequest struct {
	ForceRetry bool `json:"force_retry"`
}

// retryJob resets a failed job back to pending and re-enqueues it.
//
// @summary     Retry a failed job
// @tags        jobs
// @accept      json
// @produce     json
// @param       job_id path int true "job id"
// @param       body body httpapi.retryJobRequest false "retry options"
// @success     200 {object} schema.Job
// @failure     400 {object} httpapi.ErrorResponse
// @failure     404 {object} httpapi.ErrorResponse
// @router      /jobs/{job_id}/retry [post]
func (api *RestApi) retryJob(rw http.ResponseWriter, r *http.Request) {
	jobID, err := pathInt64(r, "job_id")
	if err != nil {
		handleError(err, rw)
		return
	}

	var req retryJobRequest
	if r.ContentLength > 0 {
		if err := decode(r.Body, &req); err != nil {
			handleError(apperr.Wrap(apperr.KindValidationFailure, err, "decoding request body"), rw)
			return
		}
	}

	if err := api.JobRepo.Retry(jobID, req.ForceRetry); err != nil {
		handleError(err, rw)
		return
	}

	job, err := api.JobRepo.ByID(jobID)
	if err != nil {
		handleError(err, rw)
		return
	}
	if err := api.enqueue(job.Kind, jobID); err != nil {
		handleError(err, rw)
		return
	}

	job, err = api.JobRepo.ByID(jobID)
	if err != nil {
		handleError(err, rw)
		return
	}
	writeJSON(rw, http.StatusOK, job)
}

// generateReportResponse is the 2xx body /report/generate-eda-report
// returns.
type generateReportResponse struct {
	ReportID               string  `json:"report_id"`
	ReportPath             string  `json:"report_path"`
	FileID                 string  `json:"file_id"`
	ProcessingTimeSeconds  float64 `json:"processing_time_seconds"`
}

// generateReport is peripheral to the ingestion/metrics core: it mints a
// report id for a file_id that has at least one job recorded against it, so
// /analyze/* has something to key off of. HTML templating of the report
// body is out of scope here.
//
// @summary     Generate an exploratory-data-analysis report
// @tags        report
// @produce     json
// @param       file_id query string true "file id"
// @success     200 {object} httpapi.generateReportResponse
// @failure     400 {object} httpapi.ErrorResponse
// @router      /report/generate-eda-report [post]
func (api *RestApi) generateReport(rw http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	if fileID == "" {
		handleError(apperr.New(apperr.KindValidationFailure, "file_id query parameter is required"), rw)
		return
	}

	start := time.Now()
	jobs, err := api.JobRepo.ByFileID(fileID)
	if err != nil {
		handleError(err, rw)
		return
	}
	if len(jobs) == 0 {
		handleError(apperr.New(apperr.KindInputNotFound, "no jobs found for file %s", fileID), rw)
		return
	}

	reportID := uuid.NewString()
	writeJSON(rw, http.StatusOK, generateReportResponse{
		ReportID:              reportID,
		ReportPath:            fmt.Sprintf("reports/%s.html", reportID),
		FileID:                fileID,
		ProcessingTimeSeconds: time.Since(start).Seconds(),
	})
}

// healthCheckResponse is the body /health/health_check returns.
type healthCheckResponse struct {
	Status string `json:"status"`
}

// healthCheck is a liveness probe: it never touches the database or
// broker, so it still answers while either is degraded.
//
// @summary     Liveness probe
// @tags        health
// @produce     json
// @success     200 {object} httpapi.healthCheckResponse
// @router      /health/health_check [get]
func (api *RestApi) healthCheck(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, healthCheckResponse{Status: "ok"})
}

// healthCeleryResponse is the body /health/celery returns.
type healthCeleryResponse struct {
	Status  string `json:"status"`
	Workers int    `json:"workers"`
}

// healthCelery is a readiness probe for the worker/broker side: it
// reports whether the broker connection this process holds is up. It
// cannot see how many worker processes are actually consuming the queue
// group (NATS exposes no membership list), so Workers is 1 if connected,
// 0 otherwise.
//
// @summary     Broker/worker readiness probe
// @tags        health
// @produce     json
// @success     200 {object} httpapi.healthCeleryResponse
// @router      /health/celery [get]
func (api *RestApi) healthCelery(rw http.ResponseWriter, r *http.Request) {
	if api.Broker == nil || !api.Broker.IsConnected() {
		writeJSON(rw, http.StatusOK, healthCeleryResponse{Status: "down", Workers: 0})
		return
	}
	writeJSON(rw, http.StatusOK, healthCeleryResponse{Status: "ok", Workers: 1})
}
