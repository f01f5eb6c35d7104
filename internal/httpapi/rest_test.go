// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package httpapi_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gorilla/mux"
	"github.com/loadtrace/backend/internal/blobstore"
	"github.com/loadtrace/backend/internal/httpapi"
	"github.com/loadtrace/backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func newTestAPI(t *testing.T) *httpapi.RestApi {
	t.Helper()
	store, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return &httpapi.RestApi{
		JobRepo:       repository.GetJobRepository(),
		IngestionRepo: repository.GetIngestionJobRepository(),
		StatsRepo:     repository.GetStatsRepository(),
		Blob:          store,
	}
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	api := newTestAPI(t)
	r := mux.NewRouter()
	api.MountRoutes(r)
	return r
}

func TestMain(m *testing.M) {
	if err := repository.Connect("sqlite3", ":memory:"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestUploadFileCreatesIngestionAndJob(t *testing.T) {
	r := newTestRouter(t)
	body, contentType := multipartUpload(t, "trace.csv", "metric_name,metric_value\n")

	req := httptest.NewRequest(http.MethodPost, "/upload/upload_file", body)
	req.Header.Set("Content-Type", contentType)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), `"validation":"ok"`)
}

func TestUploadFileRequiresFileField(t *testing.T) {
	r := newTestRouter(t)
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/upload_file", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusBadRequest, rw.Code)
	assert.Contains(t, rw.Body.String(), `"detail"`)
}

func TestGetJobNotFound(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/upload/jobs/999999", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestGetJobInvalidID(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/upload/jobs/not-a-number", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestGetFileJobsEmptyListWhenNoneExist(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/upload/file/does-not-exist/jobs", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "[]\n", rw.Body.String())
}

func TestGenerateReportRequiresFileID(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/report/generate-eda-report", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestGenerateReportFailsWithoutIngestedFile(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/report/generate-eda-report?file_id=never-uploaded", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestGenerateReportSucceedsAfterUpload(t *testing.T) {
	r := newTestRouter(t)
	body, contentType := multipartUpload(t, "trace2.csv", "metric_name,metric_value\n")

	uploadReq := httptest.NewRequest(http.MethodPost, "/upload/upload_file", body)
	uploadReq.Header.Set("Content-Type", contentType)
	uploadRW := httptest.NewRecorder()
	r.ServeHTTP(uploadRW, uploadReq)
	require.Equal(t, http.StatusOK, uploadRW.Code)

	var upload struct {
		FileID string `json:"file_id"`
	}
	require.NoError(t, json.Unmarshal(uploadRW.Body.Bytes(), &upload))

	req := httptest.NewRequest(http.MethodPost, "/report/generate-eda-report?file_id="+upload.FileID, nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), upload.FileID)
}

func TestHealthCheckAlwaysOK(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health/health_check", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), `"status":"ok"`)
}

func TestHealthCeleryReportsDownWithoutBroker(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health/celery", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), `"status":"down"`)
}
