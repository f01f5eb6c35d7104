// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ingest

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/loadtrace/backend/internal/apperr"
	"github.com/loadtrace/backend/internal/canon"
	"github.com/loadtrace/backend/internal/ingest/pivot"
	"github.com/loadtrace/backend/internal/ingest/reader"
	"github.com/loadtrace/backend/internal/repository"
	"github.com/loadtrace/backend/internal/schema"
	"github.com/loadtrace/backend/pkg/log"
)

// Options configures one run of Run.
type Options struct {
	ChunkSize int
	OnInvalid pivot.OnInvalidRow
	Aliaser   *canon.Aliaser
}

// openSource picks the reader implementation by file extension.
func openSource(path string, chunkSize int, filter reader.MetricFilter) (reader.Source, error) {
	switch {
	case strings.HasSuffix(path, ".csv"):
		return reader.NewCSVSource(path, chunkSize, filter)
	case strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".jsonl") || strings.HasSuffix(path, ".ndjson"):
		return reader.NewJSONSource(path, chunkSize, filter)
	default:
		return nil, apperr.New(apperr.KindUnsupportedFormat, "unrecognized file extension for %q", path)
	}
}

// Run drives one ingestion job end to end: read the raw file chunk by
// chunk, pivot each chunk to canonical records, stage them, and on a clean
// EOF promote the staged rows into request_logs. ctx cancellation aborts
// between chunks and leaves the staged rows to be cleaned up by the caller.
func Run(ctx context.Context, jobID int64, path string, opts Options) (rowsIngested int64, err error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = reader.DefaultChunkSize
	}

	src, err := openSource(path, opts.ChunkSize, canon.IsMetricOfInterest)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	staging := repository.GetStagingRepository()
	ingestionRepo := repository.GetIngestionJobRepository()

	var invalidRows int64
	for {
		select {
		case <-ctx.Done():
			return rowsIngested, apperr.Wrap(apperr.KindTimeout, ctx.Err(), "ingestion job %d", jobID)
		default:
		}

		batch, readErr := src.Next()
		if len(batch) > 0 {
			records := pivot.Pivot(batch, opts.Aliaser, opts.OnInvalid, &invalidRows)
			if err := staging.InsertChunk(jobID, records); err != nil {
				return rowsIngested, err
			}
			rowsIngested += int64(len(records))
			if err := ingestionRepo.AdvanceRows(jobID, int64(len(records))); err != nil {
				log.Warnf("ingest: advancing row counter for job %d: %v", jobID, err)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return rowsIngested, apperr.Wrap(apperr.KindParseFailure, readErr, "reading %q", path)
		}
	}

	if invalidRows > 0 {
		log.Warnf("ingest: job %d dropped/kept %d invalid rows", jobID, invalidRows)
	}

	promoted, err := staging.Promote(jobID)
	if err != nil {
		return rowsIngested, err
	}
	if promoted != rowsIngested {
		log.Warnf("ingest: job %d staged %d rows but promoted %d", jobID, rowsIngested, promoted)
	}

	return rowsIngested, nil
}

// Discard tears down any staged rows for a job that failed partway
// through, so a retry starts from a clean slate.
func Discard(jobID int64) error {
	return repository.GetStagingRepository().DiscardStaging(jobID)
}
