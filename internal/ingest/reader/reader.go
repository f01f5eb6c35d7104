// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package reader produces lazy, bounded-memory batches of raw rows from a
// load-test trace file, one reader per supported format. Both readers
// expose the same restartable-iterator contract a streaming
// ingestion code favors over materializing a whole file: Next returns the
// next batch of at most chunkSize rows, and io.EOF once the file is
// exhausted, so the pivot stage downstream never has to hold more than one
// chunk in memory at a time.
package reader

import (
	"github.com/loadtrace/backend/internal/schema"
)

// DefaultChunkSize is the default number of rows per batch ("Default
// chunk_size = 50 000").
const DefaultChunkSize = 50_000

// Source is a restartable iterator over a raw trace file's rows, chunked to
// a fixed size. Next returns io.EOF (possibly together with a final
// non-empty batch) once the file is exhausted. Errors other than per-line
// parse failures — a missing file, unreadable bytes — are fatal and
// returned as a non-io.EOF error.
type Source interface {
	// Next returns the next batch of raw rows. A nil batch with a nil error
	// never happens: callers should stop iterating as soon as err != nil,
	// using the final batch (if any) before treating io.EOF as a clean end.
	Next() (batch []schema.RawRow, err error)

	// Close releases the underlying file handle.
	Close() error
}

// MetricFilter reports whether a metric name is one the pipeline keeps.
// internal/canon.IsMetricOfInterest is the production implementation.
type MetricFilter func(metricName string) bool
