// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/loadtrace/backend/internal/schema"
)

// No third-party CSV library appears anywhere in the retrieved corpus, so
// this reader is built directly on encoding/csv, the idiomatic
// standard-library way to stream a CSV file row by row without
// materializing it.

// CSVSource streams a CSV trace file in fixed-size batches. The header row
// must include metric_name, metric_value, timestamp, name, method, url,
// status, in any order.
type CSVSource struct {
	f         *os.File
	r         *csv.Reader
	colIndex  map[string]int
	chunkSize int
	filter    MetricFilter
	done      bool
}

// NewCSVSource opens path for streaming, reading and validating the header
// row immediately.
func NewCSVSource(path string, chunkSize int, filter MetricFilter) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading CSV header of %s: %w", path, err)
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[name] = i
	}
	for _, required := range []string{"metric_name", "metric_value", "timestamp", "name", "method", "url", "status"} {
		if _, ok := colIndex[required]; !ok {
			f.Close()
			return nil, fmt.Errorf("CSV %s missing required column %q", path, required)
		}
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &CSVSource{f: f, r: r, colIndex: colIndex, chunkSize: chunkSize, filter: filter}, nil
}

func (s *CSVSource) Next() ([]schema.RawRow, error) {
	if s.done {
		return nil, io.EOF
	}

	batch := make([]schema.RawRow, 0, s.chunkSize)
	for len(batch) < s.chunkSize {
		record, err := s.r.Read()
		if err != nil {
			s.done = true
			if err == io.EOF {
				return batch, io.EOF
			}
			return batch, fmt.Errorf("reading %s: %w", s.f.Name(), err)
		}

		metricName := s.col(record, "metric_name")
		if s.filter != nil && !s.filter(metricName) {
			continue
		}
		value, err := strconv.ParseFloat(s.col(record, "metric_value"), 64)
		if err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, s.col(record, "timestamp"))
		if err != nil {
			ts, err = time.Parse(time.RFC3339, s.col(record, "timestamp"))
			if err != nil {
				continue
			}
		}

		batch = append(batch, schema.RawRow{
			Timestamp:  ts,
			MetricName: metricName,
			Value:      value,
			Name:       s.col(record, "name"),
			Method:     s.col(record, "method"),
			URL:        s.col(record, "url"),
			Status:     s.col(record, "status"),
		})
	}
	return batch, nil
}

func (s *CSVSource) col(record []string, name string) string {
	i, ok := s.colIndex[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

func (s *CSVSource) Close() error { return s.f.Close() }
