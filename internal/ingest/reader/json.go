// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package reader

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/loadtrace/backend/internal/schema"
)

// jsonPoint is the shape of one line of a line-delimited trace file. Only
// lines that decode into this shape with Type=="Point" and a Metric the
// caller's filter accepts contribute a raw row; everything else (including
// lines that fail to parse at all) is skipped without aborting ingestion.
type jsonPoint struct {
	Type   string  `json:"type"`
	Metric string  `json:"metric"`
	Data   jsonData `json:"data"`
}

type jsonData struct {
	Time  string            `json:"time"`
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags"`
}

// JSONSource streams a line-delimited JSON trace file in fixed-size batches.
type JSONSource struct {
	f         *os.File
	r         *bufio.Reader
	chunkSize int
	filter    MetricFilter
	done      bool
}

// NewJSONSource opens path for streaming. filter selects which metric names
// are kept; pass nil to keep every metric with a well-formed Point line.
func NewJSONSource(path string, chunkSize int, filter MetricFilter) (*JSONSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &JSONSource{
		f:         f,
		r:         bufio.NewReaderSize(f, 64*1024),
		chunkSize: chunkSize,
		filter:    filter,
	}, nil
}

func (s *JSONSource) Next() ([]schema.RawRow, error) {
	if s.done {
		return nil, io.EOF
	}

	batch := make([]schema.RawRow, 0, s.chunkSize)
	for len(batch) < s.chunkSize {
		line, err := s.r.ReadString('\n')
		if len(line) > 0 {
			if row, ok := s.parseLine(line); ok {
				batch = append(batch, row)
			}
		}
		if err != nil {
			s.done = true
			if err == io.EOF {
				return batch, io.EOF
			}
			return batch, fmt.Errorf("reading %s: %w", s.f.Name(), err)
		}
	}
	return batch, nil
}

// parseLine decodes one line into a RawRow. A line that fails to parse, or
// does not represent a Point for a metric of interest, is dropped silently
// before any pivoting happens.
func (s *JSONSource) parseLine(line string) (schema.RawRow, bool) {
	var p jsonPoint
	if err := json.Unmarshal([]byte(line), &p); err != nil {
		return schema.RawRow{}, false
	}
	if p.Type != "Point" {
		return schema.RawRow{}, false
	}
	if s.filter != nil && !s.filter(p.Metric) {
		return schema.RawRow{}, false
	}

	ts, err := time.Parse(time.RFC3339Nano, p.Data.Time)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, p.Data.Time)
		if err != nil {
			return schema.RawRow{}, false
		}
	}

	return schema.RawRow{
		Timestamp:  ts,
		MetricName: p.Metric,
		Value:      p.Data.Value,
		Name:       p.Data.Tags["name"],
		Method:     p.Data.Tags["method"],
		URL:        p.Data.Tags["url"],
		Status:     p.Data.Tags["status"],
	}, true
}

func (s *JSONSource) Close() error { return s.f.Close() }
