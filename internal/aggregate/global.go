// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aggregate implements the global and per-endpoint online
// aggregators that consume a stream of canonical records and, at the end of
// the stream, emit the final metric objects.
// Both aggregators are independent, task-confined value types safe to run
// in parallel over the same record stream, using a struct of named fields
// rather than a dictionary of mixed types, the same pattern
// internal/repository/stats.go uses for its own keyed accumulators.
package aggregate

import (
	"time"

	"github.com/loadtrace/backend/internal/schema"
	"github.com/loadtrace/backend/internal/stats"
)

// Config controls the capacity of the reservoir samplers an aggregator
// allocates and the RNG seed they use, so tests are deterministic.
type Config struct {
	ReservoirCapacity int
	ReservoirSeed     int64
}

// Metrics is the finalized shape emitted by Global.Finalize and (after
// conversion) by the endpoint aggregator and the SQL read path alike, so
// the two are interchangeable.
type Metrics struct {
	TotalRequests int64 `json:"total_requests"`

	SuccessRate         *float64 `json:"success_rate"`
	FailureRate         *float64 `json:"failure_rate"`
	RequestStatusError  *float64 `json:"request_status_error"`
	Status2xx           *float64 `json:"status_2xx"`
	Status3xx           *float64 `json:"status_3xx"`
	Status4xx           *float64 `json:"status_4xx"`
	Status5xx           *float64 `json:"status_5xx"`
	RPS                 *float64 `json:"rps"`

	Median *float64 `json:"median"`
	P90    *float64 `json:"p90"`
	P95    *float64 `json:"p95"`
	P99    *float64 `json:"p99"`
	Avg    *float64 `json:"avg"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
}

// Global accumulates total_requests, success_count, a status-code
// histogram, min/max observed timestamp, and a Welford+reservoir pair over
// response_time_ms.
type Global struct {
	totalRequests int64
	successCount  int64
	errorCount    int64
	statusHisto   map[int]int64

	minTS, maxTS time.Time
	haveTS       bool

	latency   stats.Welford
	reservoir *stats.Reservoir
}

// NewGlobal allocates a Global aggregator; a zero Config uses the package
// defaults (stats.DefaultReservoirCapacity, seed 0).
func NewGlobal(cfg Config) *Global {
	if cfg.ReservoirCapacity <= 0 {
		cfg.ReservoirCapacity = stats.DefaultReservoirCapacity
	}
	return &Global{
		statusHisto: make(map[int]int64),
		reservoir:   stats.NewReservoir(cfg.ReservoirCapacity, cfg.ReservoirSeed),
	}
}

// Update folds one canonical record into the aggregator. O(1).
func (g *Global) Update(rec *schema.Record) {
	g.totalRequests++
	if rec.Success != nil && *rec.Success {
		g.successCount++
	}
	if rec.StatusCode != nil {
		code := *rec.StatusCode
		g.statusHisto[code]++
		if code >= 400 {
			g.errorCount++
		}
	}

	if !g.haveTS {
		g.minTS, g.maxTS = rec.Timestamp, rec.Timestamp
		g.haveTS = true
	} else {
		if rec.Timestamp.Before(g.minTS) {
			g.minTS = rec.Timestamp
		}
		if rec.Timestamp.After(g.maxTS) {
			g.maxTS = rec.Timestamp
		}
	}

	g.latency.Update(rec.ResponseTimeMs)
	g.reservoir.Update(rec.ResponseTimeMs)
}

// UpdateBatch folds an entire batch of records. O(|batch|).
func (g *Global) UpdateBatch(records []schema.Record) {
	for i := range records {
		g.Update(&records[i])
	}
}

// Finalize returns the final metric object. On zero requests it returns an
// empty Metrics value (TotalRequests 0, every pointer field nil).
func (g *Global) Finalize() Metrics {
	var m Metrics
	if g.totalRequests == 0 {
		return m
	}

	m.TotalRequests = g.totalRequests

	successRate := float64(g.successCount) / float64(g.totalRequests)
	failureRate := 1 - successRate
	m.SuccessRate = &successRate
	m.FailureRate = &failureRate

	requestStatusError := float64(g.errorCount) / float64(g.totalRequests)
	m.RequestStatusError = &requestStatusError

	m.Status2xx = bucketRate(g.statusHisto, g.totalRequests, 2)
	m.Status3xx = bucketRate(g.statusHisto, g.totalRequests, 3)
	m.Status4xx = bucketRate(g.statusHisto, g.totalRequests, 4)
	m.Status5xx = bucketRate(g.statusHisto, g.totalRequests, 5)

	if duration := g.maxTS.Sub(g.minTS).Seconds(); duration > 0 {
		rps := float64(g.totalRequests) / duration
		m.RPS = &rps
	}

	if median, ok := g.reservoir.Percentile(50); ok {
		m.Median = &median
	}
	if p90, ok := g.reservoir.Percentile(90); ok {
		m.P90 = &p90
	}
	if p95, ok := g.reservoir.Percentile(95); ok {
		m.P95 = &p95
	}
	if p99, ok := g.reservoir.Percentile(99); ok {
		m.P99 = &p99
	}
	if avg, ok := g.latency.Mean(); ok {
		m.Avg = &avg
	}
	if min, ok := g.latency.Min(); ok {
		m.Min = &min
	}
	if max, ok := g.latency.Max(); ok {
		m.Max = &max
	}

	return m
}

func bucketRate(histo map[int]int64, total int64, hundreds int) *float64 {
	lo := hundreds * 100
	hi := lo + 100
	var count int64
	for code, n := range histo {
		if code >= lo && code < hi {
			count += n
		}
	}
	rate := float64(count) / float64(total)
	return &rate
}
