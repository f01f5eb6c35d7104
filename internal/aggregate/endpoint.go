// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package aggregate

import (
	"github.com/loadtrace/backend/internal/schema"
	"github.com/loadtrace/backend/internal/stats"
)

// EndpointMetrics is one URL's finalized metrics: everything Metrics holds
// plus per-phase averages and the tail-latency gap.
type EndpointMetrics struct {
	URL string `json:"url"`
	Metrics

	PhaseAvgMs      map[schema.LatencyColumn]float64 `json:"phase_avg_ms"`
	TailLatencyGap  *float64                         `json:"tail_latency_gap"`
}

type endpointAccumulator struct {
	global *Global
	phases map[schema.LatencyColumn]*stats.Welford
}

// Endpoint is a mapping from canonical URL to a per-endpoint accumulator,
// created lazily on first sight.
type Endpoint struct {
	cfg   Config
	byURL map[string]*endpointAccumulator
}

// NewEndpoint allocates an endpoint aggregator.
func NewEndpoint(cfg Config) *Endpoint {
	return &Endpoint{cfg: cfg, byURL: make(map[string]*endpointAccumulator)}
}

// Update folds one canonical record into its URL's accumulator, allocating
// a fresh one on first sight of that URL.
func (e *Endpoint) Update(rec *schema.Record) {
	acc, ok := e.byURL[rec.URL]
	if !ok {
		acc = &endpointAccumulator{
			global: NewGlobal(e.cfg),
			phases: make(map[schema.LatencyColumn]*stats.Welford, len(schema.LatencyColumns)),
		}
		for _, col := range schema.LatencyColumns {
			acc.phases[col] = &stats.Welford{}
		}
		e.byURL[rec.URL] = acc
	}

	acc.global.Update(rec)
	for _, col := range schema.LatencyColumns {
		if v, present := rec.Value(col); present {
			acc.phases[col].Update(v)
		}
	}
}

// UpdateBatch folds an entire batch of records.
func (e *Endpoint) UpdateBatch(records []schema.Record) {
	for i := range records {
		e.Update(&records[i])
	}
}

// Finalize returns one entry per URL seen. Order is unspecified; callers
// that need a stable order should sort the result themselves.
func (e *Endpoint) Finalize() []EndpointMetrics {
	out := make([]EndpointMetrics, 0, len(e.byURL))
	for url, acc := range e.byURL {
		m := EndpointMetrics{
			URL:        url,
			Metrics:    acc.global.Finalize(),
			PhaseAvgMs: make(map[schema.LatencyColumn]float64, len(schema.LatencyColumns)),
		}
		for _, col := range schema.LatencyColumns {
			if avg, ok := acc.phases[col].Mean(); ok {
				m.PhaseAvgMs[col] = avg
			}
		}
		if m.P90 != nil && m.Median != nil {
			gap := *m.P90 - *m.Median
			m.TailLatencyGap = &gap
		}
		out = append(out, m)
	}
	return out
}
