// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package canon holds the two small rename tables the pivot stage applies to
// every raw row: metric-name to canonical column, and raw endpoint token to
// canonical URL.
package canon

// MetricRenames maps a raw metric_name tag to the canonical Record field it
// fills. http_req_failed and http_reqs are handled specially by the pivoter
// (derivation and drop, respectively) and do not appear here.
var MetricRenames = map[string]string{
	"http_req_duration":       "response_time_ms",
	"http_req_blocked":        "blocked_ms",
	"http_req_connecting":     "connecting_ms",
	"http_req_tls_handshaking": "tls_handshake_ms",
	"http_req_sending":        "sending_ms",
	"http_req_waiting":        "waiting_ms",
	"http_req_receiving":      "receiving_ms",
}

// MetricsOfInterest is the set of metric_name values the readers keep; every
// other metric row is dropped before it reaches the pivoter.
var MetricsOfInterest = buildMetricsOfInterest()

func buildMetricsOfInterest() map[string]bool {
	m := make(map[string]bool, len(MetricRenames)+2)
	for k := range MetricRenames {
		m[k] = true
	}
	m["http_req_failed"] = true
	m["http_reqs"] = true
	return m
}

// IsMetricOfInterest reports whether name is one of the metrics the
// pipeline keeps. Matches the reader.MetricFilter signature.
func IsMetricOfInterest(name string) bool {
	return MetricsOfInterest[name]
}

// Aliaser rewrites a raw endpoint token to its canonical URL. The zero value
// is ready to use and passes every URL through unchanged; load a populated
// one from config via NewAliaser.
type Aliaser struct {
	table map[string]string
}

// NewAliaser builds an Aliaser from a raw-token → canonical-URL map, such as
// ProgramConfig.Aliases.
func NewAliaser(table map[string]string) *Aliaser {
	return &Aliaser{table: table}
}

// Canonicalize rewrites raw through the alias table. Tokens with no entry
// pass through unchanged, counted as their own endpoint.
func (a *Aliaser) Canonicalize(raw string) string {
	if a == nil || a.table == nil {
		return raw
	}
	if mapped, ok := a.table[raw]; ok {
		return mapped
	}
	return raw
}
