// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema defines the wire and storage types shared by every stage of
// the ingestion pipeline: the raw per-metric row read off disk, the
// pivoted-to-one-row-per-request canonical record, and the job records that
// track ingestion and orchestration state.
package schema

import "time"

// RawRow is a single metric measurement as it appears in the load generator's
// output, before pivoting. One HTTP request produces several RawRows sharing
// the same Timestamp/Method/URL/Status.
type RawRow struct {
	Timestamp  time.Time
	MetricName string
	Value      float64
	Name       string
	Method     string
	URL        string
	Status     string
}

// Record is the canonical, pivoted, one-row-per-request form consumed by the
// aggregators and the persistence layer.
type Record struct {
	Timestamp time.Time
	URL       string
	Method    string
	// StatusCode is nil when the raw status tag could not be parsed as an
	// integer and the job's validation policy chose to keep the row.
	StatusCode *int
	// Success is nil when the raw batch never carried an http_req_failed
	// row for this request.
	Success *bool

	ResponseTimeMs  float64
	BlockedMs       *float64
	ConnectingMs    *float64
	ReceivingMs     *float64
	SendingMs       *float64
	TLSHandshakeMs  *float64
	WaitingMs       *float64
}

// LatencyColumn names one of the seven latency fields of Record, used by the
// endpoint aggregator to iterate over them uniformly instead of repeating the
// same logic seven times.
type LatencyColumn string

const (
	ColResponseTime LatencyColumn = "response_time_ms"
	ColBlocked      LatencyColumn = "blocked_ms"
	ColConnecting   LatencyColumn = "connecting_ms"
	ColReceiving    LatencyColumn = "receiving_ms"
	ColSending      LatencyColumn = "sending_ms"
	ColTLSHandshake LatencyColumn = "tls_handshake_ms"
	ColWaiting      LatencyColumn = "waiting_ms"
)

// LatencyColumns lists every latency column in a stable order, used wherever
// per-phase metrics must be emitted deterministically.
var LatencyColumns = []LatencyColumn{
	ColResponseTime, ColBlocked, ColConnecting, ColReceiving, ColSending, ColTLSHandshake, ColWaiting,
}

// Value returns the value of the named latency column for this record, or
// (0, false) if it was never populated.
func (r *Record) Value(col LatencyColumn) (float64, bool) {
	switch col {
	case ColResponseTime:
		return r.ResponseTimeMs, true
	case ColBlocked:
		return derefOrZero(r.BlockedMs)
	case ColConnecting:
		return derefOrZero(r.ConnectingMs)
	case ColReceiving:
		return derefOrZero(r.ReceivingMs)
	case ColSending:
		return derefOrZero(r.SendingMs)
	case ColTLSHandshake:
		return derefOrZero(r.TLSHandshakeMs)
	case ColWaiting:
		return derefOrZero(r.WaitingMs)
	default:
		return 0, false
	}
}

func derefOrZero(f *float64) (float64, bool) {
	if f == nil {
		return 0, false
	}
	return *f, true
}
