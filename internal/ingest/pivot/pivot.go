// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pivot groups a batch of raw per-metric rows into one canonical
// record per request, following a table-driven transform style suited to
// small, pure normalization helpers.
package pivot

import (
	"strconv"
	"time"

	"github.com/loadtrace/backend/internal/canon"
	"github.com/loadtrace/backend/internal/schema"
)

// OnInvalidRow selects what happens to a pivoted request whose status
// cannot be coerced: DropInvalidRow discards it (and counts it, see Pivot),
// KeepInvalidRow keeps it with the offending field left nil. The choice must
// stay the same for the whole job.
type OnInvalidRow int

const (
	DropInvalidRow OnInvalidRow = iota
	KeepInvalidRow
)

type groupKey struct {
	timestamp int64
	name      string
	method    string
	url       string
	status    string
}

// Pivot groups batch by (timestamp, name, method, url, status), assigns
// each group's first occurrence of each metric_name to its renamed column,
// applies the endpoint alias map, derives success from http_req_failed, and
// drops http_reqs. Row order of the output follows first-appearance order
// of each group within the batch, matching the input's file order.
//
// invalidRows, if non-nil, is incremented once per pivoted request dropped
// for failing status coercion when onInvalid == DropInvalidRow.
func Pivot(batch []schema.RawRow, aliaser *canon.Aliaser, onInvalid OnInvalidRow, invalidRows *int64) []schema.Record {
	if len(batch) == 0 {
		return nil
	}

	order := make([]groupKey, 0, len(batch)/4+1)
	groups := make(map[groupKey][]schema.RawRow, len(batch)/4+1)

	for _, row := range batch {
		key := groupKey{
			timestamp: row.Timestamp.UnixNano(),
			name:      row.Name,
			method:    row.Method,
			url:       row.URL,
			status:    row.Status,
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	records := make([]schema.Record, 0, len(order))
	for _, key := range order {
		rec, ok := pivotGroup(key, groups[key], aliaser, onInvalid)
		if !ok {
			if invalidRows != nil {
				*invalidRows++
			}
			continue
		}
		records = append(records, rec)
	}
	return records
}

func pivotGroup(key groupKey, rows []schema.RawRow, aliaser *canon.Aliaser, onInvalid OnInvalidRow) (schema.Record, bool) {
	rec := schema.Record{
		Timestamp: time.Unix(0, key.timestamp).UTC(),
		Method:    key.method,
		URL:       aliaser.Canonicalize(key.url),
	}

	seen := make(map[string]bool, len(canon.MetricRenames))
	var httpReqFailed *float64

	for _, row := range rows {
		if row.MetricName == "http_reqs" {
			continue // dropped, never appears in the canonical record
		}
		if row.MetricName == "http_req_failed" {
			if httpReqFailed == nil {
				v := row.Value
				httpReqFailed = &v
			}
			continue
		}
		col, known := canon.MetricRenames[row.MetricName]
		if !known || seen[col] {
			continue
		}
		seen[col] = true
		assignColumn(&rec, col, row.Value)
	}

	if httpReqFailed != nil {
		success := *httpReqFailed == 0
		rec.Success = &success
	}

	statusCode, err := strconv.Atoi(key.status)
	if err != nil {
		if onInvalid == DropInvalidRow {
			return schema.Record{}, false
		}
	} else {
		rec.StatusCode = &statusCode
	}

	return rec, true
}

func assignColumn(rec *schema.Record, col string, v float64) {
	switch col {
	case "response_time_ms":
		rec.ResponseTimeMs = v
	case "blocked_ms":
		rec.BlockedMs = &v
	case "connecting_ms":
		rec.ConnectingMs = &v
	case "receiving_ms":
		rec.ReceivingMs = &v
	case "sending_ms":
		rec.SendingMs = &v
	case "tls_handshake_ms":
		rec.TLSHandshakeMs = &v
	case "waiting_ms":
		rec.WaitingMs = &v
	}
}
