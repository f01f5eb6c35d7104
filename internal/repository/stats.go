// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/loadtrace/backend/internal/aggregate"
	"github.com/loadtrace/backend/internal/apperr"
	"github.com/loadtrace/backend/internal/schema"
)

var (
	statsRepoOnce     sync.Once
	statsRepoInstance *StatsRepository
)

// StatsRepository answers the aggregate metric queries directly against
// request_logs, the alternative read path to running the in-memory
// aggregators over a record stream (internal/aggregate). Both paths produce
// the same aggregate.Metrics/aggregate.EndpointMetrics shapes.
type StatsRepository struct {
	DB        *sqlx.DB
	stmtCache *sq.StmtCache
	driver    string
}

// GetStatsRepository returns the process-wide stats repository.
func GetStatsRepository() *StatsRepository {
	statsRepoOnce.Do(func() {
		conn := GetConnection()
		statsRepoInstance = &StatsRepository{
			DB:        conn.DB,
			stmtCache: conn.StmtCache,
			driver:    conn.Driver,
		}
	})
	return statsRepoInstance
}

// percentile computes the p-th percentile (0-100) of col for the given
// job, using PERCENTILE_CONT on postgres and a sorted-offset fallback on
// sqlite3, which has no percentile aggregate of its own.
func (r *StatsRepository) percentile(jobID int64, col string, p float64) (*float64, error) {
	if r.driver == "pgx" {
		var v sql.NullFloat64
		q := fmt.Sprintf(
			`SELECT percentile_cont(%f) WITHIN GROUP (ORDER BY %s) FROM request_logs WHERE job_id = $1`,
			p/100, col)
		if err := r.DB.QueryRow(q, jobID).Scan(&v); err != nil {
			return nil, err
		}
		if !v.Valid {
			return nil, nil
		}
		return &v.Float64, nil
	}

	var count int64
	if err := r.DB.Get(&count, `SELECT count(*) FROM request_logs WHERE job_id = ?`, jobID); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	offset := int64(math.Round(p / 100 * float64(count-1)))
	var v float64
	q := fmt.Sprintf(`SELECT %s FROM request_logs WHERE job_id = ? ORDER BY %s LIMIT 1 OFFSET ?`, col, col)
	if err := r.DB.Get(&v, q, jobID, offset); err != nil {
		return nil, err
	}
	return &v, nil
}

// GlobalMetrics computes the global aggregate.Metrics for a job by querying
// request_logs directly.
func (r *StatsRepository) GlobalMetrics(jobID int64) (*aggregate.Metrics, error) {
	m, err := r.metricsFor(jobID, "")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "computing global metrics for job %d", jobID)
	}
	return m, nil
}

// metricsFor computes aggregate.Metrics for a job, restricted to rows whose
// url equals urlFilter when urlFilter is non-empty; shared by GlobalMetrics
// and the per-endpoint read path.
func (r *StatsRepository) metricsFor(jobID int64, urlFilter string) (*aggregate.Metrics, error) {
	base := sq.Select(
		"count(*)",
		"sum(case when success then 1 else 0 end)",
		"sum(case when status_code >= 400 then 1 else 0 end)",
		"sum(case when status_code >= 200 and status_code < 300 then 1 else 0 end)",
		"sum(case when status_code >= 300 and status_code < 400 then 1 else 0 end)",
		"sum(case when status_code >= 400 and status_code < 500 then 1 else 0 end)",
		"sum(case when status_code >= 500 and status_code < 600 then 1 else 0 end)",
		"min(timestamp)", "max(timestamp)",
		"avg(response_time_ms)", "min(response_time_ms)", "max(response_time_ms)",
	).From("request_logs").Where("job_id = ?", jobID)
	if urlFilter != "" {
		base = base.Where("url = ?", urlFilter)
	}

	var total, success, errCount, c2xx, c3xx, c4xx, c5xx sql.NullInt64
	var minTS, maxTS sql.NullTime
	var avg, min, max sql.NullFloat64

	row := base.RunWith(r.stmtCache).QueryRow()
	if err := row.Scan(&total, &success, &errCount, &c2xx, &c3xx, &c4xx, &c5xx, &minTS, &maxTS, &avg, &min, &max); err != nil {
		return nil, err
	}

	m := &aggregate.Metrics{}
	if !total.Valid || total.Int64 == 0 {
		return m, nil
	}
	m.TotalRequests = total.Int64

	successRate := float64(success.Int64) / float64(total.Int64)
	failureRate := 1 - successRate
	m.SuccessRate = &successRate
	m.FailureRate = &failureRate

	errorRate := float64(errCount.Int64) / float64(total.Int64)
	m.RequestStatusError = &errorRate

	m.Status2xx = ratePtr(c2xx.Int64, total.Int64)
	m.Status3xx = ratePtr(c3xx.Int64, total.Int64)
	m.Status4xx = ratePtr(c4xx.Int64, total.Int64)
	m.Status5xx = ratePtr(c5xx.Int64, total.Int64)

	if minTS.Valid && maxTS.Valid {
		if duration := maxTS.Time.Sub(minTS.Time).Seconds(); duration > 0 {
			rps := float64(total.Int64) / duration
			m.RPS = &rps
		}
	}

	if avg.Valid {
		m.Avg = &avg.Float64
	}
	if min.Valid {
		m.Min = &min.Float64
	}
	if max.Valid {
		m.Max = &max.Float64
	}

	for _, pp := range []struct {
		p    float64
		dest **float64
	}{
		{50, &m.Median}, {90, &m.P90}, {95, &m.P95}, {99, &m.P99},
	} {
		v, err := r.percentileFiltered(jobID, "response_time_ms", pp.p, urlFilter)
		if err != nil {
			return nil, err
		}
		*pp.dest = v
	}

	return m, nil
}

func (r *StatsRepository) percentileFiltered(jobID int64, col string, p float64, urlFilter string) (*float64, error) {
	if urlFilter == "" {
		return r.percentile(jobID, col, p)
	}

	if r.driver == "pgx" {
		var v sql.NullFloat64
		q := fmt.Sprintf(
			`SELECT percentile_cont(%f) WITHIN GROUP (ORDER BY %s) FROM request_logs WHERE job_id = $1 AND url = $2`,
			p/100, col)
		if err := r.DB.QueryRow(q, jobID, urlFilter).Scan(&v); err != nil {
			return nil, err
		}
		if !v.Valid {
			return nil, nil
		}
		return &v.Float64, nil
	}

	var count int64
	if err := r.DB.Get(&count, `SELECT count(*) FROM request_logs WHERE job_id = ? AND url = ?`, jobID, urlFilter); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	offset := int64(math.Round(p / 100 * float64(count-1)))
	var v float64
	q := fmt.Sprintf(`SELECT %s FROM request_logs WHERE job_id = ? AND url = ? ORDER BY %s LIMIT 1 OFFSET ?`, col, col)
	if err := r.DB.Get(&v, q, jobID, urlFilter, offset); err != nil {
		return nil, err
	}
	return &v, nil
}

func ratePtr(n, total int64) *float64 {
	rate := float64(n) / float64(total)
	return &rate
}

// EndpointMetrics computes the per-URL breakdown for a job. Unlike the
// in-memory aggregator, this issues one query round-trip per distinct URL
// after fetching the URL list, trading latency for memory; it is meant for
// the report-generation path, not the hot ingestion path.
func (r *StatsRepository) EndpointMetrics(jobID int64) ([]aggregate.EndpointMetrics, error) {
	var urls []string
	if err := r.DB.Select(&urls, `SELECT DISTINCT url FROM request_logs WHERE job_id = ?`, jobID); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "listing endpoint urls for job %d", jobID)
	}

	out := make([]aggregate.EndpointMetrics, 0, len(urls))
	for _, url := range urls {
		m, err := r.metricsFor(jobID, url)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "computing metrics for endpoint %s", url)
		}

		phaseAvg := make(map[schema.LatencyColumn]float64, len(schema.LatencyColumns))
		for _, col := range schema.LatencyColumns {
			var avg sql.NullFloat64
			q := fmt.Sprintf(`SELECT avg(%s) FROM request_logs WHERE job_id = ? AND url = ?`, string(col))
			if err := r.DB.Get(&avg, q, jobID, url); err != nil {
				return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "averaging %s for endpoint %s", col, url)
			}
			if avg.Valid {
				phaseAvg[col] = avg.Float64
			}
		}

		em := aggregate.EndpointMetrics{URL: url, Metrics: *m, PhaseAvgMs: phaseAvg}
		if em.P90 != nil && em.Median != nil {
			gap := *em.P90 - *em.Median
			em.TailLatencyGap = &gap
		}
		out = append(out, em)
	}
	return out, nil
}

// StatusHistogram returns the count of requests per HTTP status code.
func (r *StatsRepository) StatusHistogram(jobID int64) (map[int]int64, error) {
	rows, err := sq.Select("status_code", "count(*)").From("request_logs").
		Where("job_id = ? AND status_code IS NOT NULL", jobID).
		GroupBy("status_code").
		RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "computing status histogram for job %d", jobID)
	}
	defer rows.Close()

	histo := make(map[int]int64)
	for rows.Next() {
		var code int
		var count int64
		if err := rows.Scan(&code, &count); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "scanning status histogram row")
		}
		histo[code] = count
	}
	return histo, nil
}

// TimeSeriesPoint is one bucket of the requests-over-time breakdown.
type TimeSeriesPoint struct {
	BucketStart time.Time `json:"bucket_start" db:"bucket_start"`
	Requests    int64     `json:"requests" db:"requests"`
	ErrorCount  int64     `json:"error_count" db:"error_count"`
	AvgLatency  float64   `json:"avg_latency_ms" db:"avg_latency_ms"`
}

// TimeSeries buckets a job's requests into fixed-width windows (seconds),
// giving the request count, error count, and average latency per bucket. Bucket
// alignment is computed in Go so the query stays driver-portable instead of
// relying on a dialect-specific date_trunc/strftime step size.
func (r *StatsRepository) TimeSeries(jobID int64, bucketSeconds int64) ([]TimeSeriesPoint, error) {
	if bucketSeconds <= 0 {
		bucketSeconds = 1
	}

	rows, err := r.DB.Query(`SELECT timestamp, status_code, response_time_ms FROM request_logs WHERE job_id = ? ORDER BY timestamp`, jobID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "loading time series rows for job %d", jobID)
	}
	defer rows.Close()

	type bucketAcc struct {
		requests   int64
		errors     int64
		latencySum float64
		start      time.Time
	}
	buckets := make(map[int64]*bucketAcc)

	for rows.Next() {
		var ts time.Time
		var status sql.NullInt64
		var latency float64
		if err := rows.Scan(&ts, &status, &latency); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "scanning time series row")
		}
		key := ts.Unix() / bucketSeconds
		acc, ok := buckets[key]
		if !ok {
			acc = &bucketAcc{start: time.Unix(key*bucketSeconds, 0).UTC()}
			buckets[key] = acc
		}
		acc.requests++
		acc.latencySum += latency
		if status.Valid && status.Int64 >= 400 {
			acc.errors++
		}
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sortInt64s(keys)

	out := make([]TimeSeriesPoint, 0, len(keys))
	for _, k := range keys {
		acc := buckets[k]
		out = append(out, TimeSeriesPoint{
			BucketStart: acc.start,
			Requests:    acc.requests,
			ErrorCount:  acc.errors,
			AvgLatency:  acc.latencySum / float64(acc.requests),
		})
	}
	return out, nil
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// TopSlowest returns the n endpoints with the highest average
// response_time_ms, descending.
func (r *StatsRepository) TopSlowest(jobID int64, n int) ([]aggregate.EndpointMetrics, error) {
	return r.topBy(jobID, n, "avg(response_time_ms)")
}

// TopErrorRate returns the n endpoints with the highest error rate,
// descending.
func (r *StatsRepository) TopErrorRate(jobID int64, n int) ([]aggregate.EndpointMetrics, error) {
	return r.topBy(jobID, n, "sum(case when status_code >= 400 then 1.0 else 0.0 end) / count(*)")
}

func (r *StatsRepository) topBy(jobID int64, n int, orderExpr string) ([]aggregate.EndpointMetrics, error) {
	var urls []string
	q := fmt.Sprintf(`SELECT url FROM request_logs WHERE job_id = ? GROUP BY url ORDER BY %s DESC LIMIT ?`, orderExpr)
	if err := r.DB.Select(&urls, q, jobID, n); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "ranking endpoints for job %d", jobID)
	}

	out := make([]aggregate.EndpointMetrics, 0, len(urls))
	for _, url := range urls {
		m, err := r.metricsFor(jobID, url)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistenceFailure, err, "computing metrics for endpoint %s", url)
		}
		out = append(out, aggregate.EndpointMetrics{URL: url, Metrics: *m, PhaseAvgMs: map[schema.LatencyColumn]float64{}})
	}
	return out, nil
}
