// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every Prometheus series this process exports. Fields are
// typed and named directly; callers increment/observe the field they mean
// rather than going through a string-keyed dispatch.
type Collector struct {
	registry *prometheus.Registry

	JobsCreated   *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec

	UploadRequests prometheus.Counter
	UploadBytes    prometheus.Histogram

	IngestionRows prometheus.Counter
}

// NewCollector builds and registers the collector's series on a private
// registry, so /metrics never leaks the Go runtime collectors the default
// global registry would otherwise add twice if this were constructed more
// than once in tests.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		JobsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadtrace",
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Jobs created, by kind.",
		}, []string{"kind"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadtrace",
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Jobs completed successfully, by kind.",
		}, []string{"kind"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadtrace",
			Subsystem: "jobs",
			Name:      "failed_total",
			Help:      "Jobs that ended in failure, by kind.",
		}, []string{"kind"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loadtrace",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job processing time from dispatch to completion, by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"kind"}),
		UploadRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loadtrace",
			Subsystem: "upload",
			Name:      "requests_total",
			Help:      "Upload requests accepted.",
		}),
		UploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loadtrace",
			Subsystem: "upload",
			Name:      "bytes",
			Help:      "Size of uploaded files in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 10),
		}),
		IngestionRows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loadtrace",
			Subsystem: "ingestion",
			Name:      "rows_total",
			Help:      "Rows ingested across all jobs.",
		}),
	}
	return c
}

// Handler exposes the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveJobCompleted implements workerpool.PoolMetrics.
func (c *Collector) ObserveJobCompleted(kind string, elapsed time.Duration) {
	c.JobsCompleted.WithLabelValues(kind).Inc()
	c.JobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveJobFailed implements workerpool.PoolMetrics.
func (c *Collector) ObserveJobFailed(kind string, elapsed time.Duration) {
	c.JobsFailed.WithLabelValues(kind).Inc()
	c.JobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}
