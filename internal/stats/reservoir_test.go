// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stats_test

import (
	"testing"

	"github.com/loadtrace/backend/internal/stats"
	"github.com/stretchr/testify/assert"
)

func TestReservoirEmpty(t *testing.T) {
	r := stats.NewReservoir(10, 1)
	_, ok := r.Percentile(50)
	assert.False(t, ok)
}

func TestReservoirUnderCapacityRetainsEverything(t *testing.T) {
	r := stats.NewReservoir(100, 42)
	for i := 1; i <= 10; i++ {
		r.Update(float64(i))
	}
	assert.Equal(t, 10, r.Len())
	assert.Equal(t, int64(10), r.Seen())

	median, ok := r.Percentile(50)
	assert.True(t, ok)
	assert.InDelta(t, 5.5, median, 1e-9)
}

func TestReservoirOverCapacityCapsLength(t *testing.T) {
	r := stats.NewReservoir(50, 7)
	for i := 0; i < 5000; i++ {
		r.Update(float64(i))
	}
	assert.Equal(t, 50, r.Len())
	assert.Equal(t, int64(5000), r.Seen())
}

func TestReservoirPercentileMonotone(t *testing.T) {
	r := stats.NewReservoir(1000, 99)
	for i := 0; i < 1000; i++ {
		r.Update(float64(i))
	}

	p50, _ := r.Percentile(50)
	p90, _ := r.Percentile(90)
	p95, _ := r.Percentile(95)
	p99, _ := r.Percentile(99)
	max, _ := r.Percentile(100)

	assert.LessOrEqual(t, p50, p90)
	assert.LessOrEqual(t, p90, p95)
	assert.LessOrEqual(t, p95, p99)
	assert.LessOrEqual(t, p99, max)
}

func TestReservoirDeterministicWithSameSeed(t *testing.T) {
	sample := func(seed int64) []float64 {
		r := stats.NewReservoir(20, seed)
		for i := 0; i < 1000; i++ {
			r.Update(float64(i))
		}
		p50, _ := r.Percentile(50)
		p99, _ := r.Percentile(99)
		return []float64{p50, p99}
	}

	a := sample(123)
	b := sample(123)
	assert.Equal(t, a, b)
}
