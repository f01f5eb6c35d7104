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

func TestWelfordEmpty(t *testing.T) {
	var w stats.Welford
	_, ok := w.Mean()
	assert.False(t, ok)
	_, ok = w.Min()
	assert.False(t, ok)
	_, ok = w.Max()
	assert.False(t, ok)
}

func TestWelfordSingleSample(t *testing.T) {
	var w stats.Welford
	w.Update(120)

	mean, ok := w.Mean()
	assert.True(t, ok)
	assert.Equal(t, 120.0, mean)

	variance, ok := w.Variance()
	assert.True(t, ok)
	assert.Equal(t, 0.0, variance)

	min, _ := w.Min()
	max, _ := w.Max()
	assert.Equal(t, 120.0, min)
	assert.Equal(t, 120.0, max)
}

func TestWelfordTwoSamples(t *testing.T) {
	var w stats.Welford
	w.Update(120)
	w.Update(80)

	mean, _ := w.Mean()
	assert.Equal(t, 100.0, mean)

	min, _ := w.Min()
	max, _ := w.Max()
	assert.Equal(t, 80.0, min)
	assert.Equal(t, 120.0, max)
	assert.Equal(t, int64(2), w.Count())
}

func TestWelfordMergeMatchesSequentialUpdate(t *testing.T) {
	samples := []float64{10, 20, 30, 40, 55, 5, 100, 2}

	var sequential stats.Welford
	for _, s := range samples {
		sequential.Update(s)
	}

	var a, b stats.Welford
	for i, s := range samples {
		if i%2 == 0 {
			a.Update(s)
		} else {
			b.Update(s)
		}
	}
	a.Merge(&b)

	meanSeq, _ := sequential.Mean()
	meanMerged, _ := a.Mean()
	assert.InDelta(t, meanSeq, meanMerged, 1e-9)

	varSeq, _ := sequential.Variance()
	varMerged, _ := a.Variance()
	assert.InDelta(t, varSeq, varMerged, 1e-9)

	minSeq, _ := sequential.Min()
	minMerged, _ := a.Min()
	assert.Equal(t, minSeq, minMerged)
}
