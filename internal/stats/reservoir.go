// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stats

import (
	"math/rand"
	"sort"
)

// DefaultReservoirCapacity is the default fixed capacity of a Reservoir, per
// the 50,000-sample default the online statistics primitives use unless a
// job's config overrides it.
const DefaultReservoirCapacity = 50_000

// Reservoir is a fixed-capacity uniform sample over an unbounded stream,
// built with Algorithm R. Percentiles computed from it approximate the true
// distribution without the stream ever needing to be materialized.
//
// Unlike an unseeded sampler, this version always takes an explicit seed
// so tests stay deterministic across runs.
type Reservoir struct {
	capacity int
	seen     int64
	buf      []float64
	rng      *rand.Rand
}

// NewReservoir creates a Reservoir of the given capacity, sampling
// deterministically from seed.
func NewReservoir(capacity int, seed int64) *Reservoir {
	if capacity <= 0 {
		capacity = DefaultReservoirCapacity
	}
	return &Reservoir{
		capacity: capacity,
		buf:      make([]float64, 0, capacity),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Update folds x into the sample.
func (r *Reservoir) Update(x float64) {
	r.seen++
	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, x)
		return
	}
	i := r.rng.Int63n(r.seen)
	if i < int64(r.capacity) {
		r.buf[i] = x
	}
}

// Len returns the number of samples currently held (at most capacity).
func (r *Reservoir) Len() int { return len(r.buf) }

// Seen returns the total number of observations Update has been called
// with, including ones that were not retained.
func (r *Reservoir) Seen() int64 { return r.seen }

// Percentile returns the p-th percentile (0..100) of the retained sample
// using linear interpolation between the two nearest ranks, and false when
// the sample is empty.
func (r *Reservoir) Percentile(p float64) (float64, bool) {
	if len(r.buf) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(r.buf))
	copy(sorted, r.buf)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0], true
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1], true
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo]), true
}
