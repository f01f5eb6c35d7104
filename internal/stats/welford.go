// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stats implements the two streaming statistics primitives the
// aggregators are built from: a Welford moment accumulator and a
// fixed-capacity reservoir sampler. Both are plain value types updated one
// observation at a time, with no inheritance between them, following
// a preference for small, independently
// testable numeric types over a class hierarchy.
//
// Neither primitive depends on a third-party statistics library: none
// appears anywhere in the retrieved corpus, so both are implemented directly
// on math/sort.
package stats

import "math"

// Welford accumulates count, mean, variance (via M2) and extrema in a single
// pass, using Welford's online algorithm. The zero value is an empty
// accumulator ready to use.
type Welford struct {
	n    int64
	mean float64
	m2   float64
	min  float64
	max  float64
}

// Update folds x into the accumulator.
func (w *Welford) Update(x float64) {
	w.n++
	delta := x - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (x - w.mean)
	if w.n == 1 {
		w.min, w.max = x, x
		return
	}
	if x < w.min {
		w.min = x
	}
	if x > w.max {
		w.max = x
	}
}

// Count returns the number of observations folded in so far.
func (w *Welford) Count() int64 { return w.n }

// Mean returns the running mean and whether any observation has been seen.
func (w *Welford) Mean() (float64, bool) {
	if w.n == 0 {
		return 0, false
	}
	return w.mean, true
}

// Variance returns the population variance (M2/n), 0 when n==1, and false
// when the accumulator is empty.
func (w *Welford) Variance() (float64, bool) {
	if w.n == 0 {
		return 0, false
	}
	if w.n == 1 {
		return 0, true
	}
	return w.m2 / float64(w.n), true
}

// StdDev returns the population standard deviation.
func (w *Welford) StdDev() (float64, bool) {
	v, ok := w.Variance()
	if !ok {
		return 0, false
	}
	return math.Sqrt(v), true
}

// Min returns the smallest observed value and whether any observation has
// been seen.
func (w *Welford) Min() (float64, bool) {
	if w.n == 0 {
		return 0, false
	}
	return w.min, true
}

// Max returns the largest observed value and whether any observation has
// been seen.
func (w *Welford) Max() (float64, bool) {
	if w.n == 0 {
		return 0, false
	}
	return w.max, true
}

// Merge folds another accumulator's observations into w, using the standard
// parallel-Welford combination formula. Used nowhere in the current
// pipeline (each accumulator is confined to one task) but kept because it
// is the natural companion operation to Update and is exercised by a test
// asserting that a merge matches sequential Updates over the same data.
func (w *Welford) Merge(other *Welford) {
	if other.n == 0 {
		return
	}
	if w.n == 0 {
		*w = *other
		return
	}
	n := w.n + other.n
	delta := other.mean - w.mean
	mean := w.mean + delta*float64(other.n)/float64(n)
	m2 := w.m2 + other.m2 + delta*delta*float64(w.n)*float64(other.n)/float64(n)
	w.n = n
	w.mean = mean
	w.m2 = m2
	if other.min < w.min {
		w.min = other.min
	}
	if other.max > w.max {
		w.max = other.max
	}
}
