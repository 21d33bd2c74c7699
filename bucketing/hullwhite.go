// Package bucketing convolves independent obligor loss events onto a fixed
// grid of loss buckets, after Hull and White.
package bucketing

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const eps = 42 * 2.220446049250313e-16

// closeEnough reports whether x is zero up to rounding noise.
func closeEnough(x float64) bool {
	return math.Abs(x) < eps*eps
}

// HullWhiteBucketing keeps a probability and an average loss per bucket. The
// n upper bounds b0 < ... < b(n-1) define n+1 buckets
// (-Inf, b0), [b0, b1), ..., [b(n-1), +Inf).
type HullWhiteBucketing struct {
	bounds []float64
	p      []float64
	sum    []float64
}

func NewHullWhiteBucketing(upperBounds []float64) (*HullWhiteBucketing, error) {
	if len(upperBounds) == 0 {
		return nil, errors.New("bucketing needs at least one bucket bound")
	}
	for i := 1; i < len(upperBounds); i++ {
		if !(upperBounds[i] > upperBounds[i-1]) {
			return nil, fmt.Errorf("bucket bounds not strictly increasing at %d", i)
		}
	}
	h := &HullWhiteBucketing{bounds: append([]float64(nil), upperBounds...)}
	h.p = make([]float64, h.Buckets())
	h.sum = make([]float64, h.Buckets())
	return h, nil
}

// UniformBounds returns n+1 equally spaced bounds from lower to upper.
func UniformBounds(lower, upper float64, n int) ([]float64, error) {
	if n <= 0 || !(upper > lower) {
		return nil, fmt.Errorf("degenerate bucket grid [%v, %v] with %d steps", lower, upper, n)
	}
	return floats.Span(make([]float64, n+1), lower, upper), nil
}

func (h *HullWhiteBucketing) Buckets() int { return len(h.bounds) + 1 }

// UpperBucketBound returns the bucket upper bounds, the last being +Inf.
func (h *HullWhiteBucketing) UpperBucketBound() []float64 {
	return append(append([]float64(nil), h.bounds...), math.Inf(1))
}

// Index returns the bucket containing x.
func (h *HullWhiteBucketing) Index(x float64) int {
	return sort.Search(len(h.bounds), func(i int) bool { return h.bounds[i] > x })
}

// Probability of each bucket after the last compute.
func (h *HullWhiteBucketing) Probability() []float64 { return h.p }

// AverageLoss of each bucket, zero for empty buckets.
func (h *HullWhiteBucketing) AverageLoss() []float64 {
	out := make([]float64, len(h.p))
	for i, p := range h.p {
		if p > 0 {
			out[i] = h.sum[i] / p
		}
	}
	return out
}

func (h *HullWhiteBucketing) reset() {
	for i := range h.p {
		h.p[i], h.sum[i] = 0, 0
	}
	h.p[h.Index(0)] = 1
}

// Compute convolves obligors defaulting with probability pds[i] and loss losses[i].
func (h *HullWhiteBucketing) Compute(pds, losses []float64) error {
	if len(pds) != len(losses) {
		return fmt.Errorf("got %d default probabilities and %d losses", len(pds), len(losses))
	}
	h.reset()
	p, sum := make([]float64, len(h.p)), make([]float64, len(h.p))
	for i, pd := range pds {
		if closeEnough(pd) || closeEnough(losses[i]) {
			continue
		}
		for k := range p {
			p[k], sum[k] = 0, 0
		}
		for k, pk := range h.p {
			if pk == 0 {
				continue
			}
			avg := h.sum[k] / pk
			p[k] += pk * (1 - pd)
			sum[k] += h.sum[k] * (1 - pd)
			m := pk * pd
			l := avg + losses[i]
			j := h.Index(l)
			p[j] += m
			sum[j] += m * l
		}
		h.p, p = p, h.p
		h.sum, sum = sum, h.sum
	}
	return nil
}

// ComputeMultiState convolves obligors that move to state s with probability
// pds[i][s] and loss losses[i][s], staying put with the remaining probability.
func (h *HullWhiteBucketing) ComputeMultiState(pds, losses [][]float64) error {
	if len(pds) != len(losses) {
		return fmt.Errorf("got %d probability vectors and %d loss vectors", len(pds), len(losses))
	}
	h.reset()
	p, sum := make([]float64, len(h.p)), make([]float64, len(h.p))
	for i := range pds {
		if len(pds[i]) != len(losses[i]) {
			return fmt.Errorf("obligor %d: %d probabilities and %d losses", i, len(pds[i]), len(losses[i]))
		}
		stay := 1.0
		active := false
		for s, pd := range pds[i] {
			stay -= pd
			if !closeEnough(pd) && !closeEnough(losses[i][s]) {
				active = true
			}
		}
		if !active {
			continue
		}
		for k := range p {
			p[k], sum[k] = 0, 0
		}
		for k, pk := range h.p {
			if pk == 0 {
				continue
			}
			avg := h.sum[k] / pk
			p[k] += pk * stay
			sum[k] += h.sum[k] * stay
			for s, pd := range pds[i] {
				if closeEnough(pd) {
					continue
				}
				m := pk * pd
				l := avg + losses[i][s]
				j := h.Index(l)
				p[j] += m
				sum[j] += m * l
			}
		}
		h.p, p = p, h.p
		h.sum, sum = sum, h.sum
	}
	return nil
}
