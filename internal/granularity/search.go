// Package granularity implements the power-of-two (w,h,k) search of
// spec.md §4.3: for a candidate subgraph, find the tile granularity
// that minimizes raster latency subject to fast-memory feasibility.
package granularity

import (
	"math"

	"github.com/atulranjan/tilefuse/internal/cost"
	"github.com/atulranjan/tilefuse/internal/graph"
)

// Sentinel is returned alongside +Inf latency when no granularity fits
// fast_cap: a signal that the subgraph is infeasible.
var Sentinel = cost.Gran{}

// FindBest searches power-of-two (w,h,k) from largest to smallest
// (ties favor the larger tile already encountered) and returns the
// granularity minimizing raster latency, plus that latency. If no
// granularity fits fast_cap it returns (Sentinel, +Inf).
func FindBest(p *graph.Problem, ops []int) (cost.Gran, float64) {
	g, lat, _ := FindBestCapped(p, ops, 0)
	return g, lat
}

// FindBestCapped behaves like FindBest but stops after evaluating at
// most maxCandidates (w,h,k) triples (0 means unlimited). The third
// return value reports whether the cap cut the search short, so
// callers can log it instead of truncating silently.
func FindBestCapped(p *graph.Problem, ops []int, maxCandidates int) (cost.Gran, float64, bool) {
	b := cost.Analyze(p, ops)
	if b.OutW <= 0 {
		// No produced tensors — shouldn't occur for a valid subgraph.
		return cost.Gran{W: 1, H: 1, K: 1}, 0, false
	}

	maxDim := b.OutW
	if b.OutH > maxDim {
		maxDim = b.OutH
	}
	ws := powersOfTwoUpTo(maxDim)

	maxK := p.MaxK(ops)
	hasMM := maxK > 0
	kLimit := maxK
	if kLimit < 1 {
		kLimit = 1
	}
	ks := powersOfTwoUpTo(kLimit)

	best := Sentinel
	bestLat := math.Inf(1)
	evaluated := 0
	capped := false

outer:
	for ki := len(ks) - 1; ki >= 0; ki-- {
		kv := ks[ki]
		if hasMM && kv > maxK {
			continue
		}
		k := kv
		if !hasMM {
			k = 1
		}
		for wi := len(ws) - 1; wi >= 0; wi-- {
			wv := ws[wi]
			if wv > 2*b.OutW {
				continue
			}
			for hi := len(ws) - 1; hi >= 0; hi-- {
				hv := ws[hi]
				if hv > 2*b.OutH {
					continue
				}
				if maxCandidates > 0 && evaluated >= maxCandidates {
					capped = true
					break outer
				}
				evaluated++
				g := cost.Gran{W: wv, H: hv, K: k}
				if cost.WorkingSet(p, ops, b, g) > p.FastMemoryCapacity {
					continue
				}
				lat := cost.RasterLatency(p, ops, b, g)
				if lat < bestLat {
					bestLat = lat
					best = g
				}
			}
		}
		if !hasMM {
			break
		}
	}

	return best, bestLat, capped
}

// powersOfTwoUpTo returns 1, 2, 4, ... up to and including the largest
// power of two <= maxVal (at least [1] when maxVal < 1).
func powersOfTwoUpTo(maxVal int) []int {
	if maxVal < 1 {
		return []int{1}
	}
	var out []int
	for v := 1; v <= maxVal; v *= 2 {
		out = append(out, v)
	}
	return out
}
