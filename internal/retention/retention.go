// Package retention implements the cross-subgraph tensor retention
// allocator of spec.md §4.7: for each adjacent pair in schedule order,
// decide which handoff tensors stay resident in fast memory instead of
// round-tripping through slow memory.
package retention

import (
	"sort"

	"github.com/atulranjan/tilefuse/internal/cost"
	"github.com/atulranjan/tilefuse/internal/fusion"
	"github.com/atulranjan/tilefuse/internal/graph"
)

// candidate is one tensor eligible for retention across a scheduled
// boundary, plus the extra fast-memory it costs on each side and the
// slow-memory traffic it would otherwise avoid.
type candidate struct {
	tensor    int
	extraProd int64 // additional residency on the producing side
	extraCons int64 // additional residency on the consuming side
	benefit   float64
}

// Assign walks the scheduled subgraphs in order and, for each
// consecutive pair, greedily packs the highest-benefit handoff tensors
// into Retain on both sides, subject to each side's remaining fast
// capacity headroom above its own working set.
func Assign(p *graph.Problem, ordered []*fusion.Subgraph) {
	for i := 0; i+1 < len(ordered); i++ {
		assignPair(p, ordered[i], ordered[i+1])
	}
}

func assignPair(p *graph.Problem, cur, next *fusion.Subgraph) {
	curB := cost.Analyze(p, cur.Ops)
	nextB := cost.Analyze(p, next.Ops)

	var cands []candidate
	for t := range curB.OutBd {
		if !nextB.InBd[t] {
			continue
		}
		full := fullTensorSize(p, t)
		extraProd := clampNonNegative(full - int64(cur.Gran.W)*int64(cur.Gran.H))
		extraCons := clampNonNegative(full - cost.InputSlice(p, t, next.Ops, next.Gran))
		benefit := 2 * float64(full) / float64(p.SlowMemoryBandwidth)
		cands = append(cands, candidate{tensor: t, extraProd: extraProd, extraCons: extraCons, benefit: benefit})
	}
	if len(cands) == 0 {
		return
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].benefit != cands[j].benefit {
			return cands[i].benefit > cands[j].benefit
		}
		return cands[i].tensor < cands[j].tensor
	})

	curHeadroom := p.FastMemoryCapacity - cost.WorkingSet(p, cur.Ops, curB, cur.Gran)
	nextHeadroom := p.FastMemoryCapacity - cost.WorkingSet(p, next.Ops, nextB, next.Gran)

	retained := make(map[int]bool)
	for _, c := range cands {
		if c.extraProd > curHeadroom || c.extraCons > nextHeadroom {
			continue
		}
		curHeadroom -= c.extraProd
		nextHeadroom -= c.extraCons
		retained[c.tensor] = true
	}

	for t := range retained {
		cur.Retain = append(cur.Retain, t)
		next.Retain = append(next.Retain, t)
	}
	sort.Ints(cur.Retain)
	sort.Ints(next.Retain)
}

func fullTensorSize(p *graph.Problem, t int) int64 {
	tensor := p.Tensors[t]
	return int64(tensor.Width) * int64(tensor.Height)
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
