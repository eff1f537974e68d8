// Package fusion implements the greedy, cycle-safe subgraph fusion
// engine of spec.md §4.4: Phase 1 merges pairs that strictly reduce
// latency, Phase 2 merges zero-cost pairs that internalize the most
// boundary tensors.
package fusion

import (
	"errors"
	"fmt"
	"sort"

	"github.com/atulranjan/tilefuse/internal/cost"
	"github.com/atulranjan/tilefuse/internal/granularity"
	"github.com/atulranjan/tilefuse/internal/graph"
)

// phase2Epsilon is the tolerance spec.md §9 fixes for "no strictly
// negative benefit" in Phase 2.
const phase2Epsilon = 1e-6

// ErrInfeasibleSingleton is returned when a single op has no
// granularity that fits fast_cap — the problem is unschedulable under
// this model (spec.md §7).
var ErrInfeasibleSingleton = errors.New("tilefuse: no feasible granularity for a singleton subgraph")

// Subgraph is one node of the evolving fusion state: a set of op ids
// plus its cached best granularity and raster latency. Traversal and
// retention are populated later, by the schedule and retention stages.
type Subgraph struct {
	ID        int
	Ops       []int
	Gran      cost.Gran
	Latency   float64
	Active    bool
	Traversal []int
	Retain    []int
}

// Options tunes the fusion search. A zero Options behaves exactly like
// the reference algorithm: no candidate cap, Phase 2 epsilon 1e-6.
type Options struct {
	// MaxCandidates caps granularity-search candidates per FindBest
	// call (0 = unlimited). OnCapped, if set, is called whenever a
	// call hits the cap, so the caller can log it instead of silently
	// truncating the search.
	MaxCandidates int
	OnCapped      func(ops []int)

	// Phase2Epsilon overrides phase2Epsilon when non-zero.
	Phase2Epsilon float64
}

// Run executes the full two-phase greedy fusion loop with default
// options.
func Run(p *graph.Problem) ([]*Subgraph, error) {
	return RunWithOptions(p, Options{})
}

// RunWithOptions is Run with search tuning applied.
func RunWithOptions(p *graph.Problem, opts Options) ([]*Subgraph, error) {
	eps := phase2Epsilon
	if opts.Phase2Epsilon != 0 {
		eps = opts.Phase2Epsilon
	}

	findBest := func(ops []int) (cost.Gran, float64) {
		g, lat, capped := granularity.FindBestCapped(p, ops, opts.MaxCandidates)
		if capped && opts.OnCapped != nil {
			opts.OnCapped(ops)
		}
		return g, lat
	}

	n := len(p.Ops)
	sgs := make([]*Subgraph, n)
	opToSg := make([]int, n)
	for i := 0; i < n; i++ {
		g, lat := findBest([]int{i})
		if g == granularity.Sentinel {
			return nil, fmt.Errorf("%w: op %d", ErrInfeasibleSingleton, i)
		}
		sgs[i] = &Subgraph{ID: i, Ops: []int{i}, Gran: g, Latency: lat, Active: true}
		opToSg[i] = i
	}

	runPhase1(p, sgs, opToSg, findBest)
	runPhase2(p, sgs, opToSg, findBest, eps)

	var active []*Subgraph
	for _, sg := range sgs {
		if sg.Active {
			active = append(active, sg)
		}
	}
	return active, nil
}

type pair struct{ a, b int }

// adjacentPairs returns the deduplicated, ascending-sorted undirected
// adjacency of active subgraphs — spec.md §4.4.
func adjacentPairs(p *graph.Problem, sgs []*Subgraph, opToSg []int) []pair {
	seen := make(map[pair]bool)
	for _, sg := range sgs {
		if !sg.Active {
			continue
		}
		for _, oi := range sg.Ops {
			for _, t := range p.Ops[oi].Outputs {
				for _, c := range p.Consumers[t] {
					other := opToSg[c]
					if other == sg.ID || !sgs[other].Active {
						continue
					}
					a, b := sg.ID, other
					if a > b {
						a, b = b, a
					}
					seen[pair{a, b}] = true
				}
			}
		}
	}
	out := make([]pair, 0, len(seen))
	for pr := range seen {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].a != out[j].a {
			return out[i].a < out[j].a
		}
		return out[i].b < out[j].b
	})
	return out
}

// createsCycle reports whether merging a and b would close a cycle in
// the current subgraph DAG. The pair is unordered, so both directions
// are searched: BFS from one side's successors, excluding the other; if
// the other is reachable some other way, the merge is rejected.
func createsCycle(p *graph.Problem, sgs []*Subgraph, opToSg []int, a, b int) bool {
	return reachesIndirectly(p, sgs, opToSg, a, b) || reachesIndirectly(p, sgs, opToSg, b, a)
}

// reachesIndirectly reports whether b is reachable from a's successors
// other than b itself.
func reachesIndirectly(p *graph.Problem, sgs []*Subgraph, opToSg []int, a, b int) bool {
	visited := make(map[int]bool)
	var queue []int

	addSuccessors := func(sgID int) {
		for _, oi := range sgs[sgID].Ops {
			for _, t := range p.Ops[oi].Outputs {
				for _, c := range p.Consumers[t] {
					s := opToSg[c]
					if s != a && s != b && sgs[s].Active && !visited[s] {
						visited[s] = true
						queue = append(queue, s)
					}
				}
			}
		}
	}

	addSuccessors(a)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, oi := range sgs[cur].Ops {
			for _, t := range p.Ops[oi].Outputs {
				for _, c := range p.Consumers[t] {
					s := opToSg[c]
					if s == b {
						return true
					}
					if s != cur && sgs[s].Active && !visited[s] {
						visited[s] = true
						queue = append(queue, s)
					}
				}
			}
		}
	}
	return false
}

func mergedOps(sgs []*Subgraph, a, b int) []int {
	merged := make([]int, 0, len(sgs[a].Ops)+len(sgs[b].Ops))
	merged = append(merged, sgs[a].Ops...)
	merged = append(merged, sgs[b].Ops...)
	return merged
}

func applyMerge(opToSg []int, sgs []*Subgraph, a, b int, g cost.Gran, lat float64) {
	for _, oi := range sgs[b].Ops {
		sgs[a].Ops = append(sgs[a].Ops, oi)
		opToSg[oi] = a
	}
	sgs[a].Gran = g
	sgs[a].Latency = lat
	sgs[b].Active = false
	sgs[b].Ops = nil
}

// runPhase1 repeatedly merges the adjacent pair with the strictly
// largest positive latency benefit until none remains.
func runPhase1(p *graph.Problem, sgs []*Subgraph, opToSg []int, findBest func([]int) (cost.Gran, float64)) {
	for {
		pairs := adjacentPairs(p, sgs, opToSg)

		bestA, bestB := -1, -1
		bestBenefit := 0.0
		var bestGran cost.Gran
		var bestLat float64

		for _, pr := range pairs {
			if createsCycle(p, sgs, opToSg, pr.a, pr.b) {
				continue
			}
			ops := mergedOps(sgs, pr.a, pr.b)
			g, lat := findBest(ops)
			if g == granularity.Sentinel {
				continue
			}
			benefit := sgs[pr.a].Latency + sgs[pr.b].Latency - lat
			if benefit > bestBenefit {
				bestBenefit = benefit
				bestA, bestB = pr.a, pr.b
				bestGran, bestLat = g, lat
			}
		}

		if bestA < 0 {
			return
		}
		applyMerge(opToSg, sgs, bestA, bestB, bestGran, bestLat)
	}
}

// runPhase2 repeatedly merges the adjacent pair with non-negative
// benefit that internalizes the most tensors, until no such merge
// exists. Each accepted merge strictly reduces the active subgraph
// count, which bounds the loop to at most n-1 iterations.
func runPhase2(p *graph.Problem, sgs []*Subgraph, opToSg []int, findBest func([]int) (cost.Gran, float64), eps float64) {
	for {
		pairs := adjacentPairs(p, sgs, opToSg)

		bestA, bestB := -1, -1
		bestEphem := 0
		var bestGran cost.Gran
		var bestLat float64

		for _, pr := range pairs {
			if createsCycle(p, sgs, opToSg, pr.a, pr.b) {
				continue
			}
			ops := mergedOps(sgs, pr.a, pr.b)
			g, lat := findBest(ops)
			if g == granularity.Sentinel {
				continue
			}
			benefit := sgs[pr.a].Latency + sgs[pr.b].Latency - lat
			if benefit < -eps {
				continue
			}
			nEphem := len(cost.Analyze(p, ops).Ephem)
			if nEphem > bestEphem {
				bestEphem = nEphem
				bestA, bestB = pr.a, pr.b
				bestGran, bestLat = g, lat
			}
		}

		if bestA < 0 {
			return
		}
		applyMerge(opToSg, sgs, bestA, bestB, bestGran, bestLat)
	}
}
