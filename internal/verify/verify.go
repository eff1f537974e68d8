// Package verify implements an independent checker for solution
// documents: it does not trust anything the optimizer computed, and
// recomputes every quantity from the problem and the reported plan —
// spec.md §8.
package verify

import (
	"fmt"
	"math"

	"github.com/atulranjan/tilefuse/internal/cost"
	"github.com/atulranjan/tilefuse/internal/granularity"
	"github.com/atulranjan/tilefuse/internal/graph"
	"github.com/atulranjan/tilefuse/internal/planio"
)

// latencyTolerance is the absolute delta verify.cpp allows between a
// reported and a recomputed subgraph latency before flagging it.
const latencyTolerance = 0.1

// PlanSubgraph is the verifier's in-memory view of one solution entry.
type PlanSubgraph struct {
	Ops             []int
	Gran            cost.Gran
	Retain          []int
	ReportedLatency float64
}

// FromDoc converts a parsed solution document into the verifier's
// working representation.
func FromDoc(doc *planio.SolutionDoc) []PlanSubgraph {
	out := make([]PlanSubgraph, len(doc.Subgraphs))
	for i, ops := range doc.Subgraphs {
		g := doc.Granularities[i]
		out[i] = PlanSubgraph{
			Ops:             ops,
			Gran:            cost.Gran{W: g[0], H: g[1], K: g[2]},
			Retain:          doc.TensorsToRetain[i],
			ReportedLatency: doc.SubgraphLatencies[i],
		}
	}
	return out
}

// Check is the outcome of one named verification pass.
type Check struct {
	Name    string
	Passed  bool
	Details []string
}

// Report is the full verification outcome for one (problem, solution)
// pair, plus the unfused-baseline comparison.
type Report struct {
	OK              bool
	Checks          []Check
	TotalReported   float64
	TotalRecomputed float64
	Baseline        float64
	Speedup         float64
}

// Run executes all five checks plus the baseline/speedup comparison.
func Run(p *graph.Problem, sgs []PlanSubgraph) Report {
	var r Report
	r.OK = true

	add := func(c Check) {
		r.Checks = append(r.Checks, c)
		if !c.Passed {
			r.OK = false
		}
	}

	add(checkCoverage(p, sgs))
	add(checkTopoOrder(p, sgs))
	add(checkWorkingSet(p, sgs))

	latCheck, totalReported, totalRecomputed := checkLatency(p, sgs)
	add(latCheck)
	r.TotalReported = totalReported
	r.TotalRecomputed = totalRecomputed

	add(checkGraphOutputs(p, sgs))

	r.Baseline = baselineLatency(p)
	if r.TotalRecomputed > 0 {
		r.Speedup = r.Baseline / r.TotalRecomputed
	}
	return r
}

// checkCoverage verifies every op appears in at least one subgraph.
// Recomputation (an op in more than one subgraph) is allowed.
func checkCoverage(p *graph.Problem, sgs []PlanSubgraph) Check {
	counts := make([]int, len(p.Ops))
	for _, sg := range sgs {
		for _, oi := range sg.Ops {
			counts[oi]++
		}
	}
	c := Check{Name: "op coverage", Passed: true}
	for i, n := range counts {
		if n == 0 {
			c.Passed = false
			c.Details = append(c.Details, fmt.Sprintf("op %d not in any subgraph", i))
		}
	}
	return c
}

// checkTopoOrder verifies that no subgraph consumes a tensor produced
// by a later subgraph.
func checkTopoOrder(p *graph.Problem, sgs []PlanSubgraph) Check {
	opToSg := make(map[int]int)
	for si, sg := range sgs {
		for _, oi := range sg.Ops {
			opToSg[oi] = si
		}
	}

	c := Check{Name: "topological order", Passed: true}
	for si, sg := range sgs {
		opSet := make(map[int]bool, len(sg.Ops))
		for _, oi := range sg.Ops {
			opSet[oi] = true
		}
		for _, oi := range sg.Ops {
			for _, t := range p.Ops[oi].Inputs {
				prod := p.Producer[t]
				if prod < 0 || opSet[prod] {
					continue
				}
				if prodSg, ok := opToSg[prod]; ok && prodSg > si {
					c.Passed = false
					c.Details = append(c.Details, fmt.Sprintf(
						"subgraph %d consumes tensor %d produced by subgraph %d (later)", si, t, prodSg))
				}
			}
		}
	}
	return c
}

func checkWorkingSet(p *graph.Problem, sgs []PlanSubgraph) Check {
	c := Check{Name: "working set fits", Passed: true}
	for si, sg := range sgs {
		b := cost.Analyze(p, sg.Ops)
		ws := cost.WorkingSet(p, sg.Ops, b, sg.Gran)
		if ws > p.FastMemoryCapacity {
			c.Passed = false
			c.Details = append(c.Details, fmt.Sprintf(
				"subgraph %d working set %d exceeds fast capacity %d", si, ws, p.FastMemoryCapacity))
		}
	}
	return c
}

func checkLatency(p *graph.Problem, sgs []PlanSubgraph) (Check, float64, float64) {
	c := Check{Name: "latency recomputation", Passed: true}
	var totalReported, totalRecomputed float64
	for si, sg := range sgs {
		b := cost.Analyze(p, sg.Ops)
		lat := cost.RasterLatency(p, sg.Ops, b, sg.Gran)
		totalReported += sg.ReportedLatency
		totalRecomputed += lat
		delta := math.Abs(lat - sg.ReportedLatency)
		if delta > latencyTolerance {
			c.Passed = false
			c.Details = append(c.Details, fmt.Sprintf(
				"subgraph %d: reported=%.1f recomputed=%.1f delta=%.1f", si, sg.ReportedLatency, lat, delta))
		}
	}
	return c, totalReported, totalRecomputed
}

// checkGraphOutputs verifies every graph-output tensor is produced by
// some subgraph, except pass-through tensors that are both a graph
// input and a graph output (never touched by any op).
func checkGraphOutputs(p *graph.Problem, sgs []PlanSubgraph) Check {
	produced := make(map[int]bool)
	for _, sg := range sgs {
		for _, oi := range sg.Ops {
			for _, t := range p.Ops[oi].Outputs {
				produced[t] = true
			}
		}
	}

	c := Check{Name: "graph outputs produced", Passed: true}
	for t := range p.GraphOuts {
		if produced[t] {
			continue
		}
		if p.GraphIns[t] {
			c.Details = append(c.Details, fmt.Sprintf("tensor %d is pass-through (graph in+out, no ops)", t))
			continue
		}
		c.Passed = false
		c.Details = append(c.Details, fmt.Sprintf("graph output tensor %d never produced", t))
	}
	return c
}

// baselineLatency sums each op's best standalone latency, for the
// speedup-over-unfused comparison.
func baselineLatency(p *graph.Problem) float64 {
	var total float64
	for i := range p.Ops {
		_, lat := granularity.FindBest(p, []int{i})
		if math.IsInf(lat, 1) {
			continue
		}
		total += lat
	}
	return total
}
