// Package schedule orders the fused subgraphs into a valid execution
// sequence and assigns each one its tile traversal — spec.md §4.5.
package schedule

import (
	"sort"

	"github.com/atulranjan/tilefuse/internal/cost"
	"github.com/atulranjan/tilefuse/internal/fusion"
	"github.com/atulranjan/tilefuse/internal/graph"
)

// TopoSort orders subgraphs via Kahn's algorithm over the induced
// subgraph-level DAG, with ties broken FIFO by ascending subgraph id —
// the same determinism rule the op-level check in internal/graph
// applies at the op level.
func TopoSort(p *graph.Problem, sgs []*fusion.Subgraph) []*fusion.Subgraph {
	opToSg := make(map[int]int)
	for _, sg := range sgs {
		for _, oi := range sg.Ops {
			opToSg[oi] = sg.ID
		}
	}

	byID := make(map[int]*fusion.Subgraph, len(sgs))
	for _, sg := range sgs {
		byID[sg.ID] = sg
	}

	adj := make(map[int]map[int]bool)
	indeg := make(map[int]int)
	for _, sg := range sgs {
		indeg[sg.ID] = 0
	}
	for _, sg := range sgs {
		for _, oi := range sg.Ops {
			for _, t := range p.Ops[oi].Outputs {
				for _, c := range p.Consumers[t] {
					other := opToSg[c]
					if other == sg.ID {
						continue
					}
					if adj[sg.ID] == nil {
						adj[sg.ID] = make(map[int]bool)
					}
					if !adj[sg.ID][other] {
						adj[sg.ID][other] = true
						indeg[other]++
					}
				}
			}
		}
	}

	ids := make([]int, 0, len(sgs))
	for _, sg := range sgs {
		ids = append(ids, sg.ID)
	}
	sort.Ints(ids)

	queue := make([]int, 0, len(ids))
	for _, id := range ids {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]*fusion.Subgraph, 0, len(sgs))
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		order = append(order, byID[u])

		succs := make([]int, 0, len(adj[u]))
		for v := range adj[u] {
			succs = append(succs, v)
		}
		sort.Ints(succs)
		for _, v := range succs {
			indeg[v]--
			if indeg[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
	return order
}

// AssignTraversal fills in each subgraph's Traversal field: explicit
// zig-zag tile order for multi-tile MatMul-bearing subgraphs, nil
// (implicit row-major raster) otherwise.
func AssignTraversal(p *graph.Problem, sgs []*fusion.Subgraph) {
	for _, sg := range sgs {
		b := cost.Analyze(p, sg.Ops)
		if b.OutW <= 0 || b.OutH <= 0 {
			sg.Traversal = nil
			continue
		}
		tilesX := ceilDiv(b.OutW, sg.Gran.W)
		tilesY := ceilDiv(b.OutH, sg.Gran.H)
		if p.HasMatMul(sg.Ops) && tilesX*tilesY > 1 {
			sg.Traversal = cost.GenZigZag(tilesX, tilesY)
		} else {
			sg.Traversal = nil
		}
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
