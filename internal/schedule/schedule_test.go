package schedule

import (
	"testing"

	"github.com/atulranjan/tilefuse/internal/cost"
	"github.com/atulranjan/tilefuse/internal/fusion"
	"github.com/atulranjan/tilefuse/internal/graph"
)

func chainProblem(t *testing.T) *graph.Problem {
	tensors := []graph.Tensor{
		{Width: 4, Height: 4}, {Width: 4, Height: 4}, {Width: 4, Height: 4},
	}
	ops := []graph.Op{
		{Type: graph.Pointwise, Inputs: []int{0}, Outputs: []int{1}, BaseCost: 1},
		{Type: graph.Pointwise, Inputs: []int{1}, Outputs: []int{2}, BaseCost: 1},
	}
	p, err := graph.New(tensors, ops, 1<<30, 1, [2]int{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestTopoSortOrdersByDependency(t *testing.T) {
	p := chainProblem(t)
	sgs := []*fusion.Subgraph{
		{ID: 1, Ops: []int{1}, Active: true},
		{ID: 0, Ops: []int{0}, Active: true},
	}
	ordered := TopoSort(p, sgs)
	if len(ordered) != 2 || ordered[0].ID != 0 || ordered[1].ID != 1 {
		t.Fatalf("expected [0,1] order, got %v", ids(ordered))
	}
}

func ids(sgs []*fusion.Subgraph) []int {
	out := make([]int, len(sgs))
	for i, sg := range sgs {
		out[i] = sg.ID
	}
	return out
}

func TestAssignTraversalSkipsRasterSubgraphs(t *testing.T) {
	p := chainProblem(t)
	sgs := []*fusion.Subgraph{
		{ID: 0, Ops: []int{0}, Gran: cost.Gran{W: 4, H: 4, K: 1}, Active: true},
	}
	AssignTraversal(p, sgs)
	if sgs[0].Traversal != nil {
		t.Errorf("a single-tile pointwise subgraph should have no explicit traversal, got %v", sgs[0].Traversal)
	}
}

func TestAssignTraversalZigZagsMultiTileMatMul(t *testing.T) {
	tensors := []graph.Tensor{
		{Width: 4, Height: 2}, {Width: 4, Height: 4}, {Width: 4, Height: 2},
	}
	ops := []graph.Op{{Type: graph.MatMul, Inputs: []int{0, 1}, Outputs: []int{2}, BaseCost: 1}}
	p, err := graph.New(tensors, ops, 1<<30, 1, [2]int{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sgs := []*fusion.Subgraph{
		{ID: 0, Ops: []int{0}, Gran: cost.Gran{W: 2, H: 1, K: 4}, Active: true},
	}
	AssignTraversal(p, sgs)
	if len(sgs[0].Traversal) == 0 {
		t.Error("expected a non-empty zig-zag traversal for a multi-tile matmul subgraph")
	}
}
