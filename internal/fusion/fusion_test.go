package fusion

import (
	"errors"
	"testing"

	"github.com/atulranjan/tilefuse/internal/graph"
)

// pointwiseChain builds a two-op pointwise chain (relu -> relu) where
// fusing the ops strictly lowers latency, since the intermediate
// tensor's slow-memory round trip is eliminated once it becomes
// ephemeral.
func pointwiseChain(t *testing.T, fastCap int64) *graph.Problem {
	tensors := []graph.Tensor{
		{Width: 8, Height: 8},
		{Width: 8, Height: 8},
		{Width: 8, Height: 8},
	}
	ops := []graph.Op{
		{Type: graph.Pointwise, Inputs: []int{0}, Outputs: []int{1}, BaseCost: 1},
		{Type: graph.Pointwise, Inputs: []int{1}, Outputs: []int{2}, BaseCost: 1},
	}
	p, err := graph.New(tensors, ops, fastCap, 1, [2]int{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestRunFusesPointwiseChain(t *testing.T) {
	p := pointwiseChain(t, 1<<30)
	sgs, err := Run(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sgs) != 1 {
		t.Fatalf("expected the chain to fully fuse into one subgraph, got %d", len(sgs))
	}
	if len(sgs[0].Ops) != 2 {
		t.Errorf("expected both ops merged, got %v", sgs[0].Ops)
	}
}

func TestRunDiamondReconvergence(t *testing.T) {
	// 0 -> 1 -> 3
	//   \-> 2 ->/
	tensors := []graph.Tensor{
		{Width: 8, Height: 8}, {Width: 8, Height: 8},
		{Width: 8, Height: 8}, {Width: 8, Height: 8},
	}
	ops := []graph.Op{
		{Type: graph.Pointwise, Inputs: []int{0}, Outputs: []int{1}, BaseCost: 1},
		{Type: graph.Pointwise, Inputs: []int{0}, Outputs: []int{2}, BaseCost: 1},
		{Type: graph.Pointwise, Inputs: []int{1, 2}, Outputs: []int{3}, BaseCost: 1},
	}
	p, err := graph.New(tensors, ops, 1<<30, 1, [2]int{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sgs, err := Run(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total := 0
	for _, sg := range sgs {
		total += len(sg.Ops)
	}
	if total != 3 {
		t.Fatalf("expected every op accounted for exactly once, got %d total", total)
	}
}

func TestRunInfeasibleSingleton(t *testing.T) {
	p := pointwiseChain(t, 0)
	_, err := Run(p)
	if !errors.Is(err, ErrInfeasibleSingleton) {
		t.Fatalf("expected ErrInfeasibleSingleton, got %v", err)
	}
}

func TestCreatesCycleAllowsDirectProducerConsumer(t *testing.T) {
	// 0 -> op0 -> 1 -> op1 -> 2. The only path between the two
	// subgraphs is their direct producer/consumer edge, so merging them
	// must not be reported as a cycle.
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
	sgs, opToSg := []*Subgraph{
		{ID: 0, Ops: []int{0}, Active: true},
		{ID: 1, Ops: []int{1}, Active: true},
	}, []int{0, 1}
	if createsCycle(p, sgs, opToSg, 0, 1) {
		t.Error("merging a producer with its direct consumer must never be flagged as a cycle")
	}
}
