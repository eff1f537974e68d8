package granularity

import (
	"math"
	"testing"

	"github.com/atulranjan/tilefuse/internal/graph"
)

func singlePointwiseProblem(t *testing.T, fastCap int64) *graph.Problem {
	tensors := []graph.Tensor{{Width: 8, Height: 8}, {Width: 8, Height: 8}}
	ops := []graph.Op{{Type: graph.Pointwise, Inputs: []int{0}, Outputs: []int{1}, BaseCost: 1}}
	p, err := graph.New(tensors, ops, fastCap, 1, [2]int{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestFindBestPicksFeasibleGranularity(t *testing.T) {
	p := singlePointwiseProblem(t, 1<<30)
	g, lat := FindBest(p, []int{0})
	if g == Sentinel {
		t.Fatal("expected a feasible granularity")
	}
	if math.IsInf(lat, 1) {
		t.Fatal("expected a finite latency")
	}
	if g.W != 8 || g.H != 8 {
		t.Errorf("with ample capacity expected the full 8x8 tile, got %+v", g)
	}
}

func TestFindBestInfeasibleReturnsSentinel(t *testing.T) {
	p := singlePointwiseProblem(t, 0)
	g, lat := FindBest(p, []int{0})
	if g != Sentinel {
		t.Errorf("expected Sentinel, got %+v", g)
	}
	if !math.IsInf(lat, 1) {
		t.Errorf("expected +Inf latency, got %v", lat)
	}
}

func TestFindBestCappedStopsEarly(t *testing.T) {
	p := singlePointwiseProblem(t, 1<<30)
	_, _, capped := FindBestCapped(p, []int{0}, 1)
	if !capped {
		t.Error("expected the search to report it hit the cap")
	}
	_, _, uncapped := FindBestCapped(p, []int{0}, 0)
	if uncapped {
		t.Error("expected an unlimited search to not report a cap")
	}
}

func TestPowersOfTwoUpTo(t *testing.T) {
	cases := map[int][]int{
		0: {1},
		1: {1},
		5: {1, 2, 4},
		8: {1, 2, 4, 8},
		9: {1, 2, 4, 8},
	}
	for in, want := range cases {
		got := powersOfTwoUpTo(in)
		if len(got) != len(want) {
			t.Fatalf("powersOfTwoUpTo(%d) = %v, want %v", in, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("powersOfTwoUpTo(%d) = %v, want %v", in, got, want)
			}
		}
	}
}
