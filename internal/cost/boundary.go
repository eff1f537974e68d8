// Package cost implements the subgraph analyzer and the per-tile
// roofline cost model: boundary classification, working-set sizing, and
// raster / zig-zag latency, as specified in spec.md §§4.1-4.2.
package cost

import "github.com/atulranjan/tilefuse/internal/graph"

// Gran is a spatial/reduction tile granularity: w and h tile the output
// plane, k tiles the MatMul reduction axis.
type Gran struct {
	W, H, K int
}

// Boundary is the result of analyzing one subgraph: which tensors cross
// its boundary, which are wholly internal, and the spatial domain its
// tiling iterates over.
type Boundary struct {
	InBd  map[int]bool
	OutBd map[int]bool
	Ephem map[int]bool
	OutW  int
	OutH  int

	// Produced and Consumed are the raw sets the classification above
	// was derived from.
	Produced map[int]bool
	Consumed map[int]bool
}

// Analyze computes the boundary classification of a subgraph (arbitrary
// op set, not required to be contiguous or connected). It is a pure
// function of (problem, op set) — spec.md §4.1.
func Analyze(p *graph.Problem, ops []int) Boundary {
	opSet := make(map[int]bool, len(ops))
	for _, oi := range ops {
		opSet[oi] = true
	}

	produced := make(map[int]bool)
	consumed := make(map[int]bool)
	for _, oi := range ops {
		op := p.Ops[oi]
		for _, t := range op.Outputs {
			produced[t] = true
		}
		for _, t := range op.Inputs {
			consumed[t] = true
		}
	}

	inBd := make(map[int]bool)
	for t := range consumed {
		if !produced[t] {
			inBd[t] = true
		}
	}

	outBd := make(map[int]bool)
	ephem := make(map[int]bool)
	for t := range produced {
		external := p.GraphOuts[t]
		if !external {
			for _, c := range p.Consumers[t] {
				if !opSet[c] {
					external = true
					break
				}
			}
		}
		switch {
		case external:
			outBd[t] = true
		case consumed[t]:
			ephem[t] = true
		default:
			// Produced, never consumed anywhere, not a graph output:
			// dead within the subgraph. Treated as an output boundary
			// rather than ephemeral — intentional, see spec.md §9.
			outBd[t] = true
		}
	}

	outW, outH := 0, 0
	for _, oi := range ops {
		for _, t := range p.Ops[oi].Outputs {
			tensor := p.Tensors[t]
			if tensor.Width > outW {
				outW = tensor.Width
			}
			if tensor.Height > outH {
				outH = tensor.Height
			}
		}
	}

	return Boundary{
		InBd:     inBd,
		OutBd:    outBd,
		Ephem:    ephem,
		OutW:     outW,
		OutH:     outH,
		Produced: produced,
		Consumed: consumed,
	}
}
