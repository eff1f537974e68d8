package cost

import "github.com/atulranjan/tilefuse/internal/graph"

// TileMemIn is the total slow-memory transfer for boundary input tensor
// t per spatial tile, at granularity g: full K for MatMul operands, the
// whole tile for Pointwise. It takes the max across every op in ops that
// consumes t — spec.md §4.2.
func TileMemIn(p *graph.Problem, t int, ops []int, g Gran) int64 {
	var best int64
	for _, oi := range ops {
		op := p.Ops[oi]
		for j, in := range op.Inputs {
			if in != t {
				continue
			}
			var s int64
			if op.Type == graph.MatMul {
				k := int64(p.K(oi))
				if j == 0 {
					s = int64(g.H) * k
				} else {
					s = int64(g.W) * k
				}
			} else {
				s = int64(g.W) * int64(g.H)
			}
			if s > best {
				best = s
			}
		}
	}
	if best > 0 {
		return best
	}
	return int64(g.W) * int64(g.H)
}

// InputSlice is the instantaneous residency (for capacity, not total
// transfer) of boundary input t per spatial tile: same shape as
// TileMemIn but using g.K in place of the op's full reduction extent.
func InputSlice(p *graph.Problem, t int, ops []int, g Gran) int64 {
	var best int64
	for _, oi := range ops {
		op := p.Ops[oi]
		for j, in := range op.Inputs {
			if in != t {
				continue
			}
			var s int64
			if op.Type == graph.MatMul {
				if j == 0 {
					s = int64(g.H) * int64(g.K)
				} else {
					s = int64(g.W) * int64(g.K)
				}
			} else {
				s = int64(g.W) * int64(g.H)
			}
			if s > best {
				best = s
			}
		}
	}
	if best > 0 {
		return best
	}
	return int64(g.W) * int64(g.H)
}

// WorkingSet is the peak simultaneous fast-memory residency required to
// execute one tile: the sum of boundary-input slices plus one tile per
// boundary output. Feasibility requires WorkingSet <= fast_cap.
func WorkingSet(p *graph.Problem, ops []int, b Boundary, g Gran) int64 {
	var ws int64
	for t := range b.InBd {
		ws += InputSlice(p, t, ops, g)
	}
	ws += int64(len(b.OutBd)) * int64(g.W) * int64(g.H)
	return ws
}

func natScale(native [2]int, g Gran) int64 {
	cx := (g.W + native[0] - 1) / native[0]
	cy := (g.H + native[1] - 1) / native[1]
	if cx < 1 {
		cx = 1
	}
	if cy < 1 {
		cy = 1
	}
	return int64(cx) * int64(cy)
}

// Compute is the per-tile compute cost: base costs summed over ops,
// scaled by how many native tiles the granularity spans.
func Compute(p *graph.Problem, ops []int, g Gran) float64 {
	var sum int64
	for _, oi := range ops {
		sum += p.Ops[oi].BaseCost
	}
	return float64(sum) * float64(natScale(p.NativeGranularity, g))
}

// RasterLatency is the tile-roofline total latency for a subgraph
// traversed in raster order with no retention — spec.md §4.2.
func RasterLatency(p *graph.Problem, ops []int, b Boundary, g Gran) float64 {
	if b.OutW <= 0 || b.OutH <= 0 {
		return 0
	}
	tilesX := ceilDiv(b.OutW, g.W)
	tilesY := ceilDiv(b.OutH, g.H)
	ntiles := int64(tilesX) * int64(tilesY)

	compute := Compute(p, ops, g)

	memIn := 0.0
	for t := range b.InBd {
		memIn += float64(TileMemIn(p, t, ops, g)) / float64(p.SlowMemoryBandwidth)
	}
	memOut := float64(len(b.OutBd)) * float64(g.W) * float64(g.H) / float64(p.SlowMemoryBandwidth)

	tileLat := compute
	if memIn+memOut > tileLat {
		tileLat = memIn + memOut
	}
	return float64(ntiles) * tileLat
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// MatMulRole classifies how tensor t participates in the MatMul ops of
// ops: LHS-only, RHS-only, or "other" (no MatMul use, or both
// positions). Only MatMul ops are examined — a tensor that is also a
// Pointwise input keeps whatever role its MatMul appearances give it,
// matching the reference model (spec.md §9).
type Role int

const (
	RoleOther Role = iota
	RoleLHS
	RoleRHS
)

func MatMulRole(p *graph.Problem, ops []int, t int) Role {
	bits := 0
	for _, oi := range ops {
		op := p.Ops[oi]
		if op.Type != graph.MatMul {
			continue
		}
		if len(op.Inputs) > 0 && op.Inputs[0] == t {
			bits |= 1
		}
		if len(op.Inputs) > 1 && op.Inputs[1] == t {
			bits |= 2
		}
	}
	switch bits {
	case 1:
		return RoleLHS
	case 2:
		return RoleRHS
	default:
		return RoleOther
	}
}

// ZigZagLatency recomputes latency under zig-zag traversal with operand
// reuse across row/column boundaries, honoring retained inputs/outputs
// that skip their transfer entirely — spec.md §4.2.
func ZigZagLatency(p *graph.Problem, ops []int, b Boundary, g Gran, retainedIn, retainedOut map[int]bool) float64 {
	if b.OutW <= 0 || b.OutH <= 0 {
		return 0
	}
	tilesX := ceilDiv(b.OutW, g.W)
	tilesY := ceilDiv(b.OutH, g.H)

	compute := Compute(p, ops, g)
	bw := float64(p.SlowMemoryBandwidth)

	memOut := 0.0
	for t := range b.OutBd {
		if !retainedOut[t] {
			memOut += float64(g.W) * float64(g.H) / bw
		}
	}

	type tin struct {
		mem  float64
		role Role
	}
	var inputs []tin
	for t := range b.InBd {
		if retainedIn[t] {
			continue
		}
		inputs = append(inputs, tin{
			mem:  float64(TileMemIn(p, t, ops, g)) / bw,
			role: MatMulRole(p, ops, t),
		})
	}

	if tilesX <= 1 && tilesY <= 1 {
		memIn := 0.0
		for _, in := range inputs {
			memIn += in.mem
		}
		tileLat := compute
		if memIn+memOut > tileLat {
			tileLat = memIn + memOut
		}
		return float64(tilesX) * float64(tilesY) * tileLat
	}

	total := 0.0
	prevTx, prevTy := -1, -1
	for ty := 0; ty < tilesY; ty++ {
		ltr := ty%2 == 0
		for i := 0; i < tilesX; i++ {
			tx := i
			if !ltr {
				tx = tilesX - 1 - i
			}
			memIn := 0.0
			for _, in := range inputs {
				reuse := false
				if prevTx >= 0 {
					if in.role == RoleLHS && ty == prevTy {
						reuse = true
					}
					if in.role == RoleRHS && tx == prevTx {
						reuse = true
					}
				}
				if !reuse {
					memIn += in.mem
				}
			}
			tileLat := compute
			if memIn+memOut > tileLat {
				tileLat = memIn + memOut
			}
			total += tileLat
			prevTx, prevTy = tx, ty
		}
	}
	return total
}

// GenZigZag returns the explicit tile-index traversal sequence: row
// major, alternating direction per row.
func GenZigZag(tilesX, tilesY int) []int {
	order := make([]int, 0, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		if ty%2 == 0 {
			for tx := 0; tx < tilesX; tx++ {
				order = append(order, ty*tilesX+tx)
			}
		} else {
			for tx := tilesX - 1; tx >= 0; tx-- {
				order = append(order, ty*tilesX+tx)
			}
		}
	}
	return order
}
