// Package planio reads problem documents and writes solution documents
// in the JSON wire format of spec.md §6.
package planio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atulranjan/tilefuse/internal/fusion"
	"github.com/atulranjan/tilefuse/internal/graph"
)

// ErrRead, ErrParse, and ErrWrite mark the three ways document I/O can
// fail: the file could not be read, its JSON could not be parsed, or
// the output could not be written.
var (
	ErrRead  = errors.New("tilefuse: could not read document")
	ErrParse = errors.New("tilefuse: could not parse document")
	ErrWrite = errors.New("tilefuse: could not write document")
)

// ProblemDoc is the on-disk representation of a compute graph plus its
// memory-hierarchy parameters.
type ProblemDoc struct {
	Widths              []int    `json:"widths"`
	Heights             []int    `json:"heights"`
	Inputs              [][]int  `json:"inputs"`
	Outputs             [][]int  `json:"outputs"`
	BaseCosts           []int64  `json:"base_costs"`
	OpTypes             []string `json:"op_types"`
	FastMemoryCapacity  int64    `json:"fast_memory_capacity"`
	SlowMemoryBandwidth int64    `json:"slow_memory_bandwidth"`
	NativeGranularity   [2]int   `json:"native_granularity"`
}

// SolutionDoc is the on-disk representation of a fused, scheduled plan.
type SolutionDoc struct {
	Subgraphs         [][]int   `json:"subgraphs"`
	Granularities     [][3]int  `json:"granularities"`
	TensorsToRetain   [][]int   `json:"tensors_to_retain"`
	TraversalOrders   []*[]int  `json:"traversal_orders"`
	SubgraphLatencies []float64 `json:"subgraph_latencies"`
}

// ReadProblem loads and validates a problem document from filename.
func ReadProblem(filename string) (*graph.Problem, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRead, filename, err)
	}

	var doc ProblemDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, filename, err)
	}

	numTensors := len(doc.Widths)
	if len(doc.Heights) != numTensors {
		return nil, fmt.Errorf("%w: widths/heights length mismatch", ErrParse)
	}
	tensors := make([]graph.Tensor, numTensors)
	for i := 0; i < numTensors; i++ {
		tensors[i] = graph.Tensor{Width: doc.Widths[i], Height: doc.Heights[i]}
	}

	numOps := len(doc.Inputs)
	if len(doc.Outputs) != numOps || len(doc.OpTypes) != numOps || len(doc.BaseCosts) != numOps {
		return nil, fmt.Errorf("%w: op field length mismatch", ErrParse)
	}
	ops := make([]graph.Op, numOps)
	for i := 0; i < numOps; i++ {
		ops[i] = graph.Op{
			Type:     graph.OpType(doc.OpTypes[i]),
			Inputs:   doc.Inputs[i],
			Outputs:  doc.Outputs[i],
			BaseCost: doc.BaseCosts[i],
		}
	}

	return graph.New(tensors, ops, doc.FastMemoryCapacity, doc.SlowMemoryBandwidth, doc.NativeGranularity)
}

// WriteSolution renders the scheduled subgraphs as a solution document
// and writes it atomically: marshal to a temp file in the same
// directory, then rename over the destination.
func WriteSolution(filename string, sgs []*fusion.Subgraph) error {
	doc := SolutionDoc{
		Subgraphs:         make([][]int, len(sgs)),
		Granularities:     make([][3]int, len(sgs)),
		TensorsToRetain:   make([][]int, len(sgs)),
		TraversalOrders:   make([]*[]int, len(sgs)),
		SubgraphLatencies: make([]float64, len(sgs)),
	}

	for i, sg := range sgs {
		doc.Subgraphs[i] = sg.Ops
		doc.Granularities[i] = [3]int{sg.Gran.W, sg.Gran.H, sg.Gran.K}
		if sg.Retain == nil {
			doc.TensorsToRetain[i] = []int{}
		} else {
			doc.TensorsToRetain[i] = sg.Retain
		}
		if len(sg.Traversal) > 0 {
			order := make([]int, len(sg.Traversal))
			copy(order, sg.Traversal)
			doc.TraversalOrders[i] = &order
		} else {
			doc.TraversalOrders[i] = nil
		}
		doc.SubgraphLatencies[i] = sg.Latency
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling solution: %v", ErrWrite, err)
	}

	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, ".tilefuse-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing temp file: %v", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %v", ErrWrite, err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("%w: renaming into place: %v", ErrWrite, err)
	}
	return nil
}
