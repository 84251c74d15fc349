// Package modelfile loads a model bundle — graph topology plus inline
// weights — from the JSON convenience format served by the model store.
// It is a harness for the runtime, not a real model-format parser.
package modelfile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nnexec/nnexec/pkg/graph"
	"github.com/nnexec/nnexec/pkg/tensor"
)

type File struct {
	Nodes   []NodeDef            `json:"nodes"`
	Outputs []string             `json:"outputs"`
	Weights map[string]WeightDef `json:"weights,omitempty"`
}

type NodeDef struct {
	Name   string         `json:"name"`
	Op     string         `json:"op"`
	Inputs []string       `json:"inputs,omitempty"`
	Attrs  map[string]any `json:"attrs,omitempty"`
}

type WeightDef struct {
	Dims   []int     `json:"dims"`
	Values []float32 `json:"values"`
}

// Load reads a bundle and returns the validated graph plus its weight
// tensors keyed by node name.
func Load(path string) (*graph.Graph, map[string][]*tensor.Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading model bundle: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*graph.Graph, map[string][]*tensor.Tensor, error) {
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parsing model bundle: %w", err)
	}

	specs := make([]graph.NodeSpec, 0, len(file.Nodes))
	for _, nd := range file.Nodes {
		specs = append(specs, graph.NodeSpec{
			Name:   nd.Name,
			Kind:   graph.OpKind(nd.Op),
			Inputs: nd.Inputs,
			Attrs:  nd.Attrs,
		})
	}
	g, err := graph.New(specs, file.Outputs)
	if err != nil {
		return nil, nil, fmt.Errorf("building graph: %w", err)
	}

	weights := make(map[string][]*tensor.Tensor, len(file.Weights))
	for name, w := range file.Weights {
		if _, ok := g.Node(name); !ok {
			return nil, nil, fmt.Errorf("weight %q has no matching graph node", name)
		}
		t, err := tensor.New(tensor.Float32, w.Dims, w.Values)
		if err != nil {
			return nil, nil, fmt.Errorf("weight %q: %w", name, err)
		}
		weights[name] = []*tensor.Tensor{t}
	}

	return g, weights, nil
}
