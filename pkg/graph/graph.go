// Package graph holds the static computation-graph model: named operator
// nodes connected by data edges, plus the loop/branch/merge control-flow
// vocabulary. Graphs are immutable once constructed; execution lives in
// pkg/executor.
package graph

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NodeSpec describes one node before wiring. Inputs use "name" or
// "name:port" references.
type NodeSpec struct {
	Name   string
	Kind   OpKind
	Inputs []string
	Attrs  map[string]any
}

type Graph struct {
	nodes  map[string]*Node
	order  []*Node // declaration order, for deterministic iteration
	inputs []*Node // placeholders, in declaration order
	output []*Node // declared outputs, in declaration order

	hasControlFlow bool
}

// New wires and validates a graph. Every input reference must resolve to a
// declared node; node names must be unique. Cycles are permitted only so
// control-flow back edges (nextIteration -> merge) can be expressed.
func New(specs []NodeSpec, outputs []string) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*Node, len(specs))}

	for _, spec := range specs {
		if spec.Name == "" {
			return nil, status.Errorf(codes.InvalidArgument, "node with empty name")
		}
		if _, ok := g.nodes[spec.Name]; ok {
			return nil, status.Errorf(codes.InvalidArgument, "duplicate node name %q", spec.Name)
		}
		n := &Node{Name: spec.Name, Kind: spec.Kind, Attrs: spec.Attrs}
		for _, in := range spec.Inputs {
			ref, err := ParseInputRef(in)
			if err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "node %q: %v", spec.Name, err)
			}
			n.Inputs = append(n.Inputs, ref)
		}
		g.nodes[spec.Name] = n
		g.order = append(g.order, n)
		if n.Kind == OpPlaceholder {
			// Placeholders are pure sources; one with inputs would never
			// seed the scheduler yet would ignore its edges.
			if len(n.Inputs) > 0 {
				return nil, status.Errorf(codes.InvalidArgument, "placeholder %q must not declare inputs", spec.Name)
			}
			g.inputs = append(g.inputs, n)
		}
		if n.Kind.IsControlFlow() {
			g.hasControlFlow = true
		}
	}

	// Second pass: resolve references and wire consumers.
	for _, n := range g.order {
		for _, ref := range n.Inputs {
			producer, ok := g.nodes[ref.Node]
			if !ok {
				return nil, status.Errorf(codes.InvalidArgument, "node %q references undeclared input %q", n.Name, ref.Node)
			}
			if !containsNode(producer.Children, n) {
				producer.Children = append(producer.Children, n)
			}
		}
	}

	for _, name := range outputs {
		ref, err := ParseInputRef(name)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "output %q: %v", name, err)
		}
		n, ok := g.nodes[ref.Node]
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "declared output %q is not a node", name)
		}
		g.output = append(g.output, n)
	}
	if len(g.output) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "graph declares no outputs")
	}

	return g, nil
}

func containsNode(nodes []*Node, n *Node) bool {
	for _, e := range nodes {
		if e == n {
			return true
		}
	}
	return false
}

func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*Node { return g.order }

// Placeholders returns the graph-input nodes in declaration order.
func (g *Graph) Placeholders() []*Node { return g.inputs }

func (g *Graph) Outputs() []*Node { return g.output }

func (g *Graph) PlaceholderNames() []string {
	names := make([]string, len(g.inputs))
	for i, n := range g.inputs {
		names[i] = n.Name
	}
	return names
}

func (g *Graph) OutputNames() []string {
	names := make([]string, len(g.output))
	for i, n := range g.output {
		names[i] = n.Name
	}
	return names
}

// HasControlFlow reports whether the graph contains loop/branch operators,
// which forces the dynamic execution path.
func (g *Graph) HasControlFlow() bool { return g.hasControlFlow }

// Sources returns nodes with no data inputs (placeholders, constants,
// weights): the seeds for both compilation and dynamic scheduling.
func (g *Graph) Sources() []*Node {
	var sources []*Node
	for _, n := range g.order {
		if len(n.Inputs) == 0 {
			sources = append(sources, n)
		}
	}
	return sources
}

func (g *Graph) String() string {
	return fmt.Sprintf("graph{nodes=%d inputs=%d outputs=%d controlFlow=%v}",
		len(g.nodes), len(g.inputs), len(g.output), g.hasControlFlow)
}
