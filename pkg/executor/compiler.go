package executor

import (
	"fmt"

	"github.com/nnexec/nnexec/pkg/graph"
)

// CompileStaticOrder produces one fixed execution order for a
// control-flow-free graph: a depth-first walk from the graph's source nodes
// using an explicit work stack, where a node is emitted only once every one
// of its declared inputs has been emitted. The result is a valid
// topological order; when several nodes become ready together the tie-break
// follows child declaration order, so recompiling the same graph is stable.
func CompileStaticOrder(g *graph.Graph) ([]*graph.Node, error) {
	if g.HasControlFlow() {
		return nil, fmt.Errorf("cannot compile a static order for a graph with control flow")
	}

	visited := make(map[string]bool)
	order := make([]*graph.Node, 0, len(g.Nodes()))

	stack := make([]*graph.Node, 0, len(g.Nodes()))
	// Reverse so the first-declared source is visited first.
	sources := g.Sources()
	for i := len(sources) - 1; i >= 0; i-- {
		stack = append(stack, sources[i])
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n.Name] {
			continue
		}
		visited[n.Name] = true
		order = append(order, n)

		for i := len(n.Children) - 1; i >= 0; i-- {
			child := n.Children[i]
			if visited[child.Name] || !allInputsVisited(child, visited) {
				continue
			}
			stack = append(stack, child)
		}
	}

	for _, out := range g.Outputs() {
		if !visited[out.Name] {
			return nil, fmt.Errorf("output node %q is unreachable from the graph inputs", out.Name)
		}
	}

	return order, nil
}

func allInputsVisited(n *graph.Node, visited map[string]bool) bool {
	for _, ref := range n.Inputs {
		if !visited[ref.Node] {
			return false
		}
	}
	return true
}
