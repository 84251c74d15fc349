package executor

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/nnexec/nnexec/pkg/graph"
)

// schedKey guards against scheduling the same node twice within one frame
// identity.
type schedKey struct {
	node  string
	frame int64
}

type workItem struct {
	node  *graph.Node
	frame *FrameState
}

// runDynamic executes a control-flow graph by dependency-driven discovery:
// the work stack starts at the source nodes, and a node's children are
// pushed once their inputs resolve under the frame stack left behind by the
// node's own operator (enter/exit/nextIteration move the frame stack, so
// children are discovered in the frame they will run in). Merge nodes are
// the deliberate exception: they fire as soon as any single input resolves,
// because a control-flow join has exactly one live incoming edge.
func runDynamic(ctx context.Context, runner OpRunner, g *graph.Graph, env *Environment, ec *ExecContext) error {
	log := klog.FromContext(ctx)

	scheduled := make(map[schedKey]bool)
	var stack []workItem

	for _, n := range g.Sources() {
		stack = append(stack, workItem{node: n, frame: ec.Root()})
		scheduled[schedKey{node: n.Name, frame: ec.Root().id}] = true
	}

	executed := 0
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		ec.Restore(item.frame)
		outs, err := runner.Run(ctx, item.node, env, ec)
		if err != nil {
			return fmt.Errorf("executing node %q in frame %s: %w", item.node.Name, item.frame, err)
		}
		// The operator may have pushed or popped a frame; record the value
		// where the frame stack now points.
		after := ec.Snapshot()
		env.Record(item.node.Name, after, outs)
		executed++

		for _, child := range item.node.Children {
			key := schedKey{node: child.Name, frame: after.id}
			if scheduled[key] {
				continue
			}
			if child.Kind == graph.OpMerge {
				if !anyInputResolved(child, env, after) {
					continue
				}
			} else if !allInputsResolved(child, env, after) {
				continue
			}
			scheduled[key] = true
			stack = append(stack, workItem{node: child, frame: after})
		}
	}

	log.V(2).Info("dynamic execution finished", "graph", g.String(), "nodesExecuted", executed)
	return nil
}

func anyInputResolved(n *graph.Node, env *Environment, f *FrameState) bool {
	for _, ref := range n.Inputs {
		if _, ok := env.Resolve(ref, f); ok {
			return true
		}
	}
	return false
}

func allInputsResolved(n *graph.Node, env *Environment, f *FrameState) bool {
	for _, ref := range n.Inputs {
		if _, ok := env.Resolve(ref, f); !ok {
			return false
		}
	}
	return true
}
