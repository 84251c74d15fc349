package ops

import (
	"context"
	"fmt"

	"github.com/nnexec/nnexec/pkg/executor"
	"github.com/nnexec/nnexec/pkg/graph"
	"github.com/nnexec/nnexec/pkg/tensor"
)

func (r *Registry) registerControlFlow() {
	r.Register(graph.OpEnter, enter)
	r.Register(graph.OpExit, exit)
	r.Register(graph.OpNextIteration, nextIteration)
	r.Register(graph.OpMerge, merge)
	r.Register(graph.OpSwitch, switchOp)
	r.Register(graph.OpLoopCond, passthrough)
}

// enter forwards its input into iteration 0 of a new frame. The frame name
// comes from the node's "frame" attribute, defaulting to the node name.
func enter(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	t, err := input(node, env, ec, 0)
	if err != nil {
		return nil, err
	}
	frameName, ok := node.StringAttr("frame")
	if !ok {
		frameName = node.Name
	}
	ec.EnterFrame(frameName)
	return []*tensor.Tensor{t}, nil
}

// exit forwards its input out of the current frame.
func exit(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	t, err := input(node, env, ec, 0)
	if err != nil {
		return nil, err
	}
	if err := ec.ExitFrame(); err != nil {
		return nil, fmt.Errorf("node %q: %w", node.Name, err)
	}
	return []*tensor.Tensor{t}, nil
}

// nextIteration forwards its input into the next iteration of the current
// frame, making it the loop-carried value the next merge picks up.
func nextIteration(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	t, err := input(node, env, ec, 0)
	if err != nil {
		return nil, err
	}
	if err := ec.NextIteration(); err != nil {
		return nil, fmt.Errorf("node %q: %w", node.Name, err)
	}
	return []*tensor.Tensor{t}, nil
}

// merge adopts whichever input resolved first under the active frames. With
// well-formed branch and loop graphs exactly one incoming edge is live, so
// there is no ambiguity to arbitrate.
func merge(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	for _, ref := range node.Inputs {
		if t, ok := env.Resolve(ref, ec.Current()); ok {
			return []*tensor.Tensor{t}, nil
		}
	}
	return nil, fmt.Errorf("merge node %q: no input has a resolved value in frame %s", node.Name, ec.Current())
}

// switchOp routes its data input to port 0 (predicate false) or port 1
// (predicate true); the dead port stays nil, so consumers on the untaken
// branch never become ready.
func switchOp(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	data, err := input(node, env, ec, 0)
	if err != nil {
		return nil, err
	}
	pred, err := input(node, env, ec, 1)
	if err != nil {
		return nil, err
	}
	if pred.Bool() {
		return []*tensor.Tensor{nil, data}, nil
	}
	return []*tensor.Tensor{data, nil}, nil
}
