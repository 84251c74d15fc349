// Package ops is the builtin operator library for the interpreted path: a
// registry from operator kind to implementation, covering the control-flow
// vocabulary and a set of data operators. The executor only depends on the
// OpRunner contract, so callers can register or replace implementations.
package ops

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nnexec/nnexec/pkg/executor"
	"github.com/nnexec/nnexec/pkg/graph"
	"github.com/nnexec/nnexec/pkg/tensor"
)

// Func computes one node's outputs from its resolved inputs. Control-flow
// implementations may push or pop frames on the ExecContext.
type Func func(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error)

type Registry struct {
	funcs map[graph.OpKind]Func
}

var _ executor.OpRunner = (*Registry)(nil)

func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[graph.OpKind]Func)}
	r.registerStandard()
	r.registerControlFlow()
	return r
}

// Register installs (or replaces) the implementation for a kind.
func (r *Registry) Register(kind graph.OpKind, fn Func) {
	r.funcs[kind] = fn
}

func (r *Registry) Run(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	fn, ok := r.funcs[node.Kind]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "no operator implementation for kind %q (node %q)", node.Kind, node.Name)
	}
	return fn(ctx, node, env, ec)
}

// input resolves the i-th input edge under the active frame stack.
func input(node *graph.Node, env *executor.Environment, ec *executor.ExecContext, i int) (*tensor.Tensor, error) {
	if i >= len(node.Inputs) {
		return nil, fmt.Errorf("node %q has no input %d", node.Name, i)
	}
	t, ok := env.Resolve(node.Inputs[i], ec.Current())
	if !ok {
		return nil, fmt.Errorf("node %q: input %q has no resolved value in frame %s", node.Name, node.Inputs[i], ec.Current())
	}
	return t, nil
}
