package ops

import (
	"context"
	"fmt"
	"math"

	"github.com/nnexec/nnexec/pkg/executor"
	"github.com/nnexec/nnexec/pkg/graph"
	"github.com/nnexec/nnexec/pkg/tensor"
)

func (r *Registry) registerStandard() {
	r.Register(graph.OpPlaceholder, seededValue)
	r.Register(graph.OpWeight, seededValue)
	r.Register(graph.OpConst, constValue)
	r.Register(graph.OpIdentity, passthrough)

	r.Register(graph.OpAdd, binary(func(a, b float32) float32 { return a + b }, tensor.Float32))
	r.Register(graph.OpSub, binary(func(a, b float32) float32 { return a - b }, tensor.Float32))
	r.Register(graph.OpMul, binary(func(a, b float32) float32 { return a * b }, tensor.Float32))
	r.Register(graph.OpLess, binary(boolOp(func(a, b float32) bool { return a < b }), tensor.Bool))
	r.Register(graph.OpGreater, binary(boolOp(func(a, b float32) bool { return a > b }), tensor.Bool))

	r.Register(graph.OpRelu, unary(func(v float32) float32 { return max(v, 0) }))
	r.Register(graph.OpClamp, clamp)
	r.Register(graph.OpBiasAdd, biasAdd)
	r.Register(graph.OpReshape, reshape)
	r.Register(graph.OpSqueeze, squeeze)
	r.Register(graph.OpSoftmax, softmax)
}

// seededValue serves placeholder and weight nodes: their tensors were
// seeded into the environment before execution started.
func seededValue(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	ts, ok := env.Lookup(node.Name, ec.Current())
	if !ok {
		return nil, fmt.Errorf("node %q: no value seeded", node.Name)
	}
	return ts, nil
}

func constValue(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	values, ok := node.FloatsAttr("value")
	if !ok {
		return nil, fmt.Errorf("const node %q has no value attribute", node.Name)
	}
	dims, ok := node.IntsAttr("dims")
	if !ok {
		dims = []int{len(values)}
	}
	dtype := tensor.Float32
	if s, ok := node.StringAttr("dtype"); ok {
		dtype = tensor.DType(s)
	}
	t, err := tensor.New(dtype, dims, values)
	if err != nil {
		return nil, fmt.Errorf("const node %q: %w", node.Name, err)
	}
	return []*tensor.Tensor{t}, nil
}

func passthrough(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	t, err := input(node, env, ec, 0)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{t}, nil
}

func unary(fn func(float32) float32) Func {
	return func(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
		in, err := input(node, env, ec, 0)
		if err != nil {
			return nil, err
		}
		out := make([]float32, len(in.Values()))
		for i, v := range in.Values() {
			out[i] = fn(v)
		}
		t, err := tensor.New(in.DType(), in.Dims(), out)
		if err != nil {
			return nil, err
		}
		return []*tensor.Tensor{t}, nil
	}
}

func boolOp(fn func(a, b float32) bool) func(a, b float32) float32 {
	return func(a, b float32) float32 {
		if fn(a, b) {
			return 1
		}
		return 0
	}
}

// binary builds an elementwise operator with scalar broadcast on either side.
func binary(fn func(a, b float32) float32, dtype tensor.DType) Func {
	return func(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
		a, err := input(node, env, ec, 0)
		if err != nil {
			return nil, err
		}
		b, err := input(node, env, ec, 1)
		if err != nil {
			return nil, err
		}
		av, bv := a.Values(), b.Values()
		dims := a.Dims()
		switch {
		case len(av) == len(bv):
		case len(bv) == 1:
			// scalar broadcast handled below
		case len(av) == 1:
			dims = b.Dims()
		default:
			return nil, fmt.Errorf("node %q: shape mismatch %v vs %v", node.Name, a.Dims(), b.Dims())
		}
		n := max(len(av), len(bv))
		out := make([]float32, n)
		for i := range out {
			out[i] = fn(av[i%len(av)], bv[i%len(bv)])
		}
		t, err := tensor.New(dtype, dims, out)
		if err != nil {
			return nil, err
		}
		return []*tensor.Tensor{t}, nil
	}
}

func clamp(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	lo, _ := node.FloatAttr("min")
	hi, ok := node.FloatAttr("max")
	if !ok {
		hi = math.Inf(1)
	}
	return unary(func(v float32) float32 {
		return float32(math.Min(math.Max(float64(v), lo), hi))
	})(ctx, node, env, ec)
}

// biasAdd adds a rank-1 bias across the innermost dimension.
func biasAdd(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	in, err := input(node, env, ec, 0)
	if err != nil {
		return nil, err
	}
	bias, err := input(node, env, ec, 1)
	if err != nil {
		return nil, err
	}
	bv := bias.Values()
	if len(bv) == 0 || len(in.Values())%len(bv) != 0 {
		return nil, fmt.Errorf("node %q: bias of %d elements does not divide input of %d", node.Name, len(bv), len(in.Values()))
	}
	out := make([]float32, len(in.Values()))
	for i, v := range in.Values() {
		out[i] = v + bv[i%len(bv)]
	}
	t, err := tensor.New(in.DType(), in.Dims(), out)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{t}, nil
}

func reshape(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	in, err := input(node, env, ec, 0)
	if err != nil {
		return nil, err
	}
	dims, ok := node.IntsAttr("shape")
	if !ok {
		return nil, fmt.Errorf("reshape node %q has no shape attribute", node.Name)
	}
	t, err := tensor.New(in.DType(), dims, in.Values())
	if err != nil {
		return nil, fmt.Errorf("reshape node %q: %w", node.Name, err)
	}
	return []*tensor.Tensor{t}, nil
}

func squeeze(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	in, err := input(node, env, ec, 0)
	if err != nil {
		return nil, err
	}
	var dims []int
	for _, d := range in.Dims() {
		if d != 1 {
			dims = append(dims, d)
		}
	}
	t, err := tensor.New(in.DType(), dims, in.Values())
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{t}, nil
}

// softmax normalizes over the innermost dimension.
func softmax(ctx context.Context, node *graph.Node, env *executor.Environment, ec *executor.ExecContext) ([]*tensor.Tensor, error) {
	in, err := input(node, env, ec, 0)
	if err != nil {
		return nil, err
	}
	dims := in.Dims()
	if len(dims) == 0 {
		return nil, fmt.Errorf("softmax node %q requires rank >= 1", node.Name)
	}
	inner := dims[len(dims)-1]
	values := in.Values()
	out := make([]float32, len(values))
	for start := 0; start < len(values); start += inner {
		row := values[start : start+inner]
		maxV := row[0]
		for _, v := range row {
			maxV = max(maxV, v)
		}
		sum := float64(0)
		for i, v := range row {
			e := math.Exp(float64(v - maxV))
			out[start+i] = float32(e)
			sum += e
		}
		for i := range row {
			out[start+i] = float32(float64(out[start+i]) / sum)
		}
	}
	t, err := tensor.New(in.DType(), dims, out)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{t}, nil
}
