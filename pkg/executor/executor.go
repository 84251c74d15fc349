// Package executor is the runtime core: it takes a previously-constructed
// computation graph plus named input tensors and produces named output
// tensors. Control-flow-free graphs run over a cached static order;
// graphs with loops or branches run through the dynamic scheduler; and a
// configured accelerator backend can take over eligible graphs entirely.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/nnexec/nnexec/pkg/graph"
	"github.com/nnexec/nnexec/pkg/tensor"
)

// OpRunner computes one node's outputs from its resolved inputs. It is pure
// given its inputs, except that control-flow kinds may push or pop frames
// on the ExecContext. Any error aborts the whole execution call.
type OpRunner interface {
	Run(ctx context.Context, node *graph.Node, env *Environment, ec *ExecContext) ([]*tensor.Tensor, error)
}

// Accelerator is the compiled execution path: a one-time, idempotent
// translation of the static order into an external backend, then repeated
// low-overhead runs. Single input, single output.
type Accelerator interface {
	CompileOnce(ctx context.Context, g *graph.Graph, order []*graph.Node, weights map[string][]*tensor.Tensor) error
	Run(ctx context.Context, input *tensor.Tensor) (*tensor.Tensor, error)
}

type Executor struct {
	graph   *graph.Graph
	runner  OpRunner
	weights map[string][]*tensor.Tensor

	// weightSet holds every weight tensor by identity, established once so
	// weights are exempt from release across all calls.
	weightSet identitySet

	accel Accelerator

	mu          sync.Mutex
	staticOrder []*graph.Node
	disposed    bool
}

type Option func(*Executor)

// WithAccelerator routes eligible executions through a compiled backend.
func WithAccelerator(a Accelerator) Option {
	return func(e *Executor) { e.accel = a }
}

func New(g *graph.Graph, weights map[string][]*tensor.Tensor, runner OpRunner, opts ...Option) (*Executor, error) {
	if runner == nil {
		return nil, status.Errorf(codes.InvalidArgument, "executor requires an operator runner")
	}
	e := &Executor{
		graph:     g,
		runner:    runner,
		weights:   weights,
		weightSet: make(identitySet),
	}
	for _, ts := range weights {
		e.weightSet.add(ts...)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Executor) InputNames() []string { return e.graph.PlaceholderNames() }

func (e *Executor) OutputNames() []string { return e.graph.OutputNames() }

// RequiresDynamicExecution reports whether the loaded graph contains
// control-flow operators and therefore cannot use a static order.
func (e *Executor) RequiresDynamicExecution() bool { return e.graph.HasControlFlow() }

// Execute runs the graph against the supplied inputs and returns the
// requested outputs (the declared graph outputs when none are named). Any
// reachable node may be requested, not only declared outputs. Intermediate
// tensors are kept alive; use ExecuteAndRelease to reclaim them.
func (e *Executor) Execute(ctx context.Context, inputs map[string]*tensor.Tensor, outputNames ...string) (map[string]*tensor.Tensor, error) {
	outputs, _, err := e.execute(ctx, inputs, outputNames)
	return outputs, err
}

// ExecuteAndRelease runs the graph and then releases every intermediate
// tensor that is not a requested output, a supplied input, or a weight.
func (e *Executor) ExecuteAndRelease(ctx context.Context, inputs map[string]*tensor.Tensor, outputNames ...string) (map[string]*tensor.Tensor, error) {
	log := klog.FromContext(ctx)

	outputs, env, err := e.execute(ctx, inputs, outputNames)
	if env == nil {
		return outputs, err
	}

	keep := make(identitySet)
	for _, t := range inputs {
		keep.add(t)
	}
	for t := range e.weightSet {
		keep.add(t)
	}
	for _, t := range outputs {
		keep.add(t)
	}
	released := releaseIntermediates(env, keep)
	log.V(2).Info("released intermediate tensors", "count", released)

	return outputs, err
}

// Dispose releases all weight tensors. The executor is unusable afterwards.
func (e *Executor) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.disposed = true
	for _, ts := range e.weights {
		for _, t := range ts {
			if t != nil {
				t.Release()
			}
		}
	}
}

func (e *Executor) execute(ctx context.Context, inputs map[string]*tensor.Tensor, outputNames []string) (map[string]*tensor.Tensor, *Environment, error) {
	e.mu.Lock()
	disposed := e.disposed
	e.mu.Unlock()
	if disposed {
		return nil, nil, status.Errorf(codes.FailedPrecondition, "executor has been disposed")
	}

	if err := e.validateInputs(inputs); err != nil {
		return nil, nil, err
	}
	if len(outputNames) == 0 {
		outputNames = e.graph.OutputNames()
	}

	if e.useAccelerated(inputs, outputNames) {
		out, err := e.runAccelerated(ctx, inputs, outputNames)
		return out, nil, err
	}

	env := NewEnvironment()
	for name, ts := range e.weights {
		env.Seed(name, ts)
	}
	for name, t := range inputs {
		env.Seed(name, []*tensor.Tensor{t})
	}

	ec := NewExecContext()
	if e.graph.HasControlFlow() {
		if err := runDynamic(ctx, e.runner, e.graph, env, ec); err != nil {
			return nil, env, err
		}
	} else {
		if err := e.runStatic(ctx, env, ec); err != nil {
			return nil, env, err
		}
	}

	outputs, err := collectOutputs(env, outputNames)
	return outputs, env, err
}

// validateInputs enforces the input contract before any node executes:
// exactly the declared placeholder names, no more, no fewer. Every
// offending key is named.
func (e *Executor) validateInputs(inputs map[string]*tensor.Tensor) error {
	declared := make(map[string]bool)
	var missing []string
	for _, name := range e.graph.PlaceholderNames() {
		declared[name] = true
		if _, ok := inputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	var extra []string
	for name := range inputs {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	if len(missing) > 0 {
		return status.Errorf(codes.InvalidArgument, "missing input tensors: %v", missing)
	}
	if len(extra) > 0 {
		return status.Errorf(codes.InvalidArgument, "unexpected input tensors: %v", extra)
	}
	return nil
}

// runStatic drives the interpreted path over the cached static order.
func (e *Executor) runStatic(ctx context.Context, env *Environment, ec *ExecContext) error {
	order, err := e.compiledOrder()
	if err != nil {
		return err
	}
	for _, n := range order {
		outs, err := e.runner.Run(ctx, n, env, ec)
		if err != nil {
			// Dispatch failures propagate unchanged and abort the call.
			return fmt.Errorf("executing node %q: %w", n.Name, err)
		}
		env.Record(n.Name, ec.Root(), outs)
	}
	return nil
}

// compiledOrder computes the static order once and caches it for the
// lifetime of the executor.
func (e *Executor) compiledOrder() ([]*graph.Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.staticOrder != nil {
		return e.staticOrder, nil
	}
	order, err := CompileStaticOrder(e.graph)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "compiling static order: %v", err)
	}
	e.staticOrder = order
	return order, nil
}

// useAccelerated decides the execution strategy for this call. The
// accelerated path handles exactly the single-input/single-output shape
// with the declared graph output requested; everything else falls back to
// interpretation.
func (e *Executor) useAccelerated(inputs map[string]*tensor.Tensor, outputNames []string) bool {
	if e.accel == nil || e.graph.HasControlFlow() {
		return false
	}
	if len(inputs) != 1 || len(outputNames) != 1 {
		return false
	}
	declared := e.graph.OutputNames()
	return len(declared) == 1 && declared[0] == outputNames[0]
}

func (e *Executor) runAccelerated(ctx context.Context, inputs map[string]*tensor.Tensor, outputNames []string) (map[string]*tensor.Tensor, error) {
	order, err := e.compiledOrder()
	if err != nil {
		return nil, err
	}
	if err := e.accel.CompileOnce(ctx, e.graph, order, e.weights); err != nil {
		return nil, err
	}
	var input *tensor.Tensor
	for _, t := range inputs {
		input = t
	}
	out, err := e.accel.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	return map[string]*tensor.Tensor{outputNames[0]: out}, nil
}

func collectOutputs(env *Environment, outputNames []string) (map[string]*tensor.Tensor, error) {
	outputs := make(map[string]*tensor.Tensor, len(outputNames))
	for _, name := range outputNames {
		ref, err := graph.ParseInputRef(name)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "output %q: %v", name, err)
		}
		ts, ok := env.Latest(ref.Node)
		if !ok || ref.Port >= len(ts) || ts[ref.Port] == nil {
			return nil, status.Errorf(codes.NotFound, "output tensor %q was not produced", name)
		}
		outputs[name] = ts[ref.Port]
	}
	return outputs, nil
}
