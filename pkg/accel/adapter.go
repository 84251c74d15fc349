package accel

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/nnexec/nnexec/pkg/executor"
	"github.com/nnexec/nnexec/pkg/graph"
	"github.com/nnexec/nnexec/pkg/tensor"
)

// operandInfo maps a node name to its slot in the backend's flat operand
// table plus the operand's element type and shape. Immutable once
// compilation finishes.
type operandInfo struct {
	index int
	dtype tensor.DType
	dims  []int
}

// Adapter compiles the static order into an injected Backend once and
// reuses the prepared execution instance for every subsequent inference.
// The execution instance is not reentrant, so Run is serialized here.
type Adapter struct {
	backend Backend

	mu         sync.Mutex
	compiled   bool
	exec       Execution
	operands   map[string]operandInfo
	outputDims []int
	skipped    []string
}

var _ executor.Accelerator = (*Adapter)(nil)

func NewAdapter(backend Backend) *Adapter {
	return &Adapter{backend: backend}
}

// SkippedNodes lists nodes whose operator kind the compilation did not
// cover. Skips are non-fatal but reduce coverage; callers must not assume
// the compiled model spans the whole graph.
func (a *Adapter) SkippedNodes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.skipped...)
}

// CompileOnce walks the compiled-order node sequence, allocating operand
// slots and issuing add-operand/add-operation calls, then asks the backend
// to finish, compile, and prepare one execution instance. Idempotent.
func (a *Adapter) CompileOnce(ctx context.Context, g *graph.Graph, order []*graph.Node, weights map[string][]*tensor.Tensor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.compiled {
		return nil
	}
	// A failed attempt may have recorded skips already; start fresh so a
	// retry does not duplicate them.
	a.skipped = nil
	log := klog.FromContext(ctx)

	if len(g.Placeholders()) != 1 || len(g.Outputs()) != 1 {
		return status.Errorf(codes.Unimplemented, "accelerated path supports a single input and a single output, graph has %d/%d",
			len(g.Placeholders()), len(g.Outputs()))
	}

	builder, err := a.backend.CreateModel(ctx)
	if err != nil {
		return status.Errorf(codes.Internal, "creating backend model: %v", err)
	}

	st := &compileState{
		builder:  builder,
		operands: make(map[string]operandInfo),
		weights:  weights,
		consumed: make(map[string]bool),
	}

	// Value operands first: a fused bias may be consumed by an operation
	// that appears before the bias weight in the topological order.
	for _, n := range order {
		switch n.Kind {
		case graph.OpPlaceholder, graph.OpConst, graph.OpWeight:
			if err := compileTable[n.Kind](st, n); err != nil {
				return err
			}
		}
	}

	for _, n := range order {
		if st.consumed[n.Name] || n.Kind == graph.OpPlaceholder || n.Kind == graph.OpConst || n.Kind == graph.OpWeight {
			continue
		}
		strategy, ok := compileTable[n.Kind]
		if !ok {
			// Non-fatal by design, but never silent: partial coverage must
			// be diagnosable.
			log.Info("skipping node with unsupported operator kind", "node", n.Name, "kind", n.Kind)
			a.skipped = append(a.skipped, n.Name)
			continue
		}
		if err := strategy(st, n); err != nil {
			if errors.Is(err, errNotCompilable) {
				log.Info("skipping node whose inputs were not compiled", "node", n.Name, "kind", n.Kind)
				a.skipped = append(a.skipped, n.Name)
				continue
			}
			return err
		}
	}

	inputName := g.Placeholders()[0].Name
	outputName := g.Outputs()[0].Name
	in, ok := st.operands[inputName]
	if !ok {
		return status.Errorf(codes.Internal, "input node %q was not assigned an operand", inputName)
	}
	out, ok := st.operands[outputName]
	if !ok {
		return status.Errorf(codes.Unimplemented, "output node %q was not compiled (unsupported operators on its path)", outputName)
	}

	if err := builder.IdentifyInputsAndOutputs([]int{in.index}, []int{out.index}); err != nil {
		return status.Errorf(codes.Internal, "identifying model inputs/outputs: %v", err)
	}
	if err := builder.Finish(); err != nil {
		return status.Errorf(codes.Internal, "finishing model: %v", err)
	}
	compilation, err := builder.Compile(ctx)
	if err != nil {
		return status.Errorf(codes.Internal, "compiling model: %v", err)
	}
	exec, err := compilation.CreateExecution(ctx)
	if err != nil {
		return status.Errorf(codes.Internal, "creating execution: %v", err)
	}

	a.exec = exec
	a.operands = st.operands
	a.outputDims = out.dims
	a.compiled = true
	log.Info("compiled graph for accelerated execution", "operands", len(st.operands), "skipped", len(a.skipped))
	return nil
}

// Run executes one inference through the cached execution instance.
func (a *Adapter) Run(ctx context.Context, input *tensor.Tensor) (*tensor.Tensor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.compiled {
		return nil, status.Errorf(codes.FailedPrecondition, "accelerated adapter is not compiled")
	}

	if err := a.exec.SetInput(0, input); err != nil {
		return nil, status.Errorf(codes.Internal, "binding input: %v", err)
	}
	out, err := tensor.New(tensor.Float32, a.outputDims, make([]float32, numElements(a.outputDims)))
	if err != nil {
		return nil, err
	}
	if err := a.exec.SetOutput(0, out); err != nil {
		return nil, status.Errorf(codes.Internal, "binding output: %v", err)
	}
	if err := a.exec.Run(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "backend execution failed: %v", err)
	}
	return out, nil
}

func numElements(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
