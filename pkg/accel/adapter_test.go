package accel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nnexec/nnexec/pkg/executor"
	"github.com/nnexec/nnexec/pkg/graph"
	"github.com/nnexec/nnexec/pkg/tensor"
)

// fakeBackend records every call the adapter makes so tests can assert the
// exact compiled model.
type fakeBackend struct {
	models []*fakeModel

	// compileErr fails the next Compile call, then clears.
	compileErr error
}

type fakeOperand struct {
	ty    OperandType
	value any
	set   bool
}

type fakeOperation struct {
	kind    OperationKind
	inputs  []int
	outputs []int
}

type fakeModel struct {
	backend    *fakeBackend
	operands   []fakeOperand
	operations []fakeOperation
	inputs     []int
	outputs    []int
	finished   bool

	exec *fakeExecution
}

type fakeExecution struct {
	input  *tensor.Tensor
	output *tensor.Tensor
	runs   int
	fill   float32
	runErr error
}

func (b *fakeBackend) CreateModel(ctx context.Context) (ModelBuilder, error) {
	m := &fakeModel{backend: b, exec: &fakeExecution{fill: 0.5}}
	b.models = append(b.models, m)
	return m, nil
}

func (m *fakeModel) AddOperand(ty OperandType) (int, error) {
	m.operands = append(m.operands, fakeOperand{ty: ty})
	return len(m.operands) - 1, nil
}

func (m *fakeModel) SetOperandValue(index int, value any) error {
	m.operands[index].value = value
	m.operands[index].set = true
	return nil
}

func (m *fakeModel) AddOperation(kind OperationKind, inputs []int, outputs []int) error {
	m.operations = append(m.operations, fakeOperation{kind: kind, inputs: inputs, outputs: outputs})
	return nil
}

func (m *fakeModel) IdentifyInputsAndOutputs(inputs []int, outputs []int) error {
	m.inputs = inputs
	m.outputs = outputs
	return nil
}

func (m *fakeModel) Finish() error {
	m.finished = true
	return nil
}

func (m *fakeModel) Compile(ctx context.Context) (Compilation, error) {
	if err := m.backend.compileErr; err != nil {
		m.backend.compileErr = nil
		return nil, err
	}
	return m, nil
}

func (m *fakeModel) CreateExecution(ctx context.Context) (Execution, error) { return m.exec, nil }

func (e *fakeExecution) SetInput(index int, t *tensor.Tensor) error {
	e.input = t
	return nil
}

func (e *fakeExecution) SetOutput(index int, t *tensor.Tensor) error {
	e.output = t
	return nil
}

func (e *fakeExecution) Run(ctx context.Context) error {
	e.runs++
	if e.runErr != nil {
		return e.runErr
	}
	for i := range e.output.Values() {
		e.output.Values()[i] = e.fill
	}
	return nil
}

// conv -> biasAdd -> clamp(0,6), the canonical fused chain.
func convGraph(t *testing.T, padding string) (*graph.Graph, map[string][]*tensor.Tensor) {
	t.Helper()
	g, err := graph.New([]graph.NodeSpec{
		{Name: "x", Kind: graph.OpPlaceholder, Attrs: map[string]any{"shape": []int{1, 4, 4, 1}}},
		{Name: "filter", Kind: graph.OpWeight},
		{Name: "bias", Kind: graph.OpWeight},
		{Name: "conv", Kind: graph.OpConv2D, Inputs: []string{"x", "filter"}, Attrs: map[string]any{
			"strides": []int{1, 1},
			"padding": padding,
		}},
		{Name: "badd", Kind: graph.OpBiasAdd, Inputs: []string{"conv", "bias"}},
		{Name: "act", Kind: graph.OpClamp, Inputs: []string{"badd"}, Attrs: map[string]any{"min": 0.0, "max": 6.0}},
	}, []string{"act"})
	require.NoError(t, err)

	weights := map[string][]*tensor.Tensor{
		// Filter layout [outC kh kw inC].
		"filter": {tensor.MustNew(tensor.Float32, []int{2, 2, 2, 1}, make([]float32, 8))},
		"bias":   {tensor.MustNew(tensor.Float32, []int{2}, []float32{0.1, 0.2})},
	}
	return g, weights
}

func compileGraph(t *testing.T, g *graph.Graph, weights map[string][]*tensor.Tensor) (*Adapter, *fakeBackend, error) {
	t.Helper()
	order, err := executor.CompileStaticOrder(g)
	require.NoError(t, err)
	backend := &fakeBackend{}
	adapter := NewAdapter(backend)
	err = adapter.CompileOnce(context.Background(), g, order, weights)
	return adapter, backend, err
}

func TestCompileFusedConv(t *testing.T) {
	g, weights := convGraph(t, "same")
	adapter, backend, err := compileGraph(t, g, weights)
	require.NoError(t, err)
	require.Empty(t, adapter.SkippedNodes())

	require.Len(t, backend.models, 1)
	m := backend.models[0]
	require.True(t, m.finished)

	// The whole chain folds into a single convolution.
	require.Len(t, m.operations, 1)
	op := m.operations[0]
	require.Equal(t, OperationConv2D, op.kind)
	require.Len(t, op.inputs, 7)

	// Scalar parameter order is [pad strideW strideH fuse] after the three
	// tensor operands.
	require.Equal(t, PaddingSame, m.operands[op.inputs[3]].value)
	require.Equal(t, int32(1), m.operands[op.inputs[4]].value)
	require.Equal(t, int32(1), m.operands[op.inputs[5]].value)
	require.Equal(t, FuseRelu6, m.operands[op.inputs[6]].value)

	// Bias comes from the graph's weight operand, not a synthesized zero.
	require.Equal(t, []float32{0.1, 0.2}, m.operands[op.inputs[2]].value)

	// Same padding with stride 1 keeps the spatial extent.
	require.Equal(t, []int{1, 4, 4, 2}, m.operands[op.outputs[0]].ty.Dims)

	// Model I/O binds the placeholder and the fused chain's terminal.
	require.Equal(t, []int{0}, m.inputs)
	require.Equal(t, op.outputs, m.outputs)
}

func TestCompileOnceIsIdempotent(t *testing.T) {
	g, weights := convGraph(t, "same")
	adapter, backend, err := compileGraph(t, g, weights)
	require.NoError(t, err)

	order, err := executor.CompileStaticOrder(g)
	require.NoError(t, err)
	require.NoError(t, adapter.CompileOnce(context.Background(), g, order, weights))
	require.Len(t, backend.models, 1, "recompilation must not build a second model")
}

func TestUnsupportedPaddingAbortsCompilation(t *testing.T) {
	g, weights := convGraph(t, "reflect")
	_, _, err := compileGraph(t, g, weights)
	require.Equal(t, codes.Unimplemented, status.Code(err))
	require.Contains(t, err.Error(), "reflect")
}

func TestUnsupportedNodesAreSkippedNotFatal(t *testing.T) {
	// "mystery" has no compilation strategy; "smx" has one but its input
	// was never compiled. Both are skipped, and the declared output still
	// compiles.
	g, err := graph.New([]graph.NodeSpec{
		{Name: "x", Kind: graph.OpPlaceholder, Attrs: map[string]any{"shape": []int{1, 4}}},
		{Name: "mystery", Kind: graph.OpAdd, Inputs: []string{"x", "x"}},
		{Name: "smx", Kind: graph.OpSoftmax, Inputs: []string{"mystery"}},
		{Name: "out", Kind: graph.OpReshape, Inputs: []string{"x"}, Attrs: map[string]any{"shape": []int{4}}},
	}, []string{"out"})
	require.NoError(t, err)

	adapter, backend, err := compileGraph(t, g, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"mystery", "smx"}, adapter.SkippedNodes())
	require.True(t, backend.models[0].finished)
}

func TestCompileRetryDoesNotDuplicateSkips(t *testing.T) {
	g, err := graph.New([]graph.NodeSpec{
		{Name: "x", Kind: graph.OpPlaceholder, Attrs: map[string]any{"shape": []int{1, 4}}},
		{Name: "mystery", Kind: graph.OpAdd, Inputs: []string{"x", "x"}},
		{Name: "out", Kind: graph.OpReshape, Inputs: []string{"x"}, Attrs: map[string]any{"shape": []int{4}}},
	}, []string{"out"})
	require.NoError(t, err)
	order, err := executor.CompileStaticOrder(g)
	require.NoError(t, err)

	backend := &fakeBackend{compileErr: errors.New("transient backend failure")}
	adapter := NewAdapter(backend)

	err = adapter.CompileOnce(context.Background(), g, order, nil)
	require.Error(t, err)
	require.Equal(t, []string{"mystery"}, adapter.SkippedNodes())

	// The failed attempt's skips must not pile up on the retry.
	require.NoError(t, adapter.CompileOnce(context.Background(), g, order, nil))
	require.Equal(t, []string{"mystery"}, adapter.SkippedNodes())
}

func TestUnsupportedOutputPathFailsCompilation(t *testing.T) {
	g, err := graph.New([]graph.NodeSpec{
		{Name: "x", Kind: graph.OpPlaceholder, Attrs: map[string]any{"shape": []int{1, 4}}},
		{Name: "y", Kind: graph.OpAdd, Inputs: []string{"x", "x"}},
	}, []string{"y"})
	require.NoError(t, err)

	_, _, compileErr := compileGraph(t, g, nil)
	require.Equal(t, codes.Unimplemented, status.Code(compileErr))
}

func TestSingleInputSingleOutputEnforced(t *testing.T) {
	g, err := graph.New([]graph.NodeSpec{
		{Name: "a", Kind: graph.OpPlaceholder, Attrs: map[string]any{"shape": []int{1}}},
		{Name: "b", Kind: graph.OpPlaceholder, Attrs: map[string]any{"shape": []int{1}}},
		{Name: "out", Kind: graph.OpAdd, Inputs: []string{"a", "b"}},
	}, []string{"out"})
	require.NoError(t, err)

	_, _, compileErr := compileGraph(t, g, nil)
	require.Equal(t, codes.Unimplemented, status.Code(compileErr))
}

func TestRunThroughBackend(t *testing.T) {
	g, weights := convGraph(t, "same")
	adapter, backend, err := compileGraph(t, g, weights)
	require.NoError(t, err)

	input := tensor.MustNew(tensor.Float32, []int{1, 4, 4, 1}, make([]float32, 16))
	out, err := adapter.Run(context.Background(), input)
	require.NoError(t, err)

	exec := backend.models[0].exec
	require.Equal(t, 1, exec.runs)
	require.Same(t, input, exec.input)
	require.Equal(t, []int{1, 4, 4, 2}, out.Dims())
	for _, v := range out.Values() {
		require.Equal(t, float32(0.5), v)
	}
}

func TestRunBeforeCompileFails(t *testing.T) {
	adapter := NewAdapter(&fakeBackend{})
	_, err := adapter.Run(context.Background(), tensor.Scalar(1))
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}
