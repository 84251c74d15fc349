package accel

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nnexec/nnexec/pkg/graph"
	"github.com/nnexec/nnexec/pkg/tensor"
)

// errNotCompilable marks a node whose operands are unavailable (an upstream
// node was skipped); the node is skipped in turn rather than aborting.
var errNotCompilable = errors.New("node is not compilable")

type compileState struct {
	builder  ModelBuilder
	operands map[string]operandInfo
	weights  map[string][]*tensor.Tensor

	// consumed marks nodes folded into a fused operation.
	consumed map[string]bool
}

// compileFunc is one compilation strategy; the table below is the closed
// dispatch over supported operator kinds.
type compileFunc func(st *compileState, n *graph.Node) error

var compileTable map[graph.OpKind]compileFunc

func init() {
	compileTable = map[graph.OpKind]compileFunc{
		graph.OpPlaceholder:     compilePlaceholder,
		graph.OpConst:           compileConst,
		graph.OpWeight:          compileWeight,
		graph.OpConv2D:          compileConv2D,
		graph.OpDepthwiseConv2D: compileDepthwiseConv2D,
		graph.OpAvgPool:         compileAvgPool,
		graph.OpReshape:         compileReshape,
		graph.OpSqueeze:         compileSqueeze,
		graph.OpSoftmax:         compileSoftmax,
	}
}

func (st *compileState) addOperand(name string, dtype tensor.DType, dims []int) (operandInfo, error) {
	index, err := st.builder.AddOperand(OperandType{DType: dtype, Dims: dims})
	if err != nil {
		return operandInfo{}, status.Errorf(codes.Internal, "adding operand for %q: %v", name, err)
	}
	info := operandInfo{index: index, dtype: dtype, dims: dims}
	if name != "" {
		st.operands[name] = info
	}
	return info, nil
}

func (st *compileState) addScalarInt32(v int32) (int, error) {
	info, err := st.addOperand("", tensor.Int32, nil)
	if err != nil {
		return 0, err
	}
	if err := st.builder.SetOperandValue(info.index, v); err != nil {
		return 0, status.Errorf(codes.Internal, "setting scalar operand: %v", err)
	}
	return info.index, nil
}

func (st *compileState) addScalarFloat32(v float32) (int, error) {
	info, err := st.addOperand("", tensor.Float32, nil)
	if err != nil {
		return 0, err
	}
	if err := st.builder.SetOperandValue(info.index, v); err != nil {
		return 0, status.Errorf(codes.Internal, "setting scalar operand: %v", err)
	}
	return info.index, nil
}

func (st *compileState) operandDims(name string) ([]int, bool) {
	info, ok := st.operands[name]
	return info.dims, ok
}

func (st *compileState) inputOperand(n *graph.Node, i int) (operandInfo, error) {
	if i >= len(n.Inputs) {
		return operandInfo{}, status.Errorf(codes.InvalidArgument, "node %q has no input %d", n.Name, i)
	}
	info, ok := st.operands[n.Inputs[i].Node]
	if !ok {
		return operandInfo{}, fmt.Errorf("node %q: input %q: %w", n.Name, n.Inputs[i].Node, errNotCompilable)
	}
	return info, nil
}

func compilePlaceholder(st *compileState, n *graph.Node) error {
	dims, ok := n.IntsAttr("shape")
	if !ok {
		return status.Errorf(codes.InvalidArgument, "placeholder %q has no shape attribute", n.Name)
	}
	_, err := st.addOperand(n.Name, tensor.Float32, dims)
	return err
}

func compileConst(st *compileState, n *graph.Node) error {
	values, ok := n.FloatsAttr("value")
	if !ok {
		return status.Errorf(codes.InvalidArgument, "const node %q has no value attribute", n.Name)
	}
	dims, ok := n.IntsAttr("dims")
	if !ok {
		dims = []int{len(values)}
	}
	info, err := st.addOperand(n.Name, tensor.Float32, dims)
	if err != nil {
		return err
	}
	if err := st.builder.SetOperandValue(info.index, values); err != nil {
		return status.Errorf(codes.Internal, "setting const operand %q: %v", n.Name, err)
	}
	return nil
}

func compileWeight(st *compileState, n *graph.Node) error {
	ts, ok := st.weights[n.Name]
	if !ok || len(ts) == 0 || ts[0] == nil {
		return status.Errorf(codes.InvalidArgument, "weight node %q has no tensor in the weight store", n.Name)
	}
	w := ts[0]
	info, err := st.addOperand(n.Name, w.DType(), w.Dims())
	if err != nil {
		return err
	}
	if err := st.builder.SetOperandValue(info.index, w.Values()); err != nil {
		return status.Errorf(codes.Internal, "setting weight operand %q: %v", n.Name, err)
	}
	return nil
}

// convParams validates the attributes shared by the convolution kinds.
type convParams struct {
	strideH, strideW int
	paddingCode      int32
	paddingMode      string
}

func convAttrs(n *graph.Node) (convParams, error) {
	var p convParams
	strides, ok := n.IntsAttr("strides")
	if !ok || len(strides) != 2 {
		return p, status.Errorf(codes.InvalidArgument, "node %q: strides attribute must be [h w]", n.Name)
	}
	p.strideH, p.strideW = strides[0], strides[1]

	padding, _ := n.StringAttr("padding")
	switch padding {
	case "same":
		p.paddingCode = PaddingSame
	case "valid":
		p.paddingCode = PaddingValid
	default:
		return p, status.Errorf(codes.Unimplemented, "node %q: unsupported padding mode %q", n.Name, padding)
	}
	p.paddingMode = padding

	if layout, ok := n.StringAttr("dataFormat"); ok && layout != "NHWC" {
		return p, status.Errorf(codes.Unimplemented, "node %q: unsupported data layout %q", n.Name, layout)
	}
	if dilations, ok := n.IntsAttr("dilations"); ok {
		for _, d := range dilations {
			if d != 1 {
				return p, status.Errorf(codes.Unimplemented, "node %q: unsupported dilations %v", n.Name, dilations)
			}
		}
	}
	return p, nil
}

// spatialOutput computes one spatial output extent for implicit padding.
func spatialOutput(in, kernel, stride int, padding string) int {
	if padding == "same" {
		return (in + stride - 1) / stride
	}
	return (in - kernel + stride) / stride
}

func compileConv2D(st *compileState, n *graph.Node) error {
	in, err := st.inputOperand(n, 0)
	if err != nil {
		return err
	}
	filter, err := st.inputOperand(n, 1)
	if err != nil {
		return err
	}
	if len(in.dims) != 4 || len(filter.dims) != 4 {
		return status.Errorf(codes.InvalidArgument, "node %q: conv2d requires rank-4 input and filter, got %v and %v", n.Name, in.dims, filter.dims)
	}
	params, err := convAttrs(n)
	if err != nil {
		return err
	}

	// Filter layout [outC kh kw inC].
	outC, kh, kw := filter.dims[0], filter.dims[1], filter.dims[2]
	fusion, err := matchFusion(n, true, outC, st.operandDims)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "node %q: %v", n.Name, err)
	}

	biasIndex, err := st.biasIndex(fusion, outC)
	if err != nil {
		return err
	}

	outDims := []int{
		in.dims[0],
		spatialOutput(in.dims[1], kh, params.strideH, params.paddingMode),
		spatialOutput(in.dims[2], kw, params.strideW, params.paddingMode),
		outC,
	}
	return st.emitConvLike(n, OperationConv2D, in, filter.index, biasIndex, params, fusion, outDims, nil)
}

func compileDepthwiseConv2D(st *compileState, n *graph.Node) error {
	in, err := st.inputOperand(n, 0)
	if err != nil {
		return err
	}
	filter, err := st.inputOperand(n, 1)
	if err != nil {
		return err
	}
	if len(in.dims) != 4 || len(filter.dims) != 4 {
		return status.Errorf(codes.InvalidArgument, "node %q: depthwise conv requires rank-4 input and filter, got %v and %v", n.Name, in.dims, filter.dims)
	}
	params, err := convAttrs(n)
	if err != nil {
		return err
	}

	// Filter layout [1 kh kw outC]; outC = inC * channel multiplier.
	kh, kw, outC := filter.dims[1], filter.dims[2], filter.dims[3]
	inC := in.dims[3]
	if inC == 0 || outC%inC != 0 {
		return status.Errorf(codes.InvalidArgument, "node %q: filter depth %d is not a multiple of input depth %d", n.Name, outC, inC)
	}
	multiplier := int32(outC / inC)

	fusion, err := matchFusion(n, true, outC, st.operandDims)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "node %q: %v", n.Name, err)
	}
	biasIndex, err := st.biasIndex(fusion, outC)
	if err != nil {
		return err
	}

	outDims := []int{
		in.dims[0],
		spatialOutput(in.dims[1], kh, params.strideH, params.paddingMode),
		spatialOutput(in.dims[2], kw, params.strideW, params.paddingMode),
		outC,
	}
	return st.emitConvLike(n, OperationDepthwiseConv2D, in, filter.index, biasIndex, params, fusion, outDims, &multiplier)
}

// biasIndex returns the fused bias operand, synthesizing a zero bias when
// the graph carries none (the backend requires the operand regardless).
func (st *compileState) biasIndex(fusion fusionMatch, outC int) (int, error) {
	if fusion.Bias != nil {
		return st.operands[fusion.BiasSource.Node].index, nil
	}
	info, err := st.addOperand("", tensor.Float32, []int{outC})
	if err != nil {
		return 0, err
	}
	if err := st.builder.SetOperandValue(info.index, make([]float32, outC)); err != nil {
		return 0, status.Errorf(codes.Internal, "setting zero bias operand: %v", err)
	}
	return info.index, nil
}

// emitConvLike adds the scalar parameter operands and the operation itself,
// then registers the output operand under the fused chain's terminal node.
func (st *compileState) emitConvLike(n *graph.Node, kind OperationKind, in operandInfo, filterIndex, biasIndex int, params convParams, fusion fusionMatch, outDims []int, multiplier *int32) error {
	padIdx, err := st.addScalarInt32(params.paddingCode)
	if err != nil {
		return err
	}
	strideWIdx, err := st.addScalarInt32(int32(params.strideW))
	if err != nil {
		return err
	}
	strideHIdx, err := st.addScalarInt32(int32(params.strideH))
	if err != nil {
		return err
	}
	inputs := []int{in.index, filterIndex, biasIndex, padIdx, strideWIdx, strideHIdx}
	if multiplier != nil {
		multIdx, err := st.addScalarInt32(*multiplier)
		if err != nil {
			return err
		}
		inputs = append(inputs, multIdx)
	}
	fuseIdx, err := st.addScalarInt32(fusion.FuseCode)
	if err != nil {
		return err
	}
	inputs = append(inputs, fuseIdx)

	out, err := st.addOperand(fusion.Terminal.Name, tensor.Float32, outDims)
	if err != nil {
		return err
	}
	st.markConsumed(fusion)
	if err := st.builder.AddOperation(kind, inputs, []int{out.index}); err != nil {
		return status.Errorf(codes.Internal, "adding %s operation for %q: %v", kind, n.Name, err)
	}
	return nil
}

func (st *compileState) markConsumed(fusion fusionMatch) {
	if fusion.Bias != nil {
		st.consumed[fusion.Bias.Name] = true
	}
	if fusion.Activation != nil {
		st.consumed[fusion.Activation.Name] = true
	}
}

func compileAvgPool(st *compileState, n *graph.Node) error {
	in, err := st.inputOperand(n, 0)
	if err != nil {
		return err
	}
	if len(in.dims) != 4 {
		return status.Errorf(codes.InvalidArgument, "node %q: avgPool requires rank-4 input, got %v", n.Name, in.dims)
	}
	params, err := convAttrs(n)
	if err != nil {
		return err
	}
	ksize, ok := n.IntsAttr("ksize")
	if !ok || len(ksize) != 2 {
		return status.Errorf(codes.InvalidArgument, "node %q: ksize attribute must be [h w]", n.Name)
	}

	// Pooling fuses an activation but never a bias.
	fusion, err := matchFusion(n, false, 0, st.operandDims)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "node %q: %v", n.Name, err)
	}

	padIdx, err := st.addScalarInt32(params.paddingCode)
	if err != nil {
		return err
	}
	strideWIdx, err := st.addScalarInt32(int32(params.strideW))
	if err != nil {
		return err
	}
	strideHIdx, err := st.addScalarInt32(int32(params.strideH))
	if err != nil {
		return err
	}
	kwIdx, err := st.addScalarInt32(int32(ksize[1]))
	if err != nil {
		return err
	}
	khIdx, err := st.addScalarInt32(int32(ksize[0]))
	if err != nil {
		return err
	}
	fuseIdx, err := st.addScalarInt32(fusion.FuseCode)
	if err != nil {
		return err
	}

	outDims := []int{
		in.dims[0],
		spatialOutput(in.dims[1], ksize[0], params.strideH, params.paddingMode),
		spatialOutput(in.dims[2], ksize[1], params.strideW, params.paddingMode),
		in.dims[3],
	}
	out, err := st.addOperand(fusion.Terminal.Name, tensor.Float32, outDims)
	if err != nil {
		return err
	}
	st.markConsumed(fusion)
	if err := st.builder.AddOperation(OperationAvgPool2D, []int{in.index, padIdx, strideWIdx, strideHIdx, kwIdx, khIdx, fuseIdx}, []int{out.index}); err != nil {
		return status.Errorf(codes.Internal, "adding pool operation for %q: %v", n.Name, err)
	}
	return nil
}

func compileReshape(st *compileState, n *graph.Node) error {
	in, err := st.inputOperand(n, 0)
	if err != nil {
		return err
	}
	shape, ok := n.IntsAttr("shape")
	if !ok {
		return status.Errorf(codes.InvalidArgument, "reshape node %q has no shape attribute", n.Name)
	}
	return st.emitReshape(n, in, shape)
}

// compileSqueeze lowers to a reshape that drops unit dimensions.
func compileSqueeze(st *compileState, n *graph.Node) error {
	in, err := st.inputOperand(n, 0)
	if err != nil {
		return err
	}
	var shape []int
	for _, d := range in.dims {
		if d != 1 {
			shape = append(shape, d)
		}
	}
	return st.emitReshape(n, in, shape)
}

func (st *compileState) emitReshape(n *graph.Node, in operandInfo, shape []int) error {
	shapeInfo, err := st.addOperand("", tensor.Int32, []int{len(shape)})
	if err != nil {
		return err
	}
	shape32 := make([]int32, len(shape))
	for i, d := range shape {
		shape32[i] = int32(d)
	}
	if err := st.builder.SetOperandValue(shapeInfo.index, shape32); err != nil {
		return status.Errorf(codes.Internal, "setting shape operand for %q: %v", n.Name, err)
	}
	out, err := st.addOperand(n.Name, in.dtype, shape)
	if err != nil {
		return err
	}
	if err := st.builder.AddOperation(OperationReshape, []int{in.index, shapeInfo.index}, []int{out.index}); err != nil {
		return status.Errorf(codes.Internal, "adding reshape operation for %q: %v", n.Name, err)
	}
	return nil
}

func compileSoftmax(st *compileState, n *graph.Node) error {
	in, err := st.inputOperand(n, 0)
	if err != nil {
		return err
	}
	betaIdx, err := st.addScalarFloat32(1.0)
	if err != nil {
		return err
	}
	out, err := st.addOperand(n.Name, tensor.Float32, in.dims)
	if err != nil {
		return err
	}
	if err := st.builder.AddOperation(OperationSoftmax, []int{in.index, betaIdx}, []int{out.index}); err != nil {
		return status.Errorf(codes.Internal, "adding softmax operation for %q: %v", n.Name, err)
	}
	return nil
}
