// Package accel translates a control-flow-free graph into an external
// backend's flat operand/operation model once, then executes repeated
// inferences through the backend's cached execution instance. The backend
// is an injected capability, never ambient state.
package accel

import (
	"context"

	"github.com/nnexec/nnexec/pkg/tensor"
)

// OperandType describes one slot of the backend's flat operand table.
// Scalars use an empty Dims.
type OperandType struct {
	DType tensor.DType
	Dims  []int
}

// OperationKind is the backend's fixed operation vocabulary.
type OperationKind string

const (
	OperationConv2D          OperationKind = "CONV_2D"
	OperationDepthwiseConv2D OperationKind = "DEPTHWISE_CONV_2D"
	OperationAvgPool2D       OperationKind = "AVERAGE_POOL_2D"
	OperationReshape         OperationKind = "RESHAPE"
	OperationSoftmax         OperationKind = "SOFTMAX"
)

// Fused activation codes.
const (
	FuseNone  int32 = 0
	FuseRelu  int32 = 1
	FuseRelu1 int32 = 2
	FuseRelu6 int32 = 3
)

// Implicit padding codes.
const (
	PaddingSame  int32 = 1
	PaddingValid int32 = 2
)

// Backend is the external graph-execution service.
type Backend interface {
	CreateModel(ctx context.Context) (ModelBuilder, error)
}

// ModelBuilder accumulates operands and operations for one compiled model.
// Operand values accept []float32, []int32, int32, or float32 depending on
// the operand's type.
type ModelBuilder interface {
	AddOperand(ty OperandType) (int, error)
	SetOperandValue(index int, value any) error
	AddOperation(kind OperationKind, inputs []int, outputs []int) error
	IdentifyInputsAndOutputs(inputs []int, outputs []int) error
	Finish() error
	Compile(ctx context.Context) (Compilation, error)
}

type Compilation interface {
	CreateExecution(ctx context.Context) (Execution, error)
}

// Execution is a prepared inference instance. It is not reentrant; the
// adapter serializes access.
type Execution interface {
	SetInput(index int, t *tensor.Tensor) error
	// SetOutput binds a destination tensor; Run fills its storage.
	SetOutput(index int, t *tensor.Tensor) error
	Run(ctx context.Context) error
}
