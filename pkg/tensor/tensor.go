package tensor

import (
	"fmt"
	"slices"
)

type DType string

const (
	Float32 DType = "float32"
	Int32   DType = "int32"
	Bool    DType = "bool"
)

// Tensor is a dense value with an explicit storage lifetime. All element
// types are stored as float32 (bool as 0/1); DType records the logical type.
type Tensor struct {
	dtype    DType
	dims     []int
	values   []float32
	released bool
}

func New(dtype DType, dims []int, values []float32) (*Tensor, error) {
	n := 1
	for _, d := range dims {
		if d < 0 {
			return nil, fmt.Errorf("invalid dimension %d", d)
		}
		n *= d
	}
	if n != len(values) {
		return nil, fmt.Errorf("dims %v imply %d elements, got %d values", dims, n, len(values))
	}
	return &Tensor{dtype: dtype, dims: slices.Clone(dims), values: values}, nil
}

// MustNew is a convenience for constructing tensors from literals.
func MustNew(dtype DType, dims []int, values []float32) *Tensor {
	t, err := New(dtype, dims, values)
	if err != nil {
		panic(err)
	}
	return t
}

func Scalar(v float32) *Tensor {
	return &Tensor{dtype: Float32, dims: []int{}, values: []float32{v}}
}

func ScalarBool(v bool) *Tensor {
	f := float32(0)
	if v {
		f = 1
	}
	return &Tensor{dtype: Bool, dims: []int{}, values: []float32{f}}
}

func (t *Tensor) DType() DType { return t.dtype }

func (t *Tensor) Dims() []int { return t.dims }

// Values returns the backing storage. Nil after Release.
func (t *Tensor) Values() []float32 { return t.values }

func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.dims {
		n *= d
	}
	return n
}

// Bool reads a scalar predicate value.
func (t *Tensor) Bool() bool {
	return len(t.values) > 0 && t.values[0] != 0
}

// Release drops the backing storage. Releasing twice is a no-op.
func (t *Tensor) Release() {
	t.values = nil
	t.released = true
}

func (t *Tensor) Released() bool { return t.released }

func (t *Tensor) Clone() *Tensor {
	return &Tensor{dtype: t.dtype, dims: slices.Clone(t.dims), values: slices.Clone(t.values)}
}
