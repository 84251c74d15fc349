package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// OpKind tags the operator a node applies. The vocabulary is fixed at
// graph-construction time; operator implementations live outside this package.
type OpKind string

const (
	OpPlaceholder OpKind = "placeholder"
	OpConst       OpKind = "const"
	OpWeight      OpKind = "weight"
	OpIdentity    OpKind = "identity"

	OpAdd     OpKind = "add"
	OpSub     OpKind = "sub"
	OpMul     OpKind = "mul"
	OpLess    OpKind = "less"
	OpGreater OpKind = "greater"
	OpRelu    OpKind = "relu"
	OpClamp   OpKind = "clamp"
	OpBiasAdd OpKind = "biasAdd"
	OpReshape OpKind = "reshape"
	OpSqueeze OpKind = "squeeze"
	OpSoftmax OpKind = "softmax"

	OpConv2D          OpKind = "conv2d"
	OpDepthwiseConv2D OpKind = "depthwiseConv2d"
	OpAvgPool         OpKind = "avgPool"

	// Control flow. Merge adopts the value of whichever input resolves
	// first; with well-formed branch graphs only one incoming edge is live
	// per execution, so first-resolved-wins is the intended join semantics.
	OpEnter         OpKind = "enter"
	OpExit          OpKind = "exit"
	OpMerge         OpKind = "merge"
	OpSwitch        OpKind = "switch"
	OpNextIteration OpKind = "nextIteration"
	OpLoopCond      OpKind = "loopCond"
)

func (k OpKind) IsControlFlow() bool {
	switch k {
	case OpEnter, OpExit, OpMerge, OpSwitch, OpNextIteration, OpLoopCond:
		return true
	}
	return false
}

// InputRef names a producing node and which of its outputs to read.
type InputRef struct {
	Node string
	Port int
}

// ParseInputRef parses "name" or "name:port".
func ParseInputRef(s string) (InputRef, error) {
	name, port, found := strings.Cut(s, ":")
	if name == "" {
		return InputRef{}, fmt.Errorf("empty input reference")
	}
	if !found {
		return InputRef{Node: name}, nil
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 {
		return InputRef{}, fmt.Errorf("invalid port in input reference %q", s)
	}
	return InputRef{Node: name, Port: p}, nil
}

func (r InputRef) String() string {
	if r.Port == 0 {
		return r.Node
	}
	return r.Node + ":" + strconv.Itoa(r.Port)
}

// Node is one operator application. Immutable after graph construction;
// owned exclusively by its Graph.
type Node struct {
	Name     string
	Kind     OpKind
	Inputs   []InputRef
	Children []*Node
	Attrs    map[string]any
}

// Attribute accessors tolerate the numeric types produced by JSON decoding.

func (n *Node) IntAttr(key string) (int, bool) {
	switch v := n.Attrs[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func (n *Node) FloatAttr(key string) (float64, bool) {
	switch v := n.Attrs[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (n *Node) StringAttr(key string) (string, bool) {
	v, ok := n.Attrs[key].(string)
	return v, ok
}

func (n *Node) IntsAttr(key string) ([]int, bool) {
	switch v := n.Attrs[key].(type) {
	case []int:
		return v, true
	case []any:
		out := make([]int, len(v))
		for i, e := range v {
			switch e := e.(type) {
			case int:
				out[i] = e
			case float64:
				out[i] = int(e)
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}

func (n *Node) FloatsAttr(key string) ([]float32, bool) {
	switch v := n.Attrs[key].(type) {
	case []float32:
		return v, true
	case []float64:
		out := make([]float32, len(v))
		for i, e := range v {
			out[i] = float32(e)
		}
		return out, true
	case []any:
		out := make([]float32, len(v))
		for i, e := range v {
			switch e := e.(type) {
			case float64:
				out[i] = float32(e)
			case int:
				out[i] = float32(e)
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}
