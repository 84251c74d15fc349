package accel

import (
	"fmt"
	"math"

	"github.com/nnexec/nnexec/pkg/graph"
)

// fusionMatch is the result of peephole-matching the subgraph hanging off a
// conv/pool node: an optional bias-add directly on its output, then an
// optional clamped activation directly on that.
type fusionMatch struct {
	// Bias is the bias-add node folded into the base operation, nil when
	// the base has no fused bias. BiasSource names the bias vector operand.
	Bias       *graph.Node
	BiasSource graph.InputRef

	// Activation is the clamp/relu node folded into the fuse code.
	Activation *graph.Node
	FuseCode   int32

	// Terminal is the last node of the fused chain; the base operation's
	// output operand is registered under its name.
	Terminal *graph.Node
}

// matchFusion walks the sole-consumer chain below base. outChannels is the
// base operation's output depth; a bias whose shape does not match it is a
// malformed graph and aborts compilation rather than emitting a wrong
// fused operation. operandDims resolves already-registered operand shapes.
func matchFusion(base *graph.Node, withBias bool, outChannels int, operandDims func(name string) ([]int, bool)) (fusionMatch, error) {
	m := fusionMatch{FuseCode: FuseNone, Terminal: base}

	tail := base
	if withBias && len(tail.Children) == 1 && tail.Children[0].Kind == graph.OpBiasAdd {
		biasNode := tail.Children[0]
		src, ok := biasOperand(biasNode, base)
		if !ok {
			return m, fmt.Errorf("bias-add node %q has no constant bias input", biasNode.Name)
		}
		dims, ok := operandDims(src.Node)
		if !ok {
			return m, fmt.Errorf("bias-add node %q: bias operand %q not registered", biasNode.Name, src.Node)
		}
		if len(dims) != 1 || dims[0] != outChannels {
			return m, fmt.Errorf("bias-add node %q: bias shape %v does not match output channels %d", biasNode.Name, dims, outChannels)
		}
		m.Bias = biasNode
		m.BiasSource = src
		m.Terminal = biasNode
		tail = biasNode
	}

	if len(tail.Children) == 1 {
		if code, ok := activationFuseCode(tail.Children[0]); ok {
			m.Activation = tail.Children[0]
			m.FuseCode = code
			m.Terminal = m.Activation
		}
	}

	return m, nil
}

// biasOperand picks the bias-add input that is not the base operation.
func biasOperand(biasNode *graph.Node, base *graph.Node) (graph.InputRef, bool) {
	for _, ref := range biasNode.Inputs {
		if ref.Node != base.Name {
			return ref, true
		}
	}
	return graph.InputRef{}, false
}

// activationFuseCode maps a relu or clamp node onto the backend's fused
// activation vocabulary. Clamp ranges outside the vocabulary do not fuse.
func activationFuseCode(n *graph.Node) (int32, bool) {
	switch n.Kind {
	case graph.OpRelu:
		return FuseRelu, true
	case graph.OpClamp:
		lo, _ := n.FloatAttr("min")
		hi, ok := n.FloatAttr("max")
		if !ok {
			hi = math.Inf(1)
		}
		switch {
		case lo == 0 && hi == 6:
			return FuseRelu6, true
		case lo == -1 && hi == 1:
			return FuseRelu1, true
		case lo == 0 && math.IsInf(hi, 1):
			return FuseRelu, true
		}
	}
	return FuseNone, false
}
