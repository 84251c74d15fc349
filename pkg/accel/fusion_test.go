package accel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nnexec/nnexec/pkg/graph"
)

func fusedChain(t *testing.T, actAttrs map[string]any) *graph.Graph {
	t.Helper()
	g, err := graph.New([]graph.NodeSpec{
		{Name: "x", Kind: graph.OpPlaceholder},
		{Name: "filter", Kind: graph.OpWeight},
		{Name: "bias", Kind: graph.OpWeight},
		{Name: "conv", Kind: graph.OpConv2D, Inputs: []string{"x", "filter"}},
		{Name: "badd", Kind: graph.OpBiasAdd, Inputs: []string{"conv", "bias"}},
		{Name: "act", Kind: graph.OpClamp, Inputs: []string{"badd"}, Attrs: actAttrs},
	}, []string{"act"})
	require.NoError(t, err)
	return g
}

func biasDims(dims []int) func(string) ([]int, bool) {
	return func(name string) ([]int, bool) {
		if name == "bias" {
			return dims, true
		}
		return nil, false
	}
}

func TestMatchFusionBiasAndActivation(t *testing.T) {
	g := fusedChain(t, map[string]any{"min": 0.0, "max": 6.0})
	conv, _ := g.Node("conv")

	m, err := matchFusion(conv, true, 2, biasDims([]int{2}))
	require.NoError(t, err)
	require.NotNil(t, m.Bias)
	require.Equal(t, "bias", m.BiasSource.Node)
	require.Equal(t, FuseRelu6, m.FuseCode)
	require.Equal(t, "act", m.Terminal.Name)
}

func TestMatchFusionRejectsBiasShapeMismatch(t *testing.T) {
	g := fusedChain(t, map[string]any{"min": 0.0, "max": 6.0})
	conv, _ := g.Node("conv")

	_, err := matchFusion(conv, true, 4, biasDims([]int{2}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "output channels")
}

func TestMatchFusionWithoutBias(t *testing.T) {
	// Pooling never folds a bias; a trailing bias-add breaks the chain.
	g := fusedChain(t, map[string]any{"min": 0.0, "max": 6.0})
	conv, _ := g.Node("conv")

	m, err := matchFusion(conv, false, 0, biasDims([]int{2}))
	require.NoError(t, err)
	require.Nil(t, m.Bias)
	require.Equal(t, FuseNone, m.FuseCode)
	require.Equal(t, "conv", m.Terminal.Name)
}

func TestMatchFusionOutOfVocabularyClamp(t *testing.T) {
	// A clamp range the backend cannot express stays a separate node.
	g := fusedChain(t, map[string]any{"min": 2.0, "max": 5.0})
	conv, _ := g.Node("conv")

	m, err := matchFusion(conv, true, 2, biasDims([]int{2}))
	require.NoError(t, err)
	require.NotNil(t, m.Bias)
	require.Equal(t, FuseNone, m.FuseCode)
	require.Equal(t, "badd", m.Terminal.Name)
}

func TestActivationFuseCodes(t *testing.T) {
	cases := []struct {
		name  string
		node  *graph.Node
		code  int32
		fused bool
	}{
		{"relu", &graph.Node{Kind: graph.OpRelu}, FuseRelu, true},
		{"relu6", &graph.Node{Kind: graph.OpClamp, Attrs: map[string]any{"min": 0.0, "max": 6.0}}, FuseRelu6, true},
		{"relu1", &graph.Node{Kind: graph.OpClamp, Attrs: map[string]any{"min": -1.0, "max": 1.0}}, FuseRelu1, true},
		{"unbounded clamp at zero", &graph.Node{Kind: graph.OpClamp, Attrs: map[string]any{"min": 0.0}}, FuseRelu, true},
		{"arbitrary clamp", &graph.Node{Kind: graph.OpClamp, Attrs: map[string]any{"min": 2.0, "max": 5.0}}, FuseNone, false},
		{"non-activation", &graph.Node{Kind: graph.OpSoftmax}, FuseNone, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, ok := activationFuseCode(tc.node)
			require.Equal(t, tc.fused, ok)
			require.Equal(t, tc.code, code)
		})
	}
}
