package graph

import (
	"testing"
)

func linearSpecs() []NodeSpec {
	return []NodeSpec{
		{Name: "x", Kind: OpPlaceholder},
		{Name: "five", Kind: OpConst, Attrs: map[string]any{"value": []float32{5}}},
		{Name: "y", Kind: OpAdd, Inputs: []string{"x", "five"}},
	}
}

func TestNewWiresChildren(t *testing.T) {
	g, err := New(linearSpecs(), []string{"y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	x, _ := g.Node("x")
	if len(x.Children) != 1 || x.Children[0].Name != "y" {
		t.Errorf("expected x -> y consumer edge, got %+v", x.Children)
	}
	if g.HasControlFlow() {
		t.Errorf("linear graph should not report control flow")
	}
	if got := g.PlaceholderNames(); len(got) != 1 || got[0] != "x" {
		t.Errorf("unexpected placeholders: %v", got)
	}
	if got := g.OutputNames(); len(got) != 1 || got[0] != "y" {
		t.Errorf("unexpected outputs: %v", got)
	}
}

func TestNewRejectsDanglingReference(t *testing.T) {
	specs := []NodeSpec{
		{Name: "x", Kind: OpPlaceholder},
		{Name: "y", Kind: OpAdd, Inputs: []string{"x", "ghost"}},
	}
	if _, err := New(specs, []string{"y"}); err == nil {
		t.Fatalf("expected error for dangling input reference")
	}
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	specs := []NodeSpec{
		{Name: "x", Kind: OpPlaceholder},
		{Name: "x", Kind: OpConst},
	}
	if _, err := New(specs, []string{"x"}); err == nil {
		t.Fatalf("expected error for duplicate node name")
	}
}

func TestNewRejectsPlaceholderWithInputs(t *testing.T) {
	specs := []NodeSpec{
		{Name: "x", Kind: OpPlaceholder},
		{Name: "y", Kind: OpPlaceholder, Inputs: []string{"x"}},
	}
	if _, err := New(specs, []string{"y"}); err == nil {
		t.Fatalf("expected error for placeholder with inputs")
	}
}

func TestNewRejectsUnknownOutput(t *testing.T) {
	if _, err := New(linearSpecs(), []string{"nope"}); err == nil {
		t.Fatalf("expected error for unknown output")
	}
}

func TestControlFlowFlag(t *testing.T) {
	specs := []NodeSpec{
		{Name: "x", Kind: OpPlaceholder},
		{Name: "e", Kind: OpEnter, Inputs: []string{"x"}, Attrs: map[string]any{"frame": "loop"}},
		{Name: "out", Kind: OpExit, Inputs: []string{"e"}},
	}
	g, err := New(specs, []string{"out"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.HasControlFlow() {
		t.Errorf("graph with enter/exit should report control flow")
	}
}

func TestParseInputRef(t *testing.T) {
	ref, err := ParseInputRef("sw:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Node != "sw" || ref.Port != 1 {
		t.Errorf("unexpected ref: %+v", ref)
	}
	if ref.String() != "sw:1" {
		t.Errorf("unexpected string: %q", ref.String())
	}

	ref, err = ParseInputRef("plain")
	if err != nil || ref.Node != "plain" || ref.Port != 0 {
		t.Errorf("unexpected ref for plain name: %+v err=%v", ref, err)
	}

	for _, bad := range []string{"", ":1", "n:x", "n:-1"} {
		if _, err := ParseInputRef(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
