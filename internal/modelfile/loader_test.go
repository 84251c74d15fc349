package modelfile

import (
	"os"
	"path/filepath"
	"testing"
)

const bundle = `{
  "nodes": [
    {"name": "x", "op": "placeholder"},
    {"name": "w", "op": "weight"},
    {"name": "y", "op": "mul", "inputs": ["x", "w"]}
  ],
  "outputs": ["y"],
  "weights": {
    "w": {"dims": [2], "values": [1.5, 2.5]}
  }
}`

func TestParse(t *testing.T) {
	g, weights, err := Parse([]byte(bundle))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := g.OutputNames(); len(got) != 1 || got[0] != "y" {
		t.Errorf("unexpected outputs %v", got)
	}
	w := weights["w"]
	if len(w) != 1 || len(w[0].Values()) != 2 || w[0].Values()[1] != 2.5 {
		t.Errorf("unexpected weight %+v", w)
	}
}

func TestParseRejectsOrphanWeight(t *testing.T) {
	data := `{
  "nodes": [{"name": "x", "op": "placeholder"}],
  "outputs": ["x"],
  "weights": {"ghost": {"dims": [1], "values": [1]}}
}`
	if _, _, err := Parse([]byte(data)); err == nil {
		t.Fatalf("expected error for weight without a matching node")
	}
}

func TestParseRejectsBadGraph(t *testing.T) {
	data := `{
  "nodes": [{"name": "y", "op": "add", "inputs": ["ghost", "ghost"]}],
  "outputs": ["y"]
}`
	if _, _, err := Parse([]byte(data)); err == nil {
		t.Fatalf("expected error for dangling input reference")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(bundle), 0o644); err != nil {
		t.Fatalf("writing bundle: %v", err)
	}
	g, _, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := g.PlaceholderNames(); len(got) != 1 || got[0] != "x" {
		t.Errorf("unexpected placeholders %v", got)
	}

	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
