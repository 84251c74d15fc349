package executor

import (
	"github.com/nnexec/nnexec/pkg/graph"
	"github.com/nnexec/nnexec/pkg/tensor"
)

type envKey struct {
	node  string
	frame int64
}

// Environment is the per-call mapping from node name to produced tensors,
// frame-qualified so the same node can hold distinct values across loop
// iterations. It exclusively owns intermediate tensors; seeded inputs and
// weights are borrowed and must never be released here.
type Environment struct {
	values map[envKey][]*tensor.Tensor

	// latest tracks the most recently recorded value per node name,
	// regardless of frame. Requested outputs are read from here, which is
	// what lets callers name intermediates produced inside frames.
	latest map[string][]*tensor.Tensor
}

func NewEnvironment() *Environment {
	return &Environment{
		values: make(map[envKey][]*tensor.Tensor),
		latest: make(map[string][]*tensor.Tensor),
	}
}

// Seed records a borrowed value (input or weight) under the root frame.
func (e *Environment) Seed(name string, ts []*tensor.Tensor) {
	e.values[envKey{node: name, frame: 0}] = ts
	e.latest[name] = ts
}

// Record stores a node's outputs under the given frame.
func (e *Environment) Record(name string, f *FrameState, ts []*tensor.Tensor) {
	e.values[envKey{node: name, frame: f.id}] = ts
	e.latest[name] = ts
}

// Has reports whether the node produced a value in exactly the given frame.
func (e *Environment) Has(name string, f *FrameState) bool {
	_, ok := e.values[envKey{node: name, frame: f.id}]
	return ok
}

// Lookup resolves a bare node name under the active frame stack: the
// innermost frame that holds a value wins, so loop bodies see loop-local
// values first and fall back to enclosing scopes for loop invariants.
func (e *Environment) Lookup(name string, f *FrameState) ([]*tensor.Tensor, bool) {
	for ; f != nil; f = f.parent {
		if ts, ok := e.values[envKey{node: name, frame: f.id}]; ok {
			return ts, true
		}
	}
	return nil, false
}

// Resolve reads one input edge. A recorded-but-nil port (the dead side of a
// switch) does not resolve.
func (e *Environment) Resolve(ref graph.InputRef, f *FrameState) (*tensor.Tensor, bool) {
	ts, ok := e.Lookup(ref.Node, f)
	if !ok || ref.Port >= len(ts) || ts[ref.Port] == nil {
		return nil, false
	}
	return ts[ref.Port], true
}

// Latest returns the most recently recorded value for a node name.
func (e *Environment) Latest(name string) ([]*tensor.Tensor, bool) {
	ts, ok := e.latest[name]
	return ts, ok
}

// Tensors iterates every tensor held by the environment.
func (e *Environment) Tensors(fn func(t *tensor.Tensor)) {
	for _, ts := range e.values {
		for _, t := range ts {
			if t != nil {
				fn(t)
			}
		}
	}
}
