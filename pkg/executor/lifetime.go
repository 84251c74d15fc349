package executor

import (
	"github.com/nnexec/nnexec/pkg/tensor"
)

// identitySet tracks tensors by pointer identity. Weight tensors go into
// one set at construction time so they survive every call; inputs and
// requested outputs go into a per-call set.
type identitySet map[*tensor.Tensor]struct{}

func (s identitySet) add(ts ...*tensor.Tensor) {
	for _, t := range ts {
		if t != nil {
			s[t] = struct{}{}
		}
	}
}

func (s identitySet) contains(t *tensor.Tensor) bool {
	_, ok := s[t]
	return ok
}

// releaseIntermediates is the tensor lifetime policy: one unconditional
// linear scan over the environment at the end of a cleanup-style call,
// releasing every tensor that is not kept. A tensor that is both an
// intermediate and (by identity) an input, weight, or requested output is
// never released, and a tensor reachable under several frame keys is
// released at most once because Release is idempotent.
func releaseIntermediates(env *Environment, keep identitySet) int {
	released := 0
	env.Tensors(func(t *tensor.Tensor) {
		if keep.contains(t) || t.Released() {
			return
		}
		t.Release()
		released++
	})
	return released
}
