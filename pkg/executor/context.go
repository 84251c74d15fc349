package executor

import (
	"fmt"
	"strconv"
	"strings"
)

// FrameState identifies one activation of a control-flow scope: a
// (frame name, iteration index) pair plus the chain of enclosing
// activations. Each activation gets a unique id, so tensors recorded under
// different iterations can never collide, and the id is what environment
// keys hash on (never a formatted string).
type FrameState struct {
	name   string
	iter   int
	id     int64
	parent *FrameState
}

func (f *FrameState) ID() int64 { return f.id }

func (f *FrameState) Parent() *FrameState { return f.parent }

func (f *FrameState) String() string {
	if f.parent == nil {
		return "/"
	}
	var sb strings.Builder
	f.write(&sb)
	return sb.String()
}

func (f *FrameState) write(sb *strings.Builder) {
	if f.parent != nil {
		f.parent.write(sb)
		sb.WriteByte('/')
		sb.WriteString(f.name)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(f.iter))
	}
}

type activationKey struct {
	parent int64
	name   string
	iter   int
}

// ExecContext tracks the active frame stack for one execution call. It is
// created per call and never shared across concurrent executions.
type ExecContext struct {
	root    *FrameState
	current *FrameState

	nextID      int64
	activations map[activationKey]*FrameState
}

func NewExecContext() *ExecContext {
	root := &FrameState{id: 0}
	return &ExecContext{
		root:        root,
		current:     root,
		nextID:      1,
		activations: make(map[activationKey]*FrameState),
	}
}

func (c *ExecContext) Root() *FrameState { return c.root }

func (c *ExecContext) Current() *FrameState { return c.current }

// Snapshot captures the active frame stack so a scheduler work item can be
// replayed under the frames it was discovered in.
func (c *ExecContext) Snapshot() *FrameState { return c.current }

// Restore resets the active frame stack to a prior snapshot.
func (c *ExecContext) Restore(s *FrameState) { c.current = s }

// activation returns the frame for (parent, name, iter), creating it on
// first use so repeated entries of the same iteration share one identity.
func (c *ExecContext) activation(parent *FrameState, name string, iter int) *FrameState {
	key := activationKey{parent: parent.id, name: name, iter: iter}
	if f, ok := c.activations[key]; ok {
		return f
	}
	f := &FrameState{name: name, iter: iter, id: c.nextID, parent: parent}
	c.nextID++
	c.activations[key] = f
	return f
}

// EnterFrame pushes iteration 0 of the named scope.
func (c *ExecContext) EnterFrame(name string) {
	c.current = c.activation(c.current, name, 0)
}

// NextIteration replaces the current frame with the next iteration of the
// same scope. Values recorded under iteration i stay invisible to i+1
// unless explicitly threaded through a loop-carried edge.
func (c *ExecContext) NextIteration() error {
	if c.current.parent == nil {
		return fmt.Errorf("nextIteration outside of a frame")
	}
	c.current = c.activation(c.current.parent, c.current.name, c.current.iter+1)
	return nil
}

// ExitFrame pops the current frame.
func (c *ExecContext) ExitFrame() error {
	if c.current.parent == nil {
		return fmt.Errorf("exit outside of a frame")
	}
	c.current = c.current.parent
	return nil
}
