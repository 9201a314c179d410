package evaluator

import (
	"context"
	"slices"

	"github.com/janekolszak/warp/pkg/sortkey"
)

// frame is one (contract, bound) evaluation in progress.
type frame struct {
	contractID string
	bound      sortkey.Key
}

// callStack is the set of evaluations in progress on the current nested
// read chain. It is immutable; push returns a new stack.
type callStack struct {
	frames []frame
}

type stackKey struct{}

func stackFrom(ctx context.Context) *callStack {
	if s, ok := ctx.Value(stackKey{}).(*callStack); ok {
		return s
	}
	return &callStack{}
}

func (s *callStack) contains(f frame) bool {
	return slices.Contains(s.frames, f)
}

func (s *callStack) push(f frame) *callStack {
	frames := make([]frame, len(s.frames), len(s.frames)+1)
	copy(frames, s.frames)
	return &callStack{frames: append(frames, f)}
}

func (s *callStack) depth() int {
	return len(s.frames)
}

func withStack(ctx context.Context, s *callStack) context.Context {
	return context.WithValue(ctx, stackKey{}, s)
}

// frameSet holds the frames a nested read found already on the stack. Every
// interaction between the detection and the frame it names took part in the
// cycle; the set travels upward until that frame's reader consumes it.
type frameSet map[frame]struct{}

func (s frameSet) add(f frame) frameSet {
	if s == nil {
		s = make(frameSet)
	}
	s[f] = struct{}{}
	return s
}

func (s frameSet) merge(o frameSet) frameSet {
	for f := range o {
		s = s.add(f)
	}
	return s
}
