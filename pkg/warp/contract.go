package warp

import (
	"context"
	"slices"
	"sync"

	"github.com/janekolszak/warp/pkg/cache"
	"github.com/janekolszak/warp/pkg/evaluator"
	"github.com/janekolszak/warp/pkg/sortkey"
)

// Contract is a handle for reading one contract's state.
type Contract struct {
	w  *Warp
	id string

	mu        sync.RWMutex
	overrides []evaluator.Override
}

// ID returns the contract id.
func (c *Contract) ID() string {
	return c.id
}

// SetEvaluationOptions replaces the handle's option overrides. They apply
// on top of the client defaults for every later ReadState. Snapshots taken
// under an overridden unsafe policy or internal writes setting are cached
// apart from the defaults' snapshots.
func (c *Contract) SetEvaluationOptions(overrides ...evaluator.Override) *Contract {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides = slices.Clone(overrides)
	return c
}

// EvaluationOptions returns the effective options of the handle.
func (c *Contract) EvaluationOptions() evaluator.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.w.evaluator.Defaults().Apply(c.overrides...)
}

// ReadState evaluates the contract up to bound. An empty bound reads the
// latest confirmed state.
func (c *Contract) ReadState(ctx context.Context, bound sortkey.Key) (*cache.CachedValue, error) {
	c.mu.RLock()
	overrides := slices.Clone(c.overrides)
	c.mu.RUnlock()
	return c.w.evaluator.Evaluate(ctx, c.id, bound, overrides...)
}
