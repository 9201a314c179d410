package evaluator

import (
	"fmt"
	"time"

	"github.com/janekolszak/warp/pkg/executor"
)

// Defaults for Options.
const (
	DefaultMaxInteractionEvaluationTime = 60 * time.Second
	DefaultUnsafeClient                 = executor.PolicyThrow
)

// Options are the per-evaluation options. Each can be overridden per call.
type Options struct {
	// MaxInteractionEvaluationTime bounds a single Execute call. Zero
	// disables the bound.
	MaxInteractionEvaluationTime time.Duration

	// UnsafeClient is the policy for unsafe operations and unsafe code.
	UnsafeClient executor.Policy

	// ConfirmationBlocks excludes interactions from the most recent blocks.
	ConfirmationBlocks uint64

	// InternalWrites also replays interactions that write to the contract
	// through the Interact-Write tag.
	InternalWrites bool
}

// DefaultOptions returns the default evaluation options.
func DefaultOptions() Options {
	return Options{
		MaxInteractionEvaluationTime: DefaultMaxInteractionEvaluationTime,
		UnsafeClient:                 DefaultUnsafeClient,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.MaxInteractionEvaluationTime < 0 {
		return fmt.Errorf("negative max interaction evaluation time %s", o.MaxInteractionEvaluationTime)
	}
	if _, err := executor.ParsePolicy(string(o.UnsafeClient)); err != nil {
		return err
	}
	return nil
}

// fingerprint identifies options that produce the same evaluation.
func (o Options) fingerprint() string {
	return fmt.Sprintf("%d|%s|%d|%t",
		o.MaxInteractionEvaluationTime, o.UnsafeClient, o.ConfirmationBlocks, o.InternalWrites)
}

// CacheID returns the cache namespace for contractID's snapshots taken
// under o. The unsafe policy and internal writes change what an evaluation
// records, so each combination has its own namespace; the plain contract id
// holds the throw policy without internal writes.
func CacheID(contractID string, o Options) string {
	if o.UnsafeClient == executor.PolicyThrow && !o.InternalWrites {
		return contractID
	}
	id := contractID + "#" + string(o.UnsafeClient)
	if o.InternalWrites {
		id += "+internal"
	}
	return id
}

// CacheIDs returns every namespace CacheID can give contractID.
func CacheIDs(contractID string) []string {
	var ids []string
	for _, p := range []executor.Policy{executor.PolicyThrow, executor.PolicySkip, executor.PolicyAllow} {
		for _, internal := range []bool{false, true} {
			ids = append(ids, CacheID(contractID, Options{UnsafeClient: p, InternalWrites: internal}))
		}
	}
	return ids
}

// Override changes one option for a single evaluation.
type Override func(*Options)

// WithMaxInteractionEvaluationTime overrides the per-interaction time budget.
func WithMaxInteractionEvaluationTime(d time.Duration) Override {
	return func(o *Options) { o.MaxInteractionEvaluationTime = d }
}

// WithUnsafeClient overrides the unsafe client policy.
func WithUnsafeClient(p executor.Policy) Override {
	return func(o *Options) { o.UnsafeClient = p }
}

// WithConfirmationBlocks overrides the confirmation depth.
func WithConfirmationBlocks(n uint64) Override {
	return func(o *Options) { o.ConfirmationBlocks = n }
}

// WithInternalWrites overrides whether Interact-Write interactions are replayed.
func WithInternalWrites(enabled bool) Override {
	return func(o *Options) { o.InternalWrites = enabled }
}

// Apply returns o with overrides applied in order.
func (o Options) Apply(overrides ...Override) Options {
	for _, ov := range overrides {
		if ov != nil {
			ov(&o)
		}
	}
	return o
}
