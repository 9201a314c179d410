package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/janekolszak/warp/pkg/cache"
	"github.com/janekolszak/warp/pkg/contract"
	"github.com/janekolszak/warp/pkg/executor"
	"github.com/janekolszak/warp/pkg/executor/handler"
	"github.com/janekolszak/warp/pkg/interaction"
	"github.com/janekolszak/warp/pkg/loader"
	"github.com/janekolszak/warp/pkg/state"
	"github.com/janekolszak/warp/pkg/types"
	wtesting "github.com/janekolszak/warp/testing"
)

// Code versions registered in every fixture.
const (
	srcCounter = "src-counter"
	srcDouble  = "src-double"
	srcUnsafe  = "src-unsafe"
)

type input struct {
	Function string `json:"function"`
	Target   string `json:"target,omitempty"`
	Value    string `json:"value,omitempty"`
}

func call(fn string) string {
	return string(state.MustEncode(input{Function: fn}))
}

func callWith(fn, target, value string) string {
	return string(state.MustEncode(input{Function: fn, Target: target, Value: value}))
}

// countingExecutor counts Execute calls.
type countingExecutor struct {
	executor.Executor
	executions atomic.Int64
}

func (c *countingExecutor) Execute(ctx context.Context, call executor.Call) executor.Outcome {
	c.executions.Add(1)
	return c.Executor.Execute(ctx, call)
}

type fixture struct {
	t        *testing.T
	ledger   *wtesting.Ledger
	source   *loader.MemorySource
	defs     *contract.MemoryDefinitionLoader
	exec     *countingExecutor
	store    cache.Store
	cache    *cache.EvaluationCache
	eval     *Evaluator
	gate     chan struct{}
	gateHits atomic.Int64
	synced   int
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ledger: wtesting.NewLedger(),
		source: loader.NewMemorySource(),
		defs:   contract.NewMemoryDefinitionLoader(),
		gate:   make(chan struct{}),
	}

	registry := handler.NewRegistry()
	registry.MustRegister(handler.Code{
		Version:         srcCounter,
		UnsafeFunctions: []string{"fetch"},
		Handle:          f.handlers(1),
	})
	registry.MustRegister(handler.Code{Version: srcDouble, Handle: f.handlers(2)})
	registry.MustRegister(handler.Code{Version: srcUnsafe, Safety: executor.Unsafe, Handle: f.handlers(100)})
	f.exec = &countingExecutor{Executor: registry}

	f.store = cache.NewMemoryStore()
	f.cache, f.eval = f.evaluatorOn(f.store, opts...)
	return f
}

// newEvaluator returns an evaluator over the fixture ledger with its own
// empty cache.
func (f *fixture) newEvaluator(opts ...Option) (*cache.EvaluationCache, *Evaluator) {
	f.t.Helper()
	return f.evaluatorOn(cache.NewMemoryStore(), opts...)
}

// evaluatorOn returns an evaluator with a cold cache over store.
func (f *fixture) evaluatorOn(store cache.Store, opts ...Option) (*cache.EvaluationCache, *Evaluator) {
	f.t.Helper()
	c, err := cache.New(store, 16)
	require.NoError(f.t, err)

	ld := loader.New(f.source, loader.Config{PageSize: 4, MaxAttempts: 2, InitialInterval: time.Millisecond})
	e, err := New(f.defs, ld, c, f.exec, opts...)
	require.NoError(f.t, err)
	return c, e
}

func (f *fixture) deploy(id, src, init string) {
	f.t.Helper()
	require.NoError(f.t, f.defs.Deploy(contract.Definition{
		ID:        id,
		SrcTxID:   src,
		Owner:     "owner-1",
		InitState: json.RawMessage(init),
	}))
}

// mine confirms the pending block and publishes it to the index.
func (f *fixture) mine() {
	f.ledger.Mine()
	all := f.ledger.Records()
	f.source.Add(all[f.synced:]...)
	f.synced = len(all)
}

func (f *fixture) interact(contractID, in string, extra ...interaction.Tag) *interaction.Record {
	return f.ledger.Interact(contractID, in, extra...)
}

// snapshots counts the contract's snapshots taken under the evaluator
// defaults with overrides applied.
func (f *fixture) snapshots(contractID string, overrides ...Override) int {
	f.t.Helper()
	id := CacheID(contractID, f.eval.Defaults().Apply(overrides...))
	keys, err := f.cache.Snapshots(context.Background(), id)
	require.NoError(f.t, err)
	return len(keys)
}

func count(t *testing.T, v *cache.CachedValue) float64 {
	t.Helper()
	var st map[string]any
	require.NoError(t, state.Decode(v.State, &st))
	n, _ := st["count"].(float64)
	return n
}

func (f *fixture) handlers(step float64) handler.Func {
	update := func(in *handler.Invocation, fn func(st map[string]any, args input) error) (json.RawMessage, error) {
		var st map[string]any
		if err := state.Decode(in.State, &st); err != nil {
			return nil, err
		}
		var args input
		if err := json.Unmarshal(in.Input, &args); err != nil {
			return nil, types.NewContractError("bad input: %v", err)
		}
		if err := fn(st, args); err != nil {
			return nil, err
		}
		return state.Encode(st)
	}
	read := func(ctx context.Context, in *handler.Invocation, target string) (json.RawMessage, error) {
		other, err := in.ReadContractState(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", target, err)
		}
		return update(in, func(st map[string]any, _ input) error {
			var v any
			if err := json.Unmarshal(other, &v); err != nil {
				return err
			}
			st["read"] = v
			return nil
		})
	}
	inc := func(_ context.Context, in *handler.Invocation) (json.RawMessage, error) {
		return update(in, func(st map[string]any, _ input) error {
			n, _ := st["count"].(float64)
			st["count"] = n + step
			return nil
		})
	}

	return handler.Functions(map[string]handler.Func{
		"noop": func(_ context.Context, in *handler.Invocation) (json.RawMessage, error) {
			return in.State, nil
		},
		"inc":   inc,
		"fetch": inc,
		"fail": func(context.Context, *handler.Invocation) (json.RawMessage, error) {
			return nil, types.NewContractError("caller is not allowed")
		},
		"crash": func(context.Context, *handler.Invocation) (json.RawMessage, error) {
			return nil, errors.New("executor fault")
		},
		"evolve": func(_ context.Context, in *handler.Invocation) (json.RawMessage, error) {
			return update(in, func(st map[string]any, args input) error {
				st[state.EvolveField] = args.Value
				return nil
			})
		},
		"slow": func(ctx context.Context, _ *handler.Invocation) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		"gate": func(ctx context.Context, in *handler.Invocation) (json.RawMessage, error) {
			f.gateHits.Add(1)
			select {
			case <-f.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return inc(ctx, in)
		},
		"read": func(ctx context.Context, in *handler.Invocation) (json.RawMessage, error) {
			var args input
			if err := json.Unmarshal(in.Input, &args); err != nil {
				return nil, err
			}
			return read(ctx, in, args.Target)
		},
		// mutual reads Target, or Value when run for Target itself, so one
		// interaction written to both contracts reads each from the other.
		"mutual": func(ctx context.Context, in *handler.Invocation) (json.RawMessage, error) {
			var args input
			if err := json.Unmarshal(in.Input, &args); err != nil {
				return nil, err
			}
			target := args.Target
			if in.ContractID == args.Target {
				target = args.Value
			}
			return read(ctx, in, target)
		},
	})
}
