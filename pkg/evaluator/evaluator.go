// Package evaluator replays a contract's interactions into cached state.
//
// An evaluation resumes from the best cached snapshot at or below the
// requested bound, loads the interactions after it, executes them one at a
// time and stores the resulting snapshot. Nested reads evaluate other
// contracts through the same pipeline, bounded at the reading interaction.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/janekolszak/warp/logging"
	"github.com/janekolszak/warp/pkg/cache"
	"github.com/janekolszak/warp/pkg/contract"
	"github.com/janekolszak/warp/pkg/executor"
	"github.com/janekolszak/warp/pkg/interaction"
	"github.com/janekolszak/warp/pkg/loader"
	"github.com/janekolszak/warp/pkg/metrics"
	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/tracing"
	"github.com/janekolszak/warp/pkg/types"
)

// UnsafeContractMessage is the error recorded for interactions skipped
// because they perform, evolve to, or read the result of unsafe code.
const UnsafeContractMessage = "Skipping evaluation of the unsafe contract"

// InteractionLoader loads a contract's interactions in (from, to],
// sorted. *loader.Loader implements it.
type InteractionLoader interface {
	Load(ctx context.Context, contractID string, from, to sortkey.Key, opts loader.Options) ([]*interaction.Record, error)
}

// Evaluator evaluates contract state. It is safe for concurrent use;
// concurrent root evaluations of the same contract, bound and options
// share one replay, which is canceled only when every caller waiting on it
// has gone.
type Evaluator struct {
	definitions contract.DefinitionLoader
	loader      InteractionLoader
	cache       *cache.EvaluationCache
	executor    executor.Executor
	defaults    Options

	group   singleflight.Group
	flights flights

	logger  *logging.Logger
	metrics metrics.Metrics
	tracer  tracing.Tracer
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(e *Evaluator) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t tracing.Tracer) Option {
	return func(e *Evaluator) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithDefaultOptions replaces the evaluation options used when a call
// does not override them.
func WithDefaultOptions(o Options) Option {
	return func(e *Evaluator) {
		e.defaults = o
	}
}

// New creates an Evaluator.
func New(
	definitions contract.DefinitionLoader,
	ld InteractionLoader,
	c *cache.EvaluationCache,
	exec executor.Executor,
	opts ...Option,
) (*Evaluator, error) {
	switch {
	case definitions == nil:
		return nil, errors.New("evaluator: nil definition loader")
	case ld == nil:
		return nil, errors.New("evaluator: nil interaction loader")
	case c == nil:
		return nil, errors.New("evaluator: nil cache")
	case exec == nil:
		return nil, errors.New("evaluator: nil executor")
	}

	e := &Evaluator{
		definitions: definitions,
		loader:      ld,
		cache:       c,
		executor:    exec,
		defaults:    DefaultOptions(),
		logger:      logging.NewNopLogger(),
		metrics:     metrics.NewNopMetrics(),
		tracer:      tracing.NullTracer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.defaults.Validate(); err != nil {
		return nil, types.WrapValidationError(err, "evaluation options")
	}
	e.logger = e.logger.WithComponent("evaluator")
	return e, nil
}

// Defaults returns the evaluator's default options.
func (e *Evaluator) Defaults() Options {
	return e.defaults
}

// Evaluate returns the state of contractID after every confirmed
// interaction with a sort key at or below bound. An empty bound means the
// latest confirmed interaction.
//
// Per-interaction failures are recorded in the result. Evaluate itself
// fails only on load failure, a throw-policy violation, a missing contract
// or cancellation; failed evaluations never modify the cache.
func (e *Evaluator) Evaluate(ctx context.Context, contractID string, bound sortkey.Key, overrides ...Override) (*cache.CachedValue, error) {
	if contractID == "" {
		return nil, types.WrapValidationError(types.ErrContractNotFound, "contract id")
	}
	if bound != "" {
		if err := sortkey.Validate(bound); err != nil {
			return nil, err
		}
	}
	opts := e.defaults.Apply(overrides...)
	if err := opts.Validate(); err != nil {
		return nil, types.WrapValidationError(err, "evaluation options")
	}

	key := flightKey(contractID, bound, opts)
	for {
		fl := e.flights.join(ctx, key)
		ch := e.group.DoChan(key, func() (any, error) {
			v, _, err := e.evaluate(fl.ctx, contractID, bound, opts)
			return v, err
		})

		select {
		case <-ctx.Done():
			// The run is counted where it ends; it keeps going while
			// other callers still wait on it.
			e.flights.leave(key, fl)
			return nil, ctx.Err()
		case res := <-ch:
			e.flights.leave(key, fl)
			if res.Err != nil {
				if res.Shared && ctx.Err() == nil && isCancellation(res.Err) {
					// Joined a run its own callers had already abandoned.
					continue
				}
				return nil, res.Err
			}
			if res.Shared {
				e.metrics.IncEvaluations(metrics.ResultCoalesced)
			}
			return res.Val.(*cache.CachedValue).Clone(), nil
		}
	}
}

func flightKey(contractID string, bound sortkey.Key, opts Options) string {
	return contractID + "\x00" + string(bound) + "\x00" + opts.fingerprint()
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// evaluate runs one evaluation on the current call stack. It also returns
// the cycles found below it that still involve frames further up.
func (e *Evaluator) evaluate(ctx context.Context, contractID string, bound sortkey.Key, opts Options) (*cache.CachedValue, frameSet, error) {
	start := time.Now()
	stack := stackFrom(ctx)
	ctx = withStack(ctx, stack.push(frame{contractID: contractID, bound: bound}))

	ctx, span := e.tracer.StartSpan(ctx, tracing.SpanEvaluate, tracing.WithAttributes(
		tracing.String(tracing.AttrContractID, contractID),
		tracing.String(tracing.AttrBound, string(bound)),
		tracing.String(tracing.AttrPolicy, string(opts.UnsafeClient)),
		tracing.Int(tracing.AttrDepth, stack.depth()),
	))
	defer span.End()

	log := e.logger.WithContract(contractID).With(
		logging.Bound(string(bound)),
		logging.Depth(stack.depth()))

	v, result, cycles, err := e.run(ctx, log, contractID, bound, opts)
	if err != nil {
		if ctx.Err() != nil {
			result = metrics.ResultCanceled
		} else {
			result = metrics.ResultFailed
		}
		e.metrics.IncEvaluations(result)
		span.Fail(err)
		log.Warn("evaluation failed",
			logging.State(result),
			logging.Error(err),
			logging.Duration(time.Since(start)))
		return nil, nil, err
	}

	e.metrics.IncEvaluations(result)
	span.SetAttribute(tracing.AttrSortKey, string(v.SortKey))
	log.Debug("evaluation finished",
		logging.State(result),
		logging.SortKey(string(v.SortKey)),
		logging.Count(len(v.Validity)),
		logging.Duration(time.Since(start)))
	return v, cycles, nil
}

// run walks Initializing, Loading, Replaying and Finalizing.
func (e *Evaluator) run(ctx context.Context, log *logging.Logger, contractID string, bound sortkey.Key, opts Options) (*cache.CachedValue, string, frameSet, error) {
	log.Debug("evaluation state", logging.State("initializing"))
	base, fromCache, err := e.initialize(ctx, contractID, bound, opts)
	if err != nil {
		return nil, "", nil, err
	}
	if base.IsHalted() {
		log.Debug("contract halted", logging.SortKey(string(base.SortKey)), logging.Reason(base.Halted))
		return base, metrics.ResultCached, nil, nil
	}
	if fromCache && bound != "" && base.SortKey == bound {
		return base, metrics.ResultCached, nil, nil
	}

	log.Debug("evaluation state", logging.State("loading"), logging.SortKey(string(base.SortKey)))
	records, err := e.load(ctx, contractID, base.SortKey, bound, opts)
	if err != nil {
		return nil, "", nil, err
	}
	if len(records) == 0 {
		return base, metrics.ResultCached, nil, nil
	}

	log.Debug("evaluation state", logging.State("replaying"), logging.Count(len(records)))
	cur, cycles, err := e.replay(ctx, log, contractID, base, records, opts)
	if err != nil {
		return nil, "", nil, err
	}
	if err := ctx.Err(); err != nil {
		// Abandoned by every caller; nothing is stored.
		return nil, "", nil, err
	}

	log.Debug("evaluation state", logging.State("finalizing"), logging.SortKey(string(cur.SortKey)))
	stored, err := e.cache.Put(ctx, CacheID(contractID, opts), cur.SortKey, cur)
	if err != nil {
		// The result is correct; only the shortcut for later calls is lost.
		log.Error("failed to store snapshot", logging.SortKey(string(cur.SortKey)), logging.Error(err))
	}
	if stored {
		if h, err := sortkey.Height(cur.SortKey); err == nil {
			e.metrics.SetEvaluatedHeight(contractID, h)
		}
	}
	return cur, metrics.ResultCommitted, cycles, nil
}

// initialize returns the snapshot to resume from: the cached value at or
// below bound, or the genesis value.
func (e *Evaluator) initialize(ctx context.Context, contractID string, bound sortkey.Key, opts Options) (*cache.CachedValue, bool, error) {
	cached, found, err := e.cache.GetLatestBefore(ctx, CacheID(contractID, opts), bound)
	if err != nil {
		return nil, false, err
	}
	if found {
		return cached, true, nil
	}

	def, err := e.definitions.Load(ctx, contractID)
	if err != nil {
		return nil, false, err
	}
	genesis := cache.NewCachedValue(def.InitState, def.SrcTxID)

	safety, err := e.executor.ClassifyCode(ctx, def.SrcTxID)
	if err != nil {
		return nil, false, types.WrapContractError(err, contractID)
	}
	if safety == executor.Unsafe {
		switch opts.UnsafeClient {
		case executor.PolicyThrow:
			return nil, false, types.WrapContractError(
				fmt.Errorf("%w: code %s is unsafe", types.ErrPolicyViolationFatal, def.SrcTxID), contractID)
		case executor.PolicySkip:
			genesis.Halted = UnsafeContractMessage
		}
	}
	return genesis, false, nil
}

func (e *Evaluator) load(ctx context.Context, contractID string, from, to sortkey.Key, opts Options) ([]*interaction.Record, error) {
	ctx, span := e.tracer.StartSpan(ctx, tracing.SpanLoad, tracing.WithAttributes(
		tracing.String(tracing.AttrContractID, contractID),
		tracing.String(tracing.AttrCachedKey, string(from)),
		tracing.String(tracing.AttrBound, string(to)),
	))
	defer span.End()

	records, err := e.loader.Load(ctx, contractID, from, to, loader.Options{
		ConfirmationBlocks: opts.ConfirmationBlocks,
		InternalWrites:     opts.InternalWrites,
	})
	if err != nil {
		span.Fail(err)
		return nil, err
	}
	span.SetAttribute(tracing.AttrInteractions, len(records))
	return records, nil
}
