package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/janekolszak/warp/logging"
	"github.com/janekolszak/warp/pkg/cache"
	"github.com/janekolszak/warp/pkg/executor"
	"github.com/janekolszak/warp/pkg/interaction"
	"github.com/janekolszak/warp/pkg/metrics"
	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/state"
	"github.com/janekolszak/warp/pkg/tracing"
	"github.com/janekolszak/warp/pkg/types"
)

// replay folds records into a copy of base. It stops after an interaction
// that halts the contract. The returned frames are cycles found below this
// evaluation that an outer reader still has to account for.
func (e *Evaluator) replay(ctx context.Context, log *logging.Logger, contractID string, base *cache.CachedValue, records []*interaction.Record, opts Options) (*cache.CachedValue, frameSet, error) {
	ctx, span := e.tracer.StartSpan(ctx, tracing.SpanReplay, tracing.WithAttributes(
		tracing.String(tracing.AttrContractID, contractID),
		tracing.Int(tracing.AttrInteractions, len(records)),
	))
	defer span.End()

	start := time.Now()
	defer func() { e.metrics.ObserveReplayDuration(time.Since(start)) }()

	cur := base.Clone()
	var cycles frameSet
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		halted, found, err := e.apply(ctx, log, contractID, cur, rec, opts)
		if err != nil {
			span.Fail(err)
			return nil, nil, err
		}
		cycles = cycles.merge(found)
		cur.SortKey = rec.SortKey
		if halted {
			log.Warn("contract halted",
				logging.InteractionID(rec.ID),
				logging.SortKey(string(rec.SortKey)),
				logging.Reason(cur.Halted))
			break
		}
	}
	return cur, cycles, nil
}

// apply executes one interaction and folds its outcome into cur. It
// reports whether the contract halted.
func (e *Evaluator) apply(ctx context.Context, log *logging.Logger, contractID string, cur *cache.CachedValue, rec *interaction.Record, opts Options) (bool, frameSet, error) {
	out, label, cycles, err := e.execute(ctx, contractID, cur, rec, opts)
	if err != nil {
		return false, nil, err
	}

	halt := false
	code := cur.CodeVersion
	if out.Kind == executor.Applied {
		if target, ok := state.EvolveTarget(out.State); ok && target != cur.CodeVersion {
			out, label, halt, err = e.evolve(ctx, contractID, target, out, opts.UnsafeClient)
			if err != nil {
				return false, nil, types.WrapInteractionError(err, rec.ID)
			}
			if out.Kind == executor.Applied {
				code = target
				log.Info("contract evolved",
					logging.InteractionID(rec.ID),
					logging.CodeVersion(target))
			}
		}
	}

	if out.Kind == executor.Applied {
		cur.State = out.State
		cur.CodeVersion = code
		cur.Validity[rec.ID] = true
	} else {
		cur.Validity[rec.ID] = false
		cur.ErrorMessages[rec.ID] = out.Reason
		log.Debug("interaction not applied",
			logging.InteractionID(rec.ID),
			logging.Outcome(label),
			logging.Reason(out.Reason))
	}
	if halt {
		cur.Halted = out.Reason
	}
	e.metrics.IncInteractions(label)
	return halt, cycles, nil
}

// evolve decides whether a switch to target code takes effect.
func (e *Evaluator) evolve(ctx context.Context, contractID, target string, out executor.Outcome, policy executor.Policy) (executor.Outcome, string, bool, error) {
	safety, err := e.executor.ClassifyCode(ctx, target)
	if err != nil {
		return executor.ExceptionOutcome(fmt.Sprintf("evolve to %s: %v", target, err)), metrics.OutcomeException, false, nil
	}
	if safety == executor.Unsafe {
		switch policy {
		case executor.PolicyThrow:
			return out, "", false, types.WrapContractError(
				fmt.Errorf("%w: evolve to unsafe code %s", types.ErrPolicyViolationFatal, target), contractID)
		case executor.PolicySkip:
			return executor.RejectedOutcome(UnsafeContractMessage), metrics.OutcomeUnsafe, true, nil
		}
	}
	return out, metrics.OutcomeApplied, false, nil
}

// execute classifies and runs one interaction under the time budget.
func (e *Evaluator) execute(ctx context.Context, contractID string, cur *cache.CachedValue, rec *interaction.Record, opts Options) (executor.Outcome, string, frameSet, error) {
	safety, err := e.executor.ClassifyOperation(ctx, cur.CodeVersion, rec)
	if err != nil {
		return executor.ExceptionOutcome(err.Error()), metrics.OutcomeException, nil, nil
	}
	if safety == executor.Unsafe {
		switch opts.UnsafeClient {
		case executor.PolicyThrow:
			return executor.Outcome{}, "", nil, types.WrapInteractionError(
				fmt.Errorf("%w: unsafe operation", types.ErrPolicyViolationFatal), rec.ID)
		case executor.PolicySkip:
			return executor.RejectedOutcome(UnsafeContractMessage), metrics.OutcomeUnsafe, nil, nil
		}
	}

	self := frame{contractID: contractID, bound: rec.SortKey}
	reader := &nestedReader{e: e, opts: opts, bound: rec.SortKey, self: self}
	execCtx := withStack(ctx, stackFrom(ctx).push(self))
	cancel := context.CancelFunc(func() {})
	if opts.MaxInteractionEvaluationTime > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, opts.MaxInteractionEvaluationTime)
	}
	defer cancel()

	call := executor.Call{
		ContractID:  contractID,
		CodeVersion: cur.CodeVersion,
		State:       state.Clone(cur.State),
		Interaction: rec.Clone(),
		Policy:      opts.UnsafeClient,
		Reader:      reader,
	}

	// The executor runs on its own goroutine so an overrun is abandoned
	// rather than awaited. It only ever sees copies.
	done := make(chan executor.Outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- executor.ExceptionOutcome(fmt.Sprintf("panic: %v", p))
			}
		}()
		done <- e.executor.Execute(execCtx, call)
	}()

	var out executor.Outcome
	select {
	case out = <-done:
	case <-execCtx.Done():
	}

	if err := ctx.Err(); err != nil {
		return executor.Outcome{}, "", nil, err
	}
	if err := reader.fatalErr(); err != nil {
		return executor.Outcome{}, "", nil, types.WrapInteractionError(err, rec.ID)
	}
	// Cycles found by the reader are reported whatever the outcome, so every
	// interaction on the cycle is rejected regardless of timing.
	cycles := reader.openCycles()
	if reason, label, ok := reader.contamination(); ok {
		return executor.RejectedOutcome(reason), label, cycles, nil
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return executor.ExceptionOutcome(fmt.Sprintf("%s after %s", types.ErrInteractionTimeout, opts.MaxInteractionEvaluationTime)),
			metrics.OutcomeTimeout, cycles, nil
	}

	switch out.Kind {
	case executor.Applied:
		canonical, err := state.Canonical(out.State)
		if err != nil {
			return executor.ExceptionOutcome(fmt.Sprintf("executor returned invalid state: %v", err)), metrics.OutcomeException, cycles, nil
		}
		out.State = canonical
		return out, metrics.OutcomeApplied, cycles, nil
	case executor.Rejected:
		return out, metrics.OutcomeRejected, cycles, nil
	default:
		return out, metrics.OutcomeException, cycles, nil
	}
}

// nestedReader serves ReadContractState for one interaction. Reads of
// halted contracts and cyclic reads contaminate the interaction; policy
// violations, load failures and cancellation fail the whole evaluation.
//
// A cycle contaminates every interaction on it, not only the one that
// closed it, so the outcome does not depend on which contract was
// evaluated first.
type nestedReader struct {
	e     *Evaluator
	opts  Options
	bound sortkey.Key
	self  frame

	mu     sync.Mutex
	fatal  error
	reason string
	label  string
	cycles frameSet
}

func (r *nestedReader) ReadContractState(ctx context.Context, contractID string) (json.RawMessage, error) {
	ctx, span := r.e.tracer.StartSpan(ctx, tracing.SpanNestedRead, tracing.WithAttributes(
		tracing.String(tracing.AttrContractID, contractID),
		tracing.String(tracing.AttrBound, string(r.bound)),
	))
	defer span.End()

	target := frame{contractID: contractID, bound: r.bound}
	if stackFrom(ctx).contains(target) {
		err := fmt.Errorf("%w: %s at %s", types.ErrCyclicNestedEvaluation, contractID, r.bound)
		r.cycle(frameSet{target: {}})
		span.Fail(err)
		return nil, err
	}

	v, cycles, err := r.e.evaluate(ctx, contractID, r.bound, r.opts)
	if err != nil {
		if errors.Is(err, types.ErrPolicyViolationFatal) ||
			errors.Is(err, types.ErrLoadFailure) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) {
			r.setFatal(err)
		}
		span.Fail(err)
		return nil, err
	}
	if len(cycles) > 0 {
		err := fmt.Errorf("%w: %s at %s", types.ErrCyclicNestedEvaluation, contractID, r.bound)
		r.cycle(cycles)
		span.Fail(err)
		return nil, err
	}
	if v.IsHalted() {
		r.contaminate(UnsafeContractMessage, metrics.OutcomeUnsafe)
		return nil, fmt.Errorf("%w: contract %s", types.ErrUnsafeOperationBlocked, contractID)
	}
	return state.Clone(v.State), nil
}

func (r *nestedReader) contaminate(reason, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason == "" {
		r.reason = reason
		r.label = label
	}
}

// cycle contaminates the interaction and keeps the frames other than its
// own for the readers further up the stack. The message names only the
// sort key, so every member of a cycle records the same text.
func (r *nestedReader) cycle(frames frameSet) {
	r.contaminate(fmt.Sprintf("%s at %s", types.ErrCyclicNestedEvaluation, r.bound), metrics.OutcomeCyclic)
	r.mu.Lock()
	defer r.mu.Unlock()
	for f := range frames {
		if f != r.self {
			r.cycles = r.cycles.add(f)
		}
	}
}

func (r *nestedReader) openCycles() frameSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.cycles)
}

func (r *nestedReader) setFatal(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal == nil {
		r.fatal = err
	}
}

func (r *nestedReader) fatalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

func (r *nestedReader) contamination() (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason, r.label, r.reason != ""
}

var _ executor.StateReader = (*nestedReader)(nil)
