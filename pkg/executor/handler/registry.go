// Package handler is an Executor that runs contract code written as Go
// functions, registered by code version.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/janekolszak/warp/logging"
	"github.com/janekolszak/warp/pkg/executor"
	"github.com/janekolszak/warp/pkg/interaction"
	"github.com/janekolszak/warp/pkg/state"
	"github.com/janekolszak/warp/pkg/types"
)

// Func is contract logic. It returns the new state, or a *types.ContractError
// to reject the interaction. Any other error is recorded as an exception.
type Func func(ctx context.Context, in *Invocation) (json.RawMessage, error)

// Invocation is what a Func sees of one interaction.
type Invocation struct {
	ContractID  string
	CodeVersion string
	State       json.RawMessage
	Interaction *interaction.Record

	// Input is the parsed Input tag and Function its "function" field.
	Input    json.RawMessage
	Function string

	reader executor.StateReader
}

// Caller returns the owner of the interaction.
func (in *Invocation) Caller() string {
	return in.Interaction.Owner
}

// ReadContractState reads another contract's state as of this interaction.
func (in *Invocation) ReadContractState(ctx context.Context, contractID string) (json.RawMessage, error) {
	if in.reader == nil {
		return nil, errors.New("nested reads are not available")
	}
	return in.reader.ReadContractState(ctx, contractID)
}

// Code is one registered code version.
type Code struct {
	Version string
	Safety  executor.Safety

	// UnsafeFunctions lists input functions classified unsafe even when the
	// code itself is safe.
	UnsafeFunctions []string

	Handle Func
}

// Registry maps code versions to handlers. Unknown versions fail closed:
// they execute as exceptions and classify as unsafe.
type Registry struct {
	mu     sync.RWMutex
	codes  map[string]*Code
	logger *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		codes:  make(map[string]*Code),
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("executor")
	return r
}

// Register adds a code version. Versions are immutable once registered.
func (r *Registry) Register(code Code) error {
	if code.Version == "" {
		return types.WrapValidationError(errors.New("empty"), "code version")
	}
	if code.Handle == nil {
		return fmt.Errorf("code %s: nil handler", code.Version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[code.Version]; ok {
		return fmt.Errorf("code %s already registered", code.Version)
	}
	c := code
	c.UnsafeFunctions = slices.Clone(code.UnsafeFunctions)
	r.codes[code.Version] = &c
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(code Code) {
	if err := r.Register(code); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(version string) (*Code, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codes[version]
	return c, ok
}

// ClassifyCode implements executor.Executor.
func (r *Registry) ClassifyCode(_ context.Context, version string) (executor.Safety, error) {
	c, ok := r.lookup(version)
	if !ok {
		return executor.Unsafe, fmt.Errorf("code %s: %w", version, types.ErrContractNotFound)
	}
	return c.Safety, nil
}

// ClassifyOperation implements executor.Executor.
func (r *Registry) ClassifyOperation(_ context.Context, version string, rec *interaction.Record) (executor.Safety, error) {
	c, ok := r.lookup(version)
	if !ok {
		return executor.Unsafe, fmt.Errorf("code %s: %w", version, types.ErrContractNotFound)
	}
	if c.Safety == executor.Unsafe || slices.Contains(c.UnsafeFunctions, rec.Function()) {
		return executor.Unsafe, nil
	}
	return executor.Safe, nil
}

// Execute implements executor.Executor.
func (r *Registry) Execute(ctx context.Context, call executor.Call) (out executor.Outcome) {
	c, ok := r.lookup(call.CodeVersion)
	if !ok {
		return executor.ExceptionOutcome(fmt.Sprintf("unknown code version %s", call.CodeVersion))
	}

	input, err := call.Interaction.Input()
	if err != nil {
		return executor.RejectedOutcome(err.Error())
	}
	inv := &Invocation{
		ContractID:  call.ContractID,
		CodeVersion: call.CodeVersion,
		State:       state.Clone(call.State),
		Interaction: call.Interaction.Clone(),
		Input:       input,
		Function:    call.Interaction.Function(),
		reader:      call.Reader,
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("contract handler panicked",
				logging.ContractID(call.ContractID),
				logging.InteractionID(call.Interaction.ID),
				logging.CodeVersion(call.CodeVersion),
				logging.Reason(fmt.Sprint(p)),
				slog.String("stack", string(debug.Stack())))
			out = executor.ExceptionOutcome(fmt.Sprintf("panic: %v", p))
		}
	}()

	next, err := c.Handle(ctx, inv)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return executor.ExceptionOutcome(ctxErr.Error())
	}
	if err != nil {
		var ce *types.ContractError
		if errors.As(err, &ce) {
			return executor.RejectedOutcome(ce.Message)
		}
		return executor.ExceptionOutcome(err.Error())
	}

	canon, err := state.Canonical(next)
	if err != nil {
		return executor.ExceptionOutcome(fmt.Sprintf("handler returned invalid state: %v", err))
	}
	return executor.AppliedOutcome(canon)
}

// Functions dispatches on the input's "function" field. Unknown functions
// are rejected.
func Functions(fns map[string]Func) Func {
	return func(ctx context.Context, in *Invocation) (json.RawMessage, error) {
		fn, ok := fns[in.Function]
		if !ok {
			return nil, types.NewContractError("unknown function %q", in.Function)
		}
		return fn(ctx, in)
	}
}

var _ executor.Executor = (*Registry)(nil)
