package types

import (
	"errors"
	"fmt"
)

// WrapContractError wraps an error with the contract it was raised for.
func WrapContractError(err error, contractID string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("contract %s: %w", contractID, err)
}

// WrapInteractionError wraps an error with the interaction it was raised for.
func WrapInteractionError(err error, interactionID string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("interaction %s: %w", interactionID, err)
}

// WrapValidationError wraps a validation error with field context.
func WrapValidationError(err error, field string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s: %w", field, err)
}

// Load-related errors.
var (
	// ErrLoadFailure is returned when the interaction index could not be read,
	// after retries were exhausted. Results of a failed load are never cached.
	ErrLoadFailure = errors.New("interactions load failed")

	// ErrInvalidRange is returned when a lower bound is not below the upper bound.
	ErrInvalidRange = errors.New("invalid sort key range")

	// ErrDataIntegrity is returned when the index returns data that violates
	// ledger invariants, such as two distinct interactions sharing a sort key.
	ErrDataIntegrity = errors.New("ledger data integrity violation")

	// ErrContractNotFound is returned when a contract definition cannot be found.
	ErrContractNotFound = errors.New("contract not found")
)

// Evaluation errors.
var (
	// ErrInteractionRejected marks a deterministic rejection raised by contract code.
	ErrInteractionRejected = errors.New("interaction rejected")

	// ErrInteractionException marks an unexpected executor fault.
	ErrInteractionException = errors.New("interaction exception")

	// ErrInteractionTimeout is returned when an interaction exceeds its evaluation budget.
	ErrInteractionTimeout = errors.New("interaction evaluation timed out")

	// ErrUnsafeOperationBlocked is returned when the unsafe client policy is "skip"
	// and an interaction performs, or reads the result of, an unsafe operation.
	ErrUnsafeOperationBlocked = errors.New("unsafe operation blocked")

	// ErrCyclicNestedEvaluation is returned when a nested read would re-enter
	// a (contract, sort key) evaluation already on the call stack.
	ErrCyclicNestedEvaluation = errors.New("cyclic nested contract evaluation")

	// ErrPolicyViolationFatal is returned when the unsafe client policy is "throw"
	// and an unsafe operation is encountered. It aborts the whole evaluation.
	ErrPolicyViolationFatal = errors.New("unsafe operation forbidden by evaluation policy")
)

// Cache and store errors.
var (
	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrCorruptValue is returned when a persisted snapshot cannot be decoded.
	ErrCorruptValue = errors.New("corrupt cached value")

	// ErrNotFound is returned by stores when no snapshot matches a lookup.
	ErrNotFound = errors.New("not found")
)

// Sort key errors.
var (
	// ErrInvalidSortKey is returned when a sort key cannot be parsed.
	ErrInvalidSortKey = errors.New("invalid sort key")
)

// ContractError is a deterministic rejection raised by contract logic.
// Handlers return it to signal that an interaction is invalid; the message
// becomes the interaction's recorded error.
type ContractError struct {
	Message string
}

// NewContractError creates a ContractError with a formatted message.
func NewContractError(format string, args ...any) *ContractError {
	return &ContractError{Message: fmt.Sprintf(format, args...)}
}

func (e *ContractError) Error() string {
	return e.Message
}

// Unwrap makes errors.Is(err, ErrInteractionRejected) hold for contract errors.
func (e *ContractError) Unwrap() error {
	return ErrInteractionRejected
}

// LoadError describes an interactions load that failed after retries.
type LoadError struct {
	ContractID string
	From       string
	To         string
	Attempts   int
	Err        error
}

func (e *LoadError) Error() string {
	from, to := e.From, e.To
	if from == "" {
		from = "genesis"
	}
	if to == "" {
		to = "latest"
	}
	return fmt.Sprintf("%s: contract %s range (%s, %s] after %d attempts: %v",
		ErrLoadFailure, e.ContractID, from, to, e.Attempts, e.Err)
}

// Is reports ErrLoadFailure so callers can match without unwrapping the cause.
func (e *LoadError) Is(target error) bool {
	return target == ErrLoadFailure
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
