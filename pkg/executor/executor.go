// Package executor defines the boundary between the state evaluator and
// the code that runs contract logic.
//
// An Executor applies one interaction to a state under a given code
// version and reports one of three outcomes. It also classifies code
// versions and individual operations as safe or unsafe so the evaluator can
// apply the unsafe client policy.
package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/janekolszak/warp/pkg/interaction"
)

// Kind is the outcome of executing one interaction.
type Kind uint8

const (
	// Applied means the interaction produced a new state.
	Applied Kind = iota

	// Rejected means contract logic deterministically refused the
	// interaction. State is unchanged.
	Rejected

	// Exception means the executor failed unexpectedly. State is unchanged.
	Exception
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case Applied:
		return "applied"
	case Rejected:
		return "rejected"
	case Exception:
		return "exception"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Outcome is the result of Execute.
type Outcome struct {
	Kind Kind

	// State is the resulting state for Applied outcomes.
	State json.RawMessage

	// Reason is the recorded error message for Rejected and Exception.
	Reason string
}

// AppliedOutcome returns an Applied outcome with the given state.
func AppliedOutcome(state json.RawMessage) Outcome {
	return Outcome{Kind: Applied, State: state}
}

// RejectedOutcome returns a Rejected outcome.
func RejectedOutcome(reason string) Outcome {
	return Outcome{Kind: Rejected, Reason: reason}
}

// ExceptionOutcome returns an Exception outcome.
func ExceptionOutcome(reason string) Outcome {
	return Outcome{Kind: Exception, Reason: reason}
}

// Safety classifies code versions and operations.
type Safety uint8

const (
	Safe Safety = iota
	Unsafe
)

// String returns "safe" or "unsafe".
func (s Safety) String() string {
	if s == Unsafe {
		return "unsafe"
	}
	return "safe"
}

// Policy is the unsafe client policy.
type Policy string

const (
	// PolicyThrow fails the whole evaluation on an unsafe operation.
	PolicyThrow Policy = "throw"

	// PolicySkip rejects unsafe operations, and reads of contracts that
	// performed them, and continues.
	PolicySkip Policy = "skip"

	// PolicyAllow executes unsafe operations like any other.
	PolicyAllow Policy = "allow"
)

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyThrow, PolicySkip, PolicyAllow:
		return p, nil
	default:
		return "", fmt.Errorf("unknown unsafe client policy %q", s)
	}
}

// StateReader performs nested reads of other contracts. Reads are bounded
// at the sort key of the interaction being executed.
type StateReader interface {
	// ReadContractState returns the state of contractID. It fails with
	// types.ErrUnsafeOperationBlocked when the target is contaminated and
	// types.ErrCyclicNestedEvaluation when the read would re-enter an
	// evaluation already in progress.
	ReadContractState(ctx context.Context, contractID string) (json.RawMessage, error)
}

// Call is a single Execute request.
type Call struct {
	ContractID  string
	CodeVersion string

	// State is a private copy; the executor may retain it.
	State       json.RawMessage
	Interaction *interaction.Record
	Policy      Policy

	// Reader is nil when nested reads are not available.
	Reader StateReader
}

// Executor runs contract logic. Implementations must be deterministic for
// a given (state, interaction, code version) and must return promptly
// once ctx is done.
type Executor interface {
	Execute(ctx context.Context, call Call) Outcome

	// ClassifyOperation classifies a single interaction under a code version.
	ClassifyOperation(ctx context.Context, codeVersion string, rec *interaction.Record) (Safety, error)

	// ClassifyCode classifies a whole code version.
	ClassifyCode(ctx context.Context, codeVersion string) (Safety, error)
}
