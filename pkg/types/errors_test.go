package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		// Load errors
		ErrLoadFailure,
		ErrInvalidRange,
		ErrDataIntegrity,
		ErrContractNotFound,
		// Evaluation errors
		ErrInteractionRejected,
		ErrInteractionException,
		ErrInteractionTimeout,
		ErrUnsafeOperationBlocked,
		ErrCyclicNestedEvaluation,
		ErrPolicyViolationFatal,
		// Store errors
		ErrStoreClosed,
		ErrCorruptValue,
		ErrNotFound,
		// Sort key errors
		ErrInvalidSortKey,
	}

	for i, err1 := range allErrors {
		for j, err2 := range allErrors {
			if i != j {
				require.NotEqual(t, err1, err2, "errors at index %d and %d should be distinct", i, j)
			}
		}
	}
}

func TestWrapHelpers(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, WrapContractError(nil, "c1"))
		require.NoError(t, WrapInteractionError(nil, "tx1"))
		require.NoError(t, WrapValidationError(nil, "field"))
	})

	t.Run("wrapped errors keep identity", func(t *testing.T) {
		err := WrapContractError(ErrContractNotFound, "c1")
		require.ErrorIs(t, err, ErrContractNotFound)
		require.Contains(t, err.Error(), "contract c1")

		err = WrapInteractionError(ErrInteractionTimeout, "tx1")
		require.ErrorIs(t, err, ErrInteractionTimeout)
		require.Contains(t, err.Error(), "interaction tx1")

		err = WrapValidationError(ErrInvalidSortKey, "from")
		require.ErrorIs(t, err, ErrInvalidSortKey)
		require.Equal(t, "invalid from: invalid sort key", err.Error())
	})
}

func TestContractError(t *testing.T) {
	err := NewContractError("insufficient balance: %d < %d", 5, 10)
	require.Equal(t, "insufficient balance: 5 < 10", err.Error())
	require.ErrorIs(t, err, ErrInteractionRejected)

	var wrapped error = fmt.Errorf("handler: %w", err)
	var ce *ContractError
	require.True(t, errors.As(wrapped, &ce))
	require.Equal(t, "insufficient balance: 5 < 10", ce.Message)
}

func TestLoadError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &LoadError{ContractID: "c1", Attempts: 3, Err: cause}

	require.ErrorIs(t, err, ErrLoadFailure)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "(genesis, latest]")
	require.Contains(t, err.Error(), "after 3 attempts")

	err = &LoadError{ContractID: "c1", From: "a", To: "b", Attempts: 1, Err: cause}
	require.Contains(t, err.Error(), "(a, b]")
}
