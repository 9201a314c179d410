package contract

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/janekolszak/warp/pkg/types"
)

func TestDefinitionValidate(t *testing.T) {
	ok := Definition{ID: "c1", SrcTxID: "src-1", InitState: json.RawMessage(`{}`)}
	require.NoError(t, ok.Validate())

	noID := ok
	noID.ID = ""
	require.ErrorIs(t, noID.Validate(), types.ErrContractNotFound)

	noSrc := ok
	noSrc.SrcTxID = ""
	require.Error(t, noSrc.Validate())

	badState := ok
	badState.InitState = json.RawMessage(`{`)
	require.ErrorIs(t, badState.Validate(), types.ErrCorruptValue)
}

func TestMemoryDefinitionLoader(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryDefinitionLoader()

	_, err := l.Load(ctx, "c1")
	require.ErrorIs(t, err, types.ErrContractNotFound)

	require.NoError(t, l.Deploy(Definition{
		ID:        "c1",
		SrcTxID:   "src-1",
		Owner:     "alice",
		InitState: json.RawMessage(`{ "b": 1, "a": 2 }`),
	}))

	def, err := l.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "src-1", def.SrcTxID)
	require.Equal(t, `{"a":2,"b":1}`, string(def.InitState))

	// Loaded definitions are copies.
	def.InitState[0] = '['
	again, err := l.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1}`, string(again.InitState))

	require.Error(t, l.Deploy(Definition{ID: "c2"}))
}
