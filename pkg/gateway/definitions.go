package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/janekolszak/warp/pkg/contract"
	"github.com/janekolszak/warp/pkg/interaction"
	"github.com/janekolszak/warp/pkg/state"
	"github.com/janekolszak/warp/pkg/types"
)

// DefinitionLoader resolves contract definitions from deployment
// transactions. The initial state comes from the Init-State tag when
// present and from the transaction data otherwise.
type DefinitionLoader struct {
	client *Client
}

// NewDefinitionLoader returns a DefinitionLoader backed by client.
func NewDefinitionLoader(client *Client) *DefinitionLoader {
	return &DefinitionLoader{client: client}
}

// Load implements contract.DefinitionLoader.
func (l *DefinitionLoader) Load(ctx context.Context, contractID string) (*contract.Definition, error) {
	tx, err := l.client.Transaction(ctx, contractID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, types.WrapContractError(types.ErrContractNotFound, contractID)
		}
		return nil, types.WrapContractError(err, contractID)
	}

	src, ok := tx.Tag(interaction.TagContractSrc)
	if !ok {
		return nil, types.WrapContractError(
			fmt.Errorf("%w: deployment has no %s tag", types.ErrContractNotFound, interaction.TagContractSrc),
			contractID)
	}

	var raw []byte
	if v, ok := tx.Tag(interaction.TagInitState); ok {
		raw = []byte(v)
	} else {
		raw, err = l.client.Data(ctx, contractID)
		if err != nil {
			return nil, types.WrapContractError(fmt.Errorf("fetching initial state: %w", err), contractID)
		}
	}
	initState, err := state.Canonical(raw)
	if err != nil {
		return nil, types.WrapContractError(err, contractID)
	}

	manifest := make(map[string]string)
	for _, name := range []string{interaction.TagAppName, interaction.TagAppVersion, interaction.TagSDK} {
		if v, ok := tx.Tag(name); ok {
			manifest[name] = v
		}
	}

	def := &contract.Definition{
		ID:        contractID,
		SrcTxID:   src,
		Owner:     tx.Owner,
		InitState: initState,
		Manifest:  manifest,
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

var _ contract.DefinitionLoader = (*DefinitionLoader)(nil)
