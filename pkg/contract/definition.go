// Package contract describes deployed contracts: their initial code
// version and genesis state.
package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/janekolszak/warp/pkg/state"
	"github.com/janekolszak/warp/pkg/types"
)

// Definition is a deployed contract.
type Definition struct {
	// ID is the deployment transaction id.
	ID string `json:"id"`

	// SrcTxID identifies the initial code version.
	SrcTxID string `json:"srcTxId"`

	Owner string `json:"owner"`

	// InitState is the genesis state in canonical form.
	InitState json.RawMessage `json:"initState"`

	// Manifest carries deployment-time evaluation hints, if any.
	Manifest map[string]string `json:"manifest,omitempty"`
}

// Validate checks that the definition can seed an evaluation.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return types.WrapValidationError(types.ErrContractNotFound, "contract id")
	}
	if d.SrcTxID == "" {
		return types.WrapContractError(fmt.Errorf("missing source transaction"), d.ID)
	}
	if _, err := state.Canonical(d.InitState); err != nil {
		return types.WrapContractError(err, d.ID)
	}
	return nil
}

// DefinitionLoader resolves contract definitions by id.
type DefinitionLoader interface {
	// Load returns the definition, or an error wrapping
	// types.ErrContractNotFound.
	Load(ctx context.Context, contractID string) (*Definition, error)
}

// MemoryDefinitionLoader is an in-memory DefinitionLoader.
type MemoryDefinitionLoader struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewMemoryDefinitionLoader returns an empty loader.
func NewMemoryDefinitionLoader() *MemoryDefinitionLoader {
	return &MemoryDefinitionLoader{defs: make(map[string]*Definition)}
}

// Deploy registers a definition. The init state is stored canonicalized.
func (l *MemoryDefinitionLoader) Deploy(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	canon, err := state.Canonical(def.InitState)
	if err != nil {
		return types.WrapContractError(err, def.ID)
	}
	def.InitState = canon

	l.mu.Lock()
	defer l.mu.Unlock()
	l.defs[def.ID] = &def
	return nil
}

// Load implements DefinitionLoader.
func (l *MemoryDefinitionLoader) Load(_ context.Context, contractID string) (*Definition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	def, ok := l.defs[contractID]
	if !ok {
		return nil, types.WrapContractError(types.ErrContractNotFound, contractID)
	}
	c := *def
	c.InitState = state.Clone(def.InitState)
	return &c, nil
}
