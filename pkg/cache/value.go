// Package cache persists evaluated contract state snapshots keyed by the
// sort key of the last interaction they include.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/state"
	"github.com/janekolszak/warp/pkg/types"
)

// CachedValue is the result of replaying every interaction of a contract
// with a sort key at or below SortKey.
type CachedValue struct {
	SortKey sortkey.Key `json:"sortKey"`

	// State is the canonical contract state document.
	State json.RawMessage `json:"state"`

	Validity      map[string]bool   `json:"validity"`
	ErrorMessages map[string]string `json:"errorMessages"`

	// CodeVersion is the code version in force after SortKey.
	CodeVersion string `json:"codeVersion"`

	// Halted is set once the contract stopped evaluating. Interactions
	// after a halt are never evaluated.
	Halted string `json:"halted,omitempty"`
}

// NewCachedValue returns an empty value seeded with a genesis state.
func NewCachedValue(initState json.RawMessage, codeVersion string) *CachedValue {
	return &CachedValue{
		State:         state.Clone(initState),
		Validity:      make(map[string]bool),
		ErrorMessages: make(map[string]string),
		CodeVersion:   codeVersion,
	}
}

// IsHalted reports whether the contract stopped evaluating.
func (v *CachedValue) IsHalted() bool {
	return v.Halted != ""
}

// Clone returns a deep copy.
func (v *CachedValue) Clone() *CachedValue {
	c := *v
	c.State = state.Clone(v.State)
	c.Validity = maps.Clone(v.Validity)
	if c.Validity == nil {
		c.Validity = make(map[string]bool)
	}
	c.ErrorMessages = maps.Clone(v.ErrorMessages)
	if c.ErrorMessages == nil {
		c.ErrorMessages = make(map[string]string)
	}
	return &c
}

// Encode serializes the value. Map keys are emitted in sorted order and
// HTML characters are left unescaped, so the state bytes survive a round
// trip and equal values encode to identical bytes.
func Encode(v *CachedValue) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding cached value: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a value produced by Encode.
func Decode(data []byte) (*CachedValue, error) {
	var v CachedValue
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCorruptValue, err)
	}
	if v.SortKey != "" {
		if err := sortkey.Validate(v.SortKey); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrCorruptValue, err)
		}
	}
	if v.Validity == nil {
		v.Validity = make(map[string]bool)
	}
	if v.ErrorMessages == nil {
		v.ErrorMessages = make(map[string]string)
	}
	return &v, nil
}
