// Package interaction defines the interaction record loaded from the
// ledger index and replayed by the state evaluator.
package interaction

import (
	"encoding/json"
	"fmt"

	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/types"
)

// Tag is a single name/value transaction tag. Tag order is significant.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Block is the ledger block an interaction was confirmed in.
type Block struct {
	Height    uint64 `json:"height"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// Record is one interaction transaction. Records are immutable values once
// loaded; two records with the same ID are identical.
type Record struct {
	ID         string      `json:"id"`
	SortKey    sortkey.Key `json:"sortKey"`
	Owner      string      `json:"owner"`
	Recipient  string      `json:"recipient,omitempty"`
	Tags       []Tag       `json:"tags"`
	Block      Block       `json:"block"`
	PayloadRef string      `json:"payloadRef,omitempty"`

	// Seq orders interactions bundled inside another transaction.
	Seq []uint64 `json:"seq,omitempty"`
}

// ComputeSortKey derives the record's sort key from its own fields.
// A sequencer-assigned key in the Sequencer-Sort-Key tag takes precedence.
func (r *Record) ComputeSortKey() (sortkey.Key, error) {
	if k, ok := r.Tag(TagSequencerSortKey); ok {
		key := sortkey.Key(k)
		if err := sortkey.Validate(key); err != nil {
			return "", types.WrapInteractionError(err, r.ID)
		}
		return key, nil
	}
	key, err := sortkey.Compose(r.Block.Height, r.Block.ID, r.ID, r.Seq...)
	if err != nil {
		return "", types.WrapInteractionError(err, r.ID)
	}
	return key, nil
}

// EnsureSortKey fills SortKey when it is empty and verifies it otherwise.
func (r *Record) EnsureSortKey() error {
	computed, err := r.ComputeSortKey()
	if err != nil {
		return err
	}
	if r.SortKey == "" {
		r.SortKey = computed
		return nil
	}
	if r.SortKey != computed {
		return fmt.Errorf("%w: interaction %s carries sort key %s, derived %s",
			types.ErrDataIntegrity, r.ID, r.SortKey, computed)
	}
	return nil
}

// Validate checks the fields required for replay.
func (r *Record) Validate() error {
	if r.ID == "" {
		return types.WrapValidationError(types.ErrDataIntegrity, "id")
	}
	if r.Block.ID == "" {
		return types.WrapInteractionError(types.WrapValidationError(types.ErrDataIntegrity, "block id"), r.ID)
	}
	if err := sortkey.Validate(r.SortKey); err != nil {
		return types.WrapInteractionError(err, r.ID)
	}
	return nil
}

// Tag returns the value of the first tag with the given name.
func (r *Record) Tag(name string) (string, bool) {
	for _, t := range r.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// TagValues returns every value of tags with the given name, in order.
func (r *Record) TagValues(name string) []string {
	var out []string
	for _, t := range r.Tags {
		if t.Name == name {
			out = append(out, t.Value)
		}
	}
	return out
}

// Input returns the raw JSON carried by the Input tag.
func (r *Record) Input() (json.RawMessage, error) {
	v, ok := r.Tag(TagInput)
	if !ok {
		return nil, types.WrapInteractionError(fmt.Errorf("missing %s tag", TagInput), r.ID)
	}
	if !json.Valid([]byte(v)) {
		return nil, types.WrapInteractionError(fmt.Errorf("%s tag is not valid JSON", TagInput), r.ID)
	}
	return json.RawMessage(v), nil
}

// Function returns the "function" field of the interaction input, if any.
func (r *Record) Function() string {
	raw, err := r.Input()
	if err != nil {
		return ""
	}
	var in struct {
		Function string `json:"function"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return ""
	}
	return in.Function
}

// Targets reports whether the interaction writes to contractID, either
// directly through the Contract tag or through an Interact-Write tag.
func (r *Record) Targets(contractID string) bool {
	for _, t := range r.Tags {
		if (t.Name == TagContract || t.Name == TagInteractWrite) && t.Value == contractID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.Tags = append([]Tag(nil), r.Tags...)
	c.Seq = append([]uint64(nil), r.Seq...)
	return &c
}
