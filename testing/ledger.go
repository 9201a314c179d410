// Package testing provides ledger fixtures for warp tests.
package testing

import (
	"fmt"
	"slices"
	"sync"

	"github.com/janekolszak/warp/pkg/interaction"
	"github.com/janekolszak/warp/pkg/sortkey"
)

// Ledger is an in-memory, append-only chain of interaction blocks.
// Interactions are added to the pending block and become visible once
// the block is mined.
type Ledger struct {
	mu      sync.Mutex
	height  uint64
	pending []*interaction.Record
	mined   []*interaction.Record
	nextTx  int
	owner   string
	baseTS  int64
}

// NewLedger returns an empty ledger. The first mined block has height 1.
func NewLedger() *Ledger {
	return &Ledger{owner: "owner-1", baseTS: 1_700_000_000}
}

// BlockID returns the fixture block identifier for a height.
func BlockID(height uint64) string {
	return fmt.Sprintf("block-%d", height)
}

// Interact appends an interaction with the given JSON input to the pending
// block. Extra tags are appended after the standard ones.
func (l *Ledger) Interact(contractID, input string, extra ...interaction.Tag) *interaction.Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextTx++
	height := l.height + 1
	r := &interaction.Record{
		ID:    fmt.Sprintf("tx-%05d", l.nextTx),
		Owner: l.owner,
		Tags: append(interaction.NewTags(
			interaction.TagAppName, interaction.AppNameAction,
			interaction.TagContract, contractID,
			interaction.TagInput, input,
		), extra...),
		Block: interaction.Block{
			Height:    height,
			ID:        BlockID(height),
			Timestamp: l.baseTS + int64(height),
		},
	}
	if err := r.EnsureSortKey(); err != nil {
		panic(err)
	}
	l.pending = append(l.pending, r)
	return r.Clone()
}

// Mine confirms the pending block and returns its height. Mining with no
// pending interactions still advances the chain.
func (l *Ledger) Mine() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.height++
	l.mined = append(l.mined, l.pending...)
	l.pending = nil
	return l.height
}

// Height returns the height of the last mined block.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// Records returns copies of all mined interactions in sort key order.
func (l *Ledger) Records() []*interaction.Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*interaction.Record, len(l.mined))
	for i, r := range l.mined {
		out[i] = r.Clone()
	}
	slices.SortFunc(out, func(a, b *interaction.Record) int {
		return sortkey.Compare(a.SortKey, b.SortKey)
	})
	return out
}

// Spread mines n interactions for contractID across the given number of
// blocks, round robin, and returns them in sort key order.
func (l *Ledger) Spread(contractID string, n, blocks int) []*interaction.Record {
	perBlock := (n + blocks - 1) / blocks
	created := 0
	for b := 0; b < blocks && created < n; b++ {
		for i := 0; i < perBlock && created < n; i++ {
			l.Interact(contractID, fmt.Sprintf(`{"function":"noop","n":%d}`, created))
			created++
		}
		l.Mine()
	}
	all := l.Records()
	out := all[:0]
	for _, r := range all {
		if r.Targets(contractID) {
			out = append(out, r)
		}
	}
	return out
}
