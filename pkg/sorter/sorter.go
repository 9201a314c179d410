// Package sorter imposes the canonical replay order on loaded interactions
// and slices sorted sequences by sort key bounds.
package sorter

import (
	"fmt"
	"slices"
	"sort"

	"github.com/janekolszak/warp/pkg/interaction"
	"github.com/janekolszak/warp/pkg/sortkey"
	"github.com/janekolszak/warp/pkg/types"
)

// Sort returns a new slice with the records in ascending sort key order.
// Keys are trusted as loaded and never re-derived. Repeated records with the
// same ID are collapsed; two different IDs sharing a key is a data-integrity
// error.
func Sort(records []*interaction.Record) ([]*interaction.Record, error) {
	sorted := make([]*interaction.Record, len(records))
	copy(sorted, records)
	slices.SortStableFunc(sorted, func(a, b *interaction.Record) int {
		return sortkey.Compare(a.SortKey, b.SortKey)
	})

	out := sorted[:0]
	for i, r := range sorted {
		if r.SortKey == "" {
			return nil, types.WrapInteractionError(types.WrapValidationError(types.ErrInvalidSortKey, "sort key"), r.ID)
		}
		if i > 0 && sorted[i-1].SortKey == r.SortKey {
			if sorted[i-1].ID == r.ID {
				continue
			}
			return nil, fmt.Errorf("%w: interactions %s and %s share sort key %s",
				types.ErrDataIntegrity, sorted[i-1].ID, r.ID, r.SortKey)
		}
		out = append(out, r)
	}
	return out, nil
}

// IsSorted reports whether records are in strictly ascending key order.
func IsSorted(records []*interaction.Record) bool {
	for i := 1; i < len(records); i++ {
		if records[i-1].SortKey >= records[i].SortKey {
			return false
		}
	}
	return true
}

// SliceRange returns the sub-slice of an already sorted sequence with
// from < key <= to. Empty bounds are unbounded. The result shares the
// backing array of sorted.
func SliceRange(sorted []*interaction.Record, from, to sortkey.Key) []*interaction.Record {
	start := 0
	if from != "" {
		start = sort.Search(len(sorted), func(i int) bool {
			return sorted[i].SortKey > from
		})
	}
	end := len(sorted)
	if to != "" {
		end = sort.Search(len(sorted), func(i int) bool {
			return sorted[i].SortKey > to
		})
	}
	if start >= end {
		return nil
	}
	return sorted[start:end]
}

// LastKey returns the key of the final record, or the empty key.
func LastKey(sorted []*interaction.Record) sortkey.Key {
	if len(sorted) == 0 {
		return ""
	}
	return sorted[len(sorted)-1].SortKey
}
