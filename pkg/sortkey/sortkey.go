// Package sortkey provides the totally ordered, string-comparable identifier
// used to order contract interactions.
//
// A key has the form
//
//	<height:12 digits>,<block component:64 hex>,<tx component:64 hex>[,<seq:10 digits>]...
//
// The block component is sha256(blockID) and the transaction component is
// sha256(blockID || txID), so two interactions in the same block are totally
// ordered and the order cannot be chosen independently of the block. Each
// optional sequence segment orders an interaction bundled inside another
// transaction; nested bundles append one segment per level.
//
// Keys compare correctly as plain strings, so storage layers can order them
// without a custom comparator.
package sortkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/janekolszak/warp/pkg/types"
)

// Key is a lexicographically comparable interaction sort key.
// The empty Key means "unbounded" when used as a range bound.
type Key string

// Layout constants.
const (
	HeightWidth   = 12
	HashWidth     = sha256.Size * 2
	SeqWidth      = 10
	Separator     = ","
	MaxHeight     = 999_999_999_999
	MaxSeq        = 9_999_999_999
	baseKeyLength = HeightWidth + 2*len(Separator) + 2*HashWidth
)

// Parts are the decomposed fields of a Key.
type Parts struct {
	Height         uint64
	BlockComponent string
	TxComponent    string
	Seq            []uint64
}

// Compose builds the sort key for an interaction at height in block blockID
// with transaction id txID. Optional seq values order bundled interactions.
func Compose(height uint64, blockID, txID string, seq ...uint64) (Key, error) {
	if height > MaxHeight {
		return "", fmt.Errorf("%w: height %d exceeds %d", types.ErrInvalidSortKey, height, uint64(MaxHeight))
	}
	if blockID == "" || txID == "" {
		return "", fmt.Errorf("%w: block and transaction ids are required", types.ErrInvalidSortKey)
	}

	blockSum := sha256.Sum256([]byte(blockID))
	h := sha256.New()
	h.Write([]byte(blockID))
	h.Write([]byte(txID))

	var b strings.Builder
	b.Grow(baseKeyLength + len(seq)*(SeqWidth+1))
	b.WriteString(padUint(height, HeightWidth))
	b.WriteString(Separator)
	b.WriteString(hex.EncodeToString(blockSum[:]))
	b.WriteString(Separator)
	b.WriteString(hex.EncodeToString(h.Sum(nil)))
	for _, s := range seq {
		if s > MaxSeq {
			return "", fmt.Errorf("%w: sequence %d exceeds %d", types.ErrInvalidSortKey, s, uint64(MaxSeq))
		}
		b.WriteString(Separator)
		b.WriteString(padUint(s, SeqWidth))
	}
	return Key(b.String()), nil
}

// MustCompose is like Compose but panics on invalid input.
// Intended for fixtures and tests.
func MustCompose(height uint64, blockID, txID string, seq ...uint64) Key {
	k, err := Compose(height, blockID, txID, seq...)
	if err != nil {
		panic(err)
	}
	return k
}

// Decompose parses a key into its fields.
func Decompose(k Key) (Parts, error) {
	fields := strings.Split(string(k), Separator)
	if len(fields) < 3 {
		return Parts{}, fmt.Errorf("%w: %q has %d fields", types.ErrInvalidSortKey, k, len(fields))
	}

	height, err := parseDigits(fields[0], HeightWidth)
	if err != nil {
		return Parts{}, fmt.Errorf("%w: height: %v", types.ErrInvalidSortKey, err)
	}
	if !isHex(fields[1]) {
		return Parts{}, fmt.Errorf("%w: block component %q", types.ErrInvalidSortKey, fields[1])
	}
	if !isHex(fields[2]) {
		return Parts{}, fmt.Errorf("%w: tx component %q", types.ErrInvalidSortKey, fields[2])
	}

	p := Parts{
		Height:         height,
		BlockComponent: fields[1],
		TxComponent:    fields[2],
	}
	for _, f := range fields[3:] {
		s, err := parseDigits(f, SeqWidth)
		if err != nil {
			return Parts{}, fmt.Errorf("%w: sequence: %v", types.ErrInvalidSortKey, err)
		}
		p.Seq = append(p.Seq, s)
	}
	return p, nil
}

// Validate reports whether k is a well-formed key.
func Validate(k Key) error {
	_, err := Decompose(k)
	return err
}

// Height returns the block height encoded in k.
func Height(k Key) (uint64, error) {
	if len(k) < HeightWidth {
		return 0, fmt.Errorf("%w: %q too short", types.ErrInvalidSortKey, k)
	}
	return parseDigits(string(k[:HeightWidth]), HeightWidth)
}

// Compare returns -1, 0 or 1. It is identical to byte-wise string comparison.
func Compare(a, b Key) int {
	return strings.Compare(string(a), string(b))
}

// InRange reports whether from < k <= to. An empty bound is unbounded.
func InRange(k, from, to Key) bool {
	if from != "" && k <= from {
		return false
	}
	if to != "" && k > to {
		return false
	}
	return true
}

// IsZero reports whether k is the empty, unbounded key.
func (k Key) IsZero() bool {
	return k == ""
}

func (k Key) String() string {
	return string(k)
}

func padUint(v uint64, width int) string {
	s := strconv.FormatUint(v, 10)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

func parseDigits(s string, width int) (uint64, error) {
	if len(s) != width {
		return 0, fmt.Errorf("expected %d digits, got %q", width, s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("non-digit in %q", s)
		}
	}
	return strconv.ParseUint(s, 10, 64)
}

func isHex(s string) bool {
	if len(s) != HashWidth {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
