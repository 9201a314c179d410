// Package state handles contract state documents: canonical encoding,
// copying and reading the evolve pointer.
//
// Contract state is an opaque JSON document owned by contract code. The
// evaluator stores and compares it only in canonical form (RFC 8785), so
// snapshots produced by different replay paths are byte-identical.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/valyala/fastjson"

	"github.com/janekolszak/warp/pkg/types"
)

// EvolveField is the state field that points at the code version in force.
const EvolveField = "evolve"

var parsers fastjson.ParserPool

// Canonical returns the RFC 8785 canonical form of a JSON document.
func Canonical(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty state document", types.ErrCorruptValue)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalizing state: %v", types.ErrCorruptValue, err)
	}
	return out, nil
}

// Encode marshals v and returns its canonical form.
func Encode(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return Canonical(raw)
}

// MustEncode is like Encode but panics on error. Intended for fixtures.
func MustEncode(v any) json.RawMessage {
	raw, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// Decode unmarshals a state document into v.
func Decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decoding state: %v", types.ErrCorruptValue, err)
	}
	return nil
}

// Clone returns a copy that shares no memory with raw.
func Clone(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return bytes.Clone(raw)
}

// Equal reports whether two documents are equal after canonicalization.
// Documents that fail to canonicalize are compared byte-wise.
func Equal(a, b json.RawMessage) bool {
	ca, errA := Canonical(a)
	cb, errB := Canonical(b)
	if errA != nil || errB != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca, cb)
}

// EvolveTarget returns the code version named by the evolve field of a
// state document. Missing, null or non-string values report false.
func EvolveTarget(raw json.RawMessage) (string, bool) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil {
		return "", false
	}
	field := v.Get(EvolveField)
	if field == nil || field.Type() != fastjson.TypeString {
		return "", false
	}
	target := string(field.GetStringBytes())
	if target == "" {
		return "", false
	}
	return target, true
}
