// Package cborcanon provides canonical CBOR encoding helpers used to
// serialize Merkle nodes and monofs entities: deterministic key order, no
// ambiguous float encodings, so that encoding the same value twice always
// yields the same bytes and therefore the same CID.
package cborcanon

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// CanonicalMode is the CBOR encoding mode every store-bound value must go
// through: deterministic map key order and the smallest unambiguous
// numeric encodings.
var CanonicalMode cbor.EncMode

func init() {
	var err error
	CanonicalMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborcanon: failed to build canonical mode: %v", err))
	}
}

// Marshal encodes v into canonical CBOR.
func Marshal(v interface{}) ([]byte, error) {
	return CanonicalMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// CanonicalBytes re-encodes data in canonical form by round-tripping it
// through a generic value.
func CanonicalBytes(data []byte) ([]byte, error) {
	var v interface{}
	if err := Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("cborcanon: invalid CBOR: %w", err)
	}
	return Marshal(v)
}

// IsCanonical reports whether data is already in canonical form.
func IsCanonical(data []byte) bool {
	canonical, err := CanonicalBytes(data)
	if err != nil {
		return false
	}
	return bytes.Equal(data, canonical)
}

// SortedMap wraps a map with deterministic key ordering, for the rare
// caller building an extended-attributes value by hand instead of via a
// tagged struct.
type SortedMap struct {
	Keys   []string
	Values map[string]interface{}
}

// NewSortedMap builds a SortedMap from a regular map.
func NewSortedMap(m map[string]interface{}) *SortedMap {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &SortedMap{Keys: keys, Values: m}
}

// MarshalCBOR implements cbor.Marshaler with deterministic key order.
func (sm *SortedMap) MarshalCBOR() ([]byte, error) {
	ordered := make(map[string]interface{}, len(sm.Keys))
	for _, k := range sm.Keys {
		ordered[k] = sm.Values[k]
	}
	return CanonicalMode.Marshal(ordered)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (sm *SortedMap) UnmarshalCBOR(data []byte) error {
	var m map[string]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return err
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sm.Keys = keys
	sm.Values = m
	return nil
}
