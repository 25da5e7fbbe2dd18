// Package blake3cid implements the content identifier used throughout the
// storage substrate: a self-describing (version, codec, hash) tuple backed
// by a Blake3-256 digest.
package blake3cid

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"lukechampine.com/blake3"
)

// Codec identifies the payload a CID addresses.
type Codec uint8

const (
	// Raw addresses an opaque byte blob (a chunk or a small file's content).
	Raw Codec = iota
	// DagCbor addresses a CBOR-encoded Merkle node or monofs entity.
	DagCbor
)

func (c Codec) String() string {
	switch c {
	case Raw:
		return "raw"
	case DagCbor:
		return "dag-cbor"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

const (
	// Version is the only CID format version this package produces.
	Version = 1

	// HashSize is the size of a Blake3-256 digest in bytes.
	HashSize = 32

	prefix = "bafy3" // arbitrary but stable textual marker, not interpreted by the store
)

// CID is a self-describing content identifier. CIDs are compared by value;
// they are the only cross-component reference type in the system.
type CID struct {
	version uint8
	codec   Codec
	hash    [HashSize]byte
}

// Undef is the zero-value CID. It never equals a CID produced by New*.
var Undef CID

// NewRaw computes the CID of data under the Raw codec.
func NewRaw(data []byte) CID {
	return CID{version: Version, codec: Raw, hash: blake3.Sum256(data)}
}

// NewDagCbor computes the CID of already-CBOR-encoded bytes under the
// DagCbor codec.
func NewDagCbor(cborBytes []byte) CID {
	return CID{version: Version, codec: DagCbor, hash: blake3.Sum256(cborBytes)}
}

// FromHash builds a CID from a pre-computed digest, without hashing.
func FromHash(codec Codec, hash []byte) (CID, error) {
	if len(hash) != HashSize {
		return CID{}, fmt.Errorf("blake3cid: invalid hash length %d, want %d", len(hash), HashSize)
	}
	var c CID
	c.version = Version
	c.codec = codec
	copy(c.hash[:], hash)
	return c, nil
}

// IsUndef reports whether c is the zero-value CID.
func (c CID) IsUndef() bool { return c == Undef }

// Codec returns the CID's codec.
func (c CID) Codec() Codec { return c.codec }

// Hash returns a copy of the raw digest bytes.
func (c CID) Hash() []byte {
	out := make([]byte, HashSize)
	copy(out, c.hash[:])
	return out
}

// HexString returns the digest as lowercase hex, used as the on-disk
// filename in FlatFsStore.
func (c CID) HexString() string {
	return hex.EncodeToString(c.hash[:])
}

// Equals reports whether two CIDs address the same bytes under the same codec.
func (c CID) Equals(other CID) bool {
	return c.version == other.version && c.codec == other.codec && c.hash == other.hash
}

// String returns a stable textual representation of the CID.
func (c CID) String() string {
	if c.IsUndef() {
		return prefix + ":undef"
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(c.hash[:])
	return fmt.Sprintf("%s:%d:%d:%s", prefix, c.version, c.codec, strings.ToLower(enc))
}

// Parse parses the textual form produced by String.
func Parse(s string) (CID, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 || parts[0] != prefix {
		return CID{}, fmt.Errorf("blake3cid: malformed CID %q", s)
	}
	var version int
	var codec int
	if _, err := fmt.Sscanf(parts[1], "%d", &version); err != nil {
		return CID{}, fmt.Errorf("blake3cid: malformed version in %q: %w", s, err)
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &codec); err != nil {
		return CID{}, fmt.Errorf("blake3cid: malformed codec in %q: %w", s, err)
	}
	hash, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(parts[3]))
	if err != nil {
		return CID{}, fmt.Errorf("blake3cid: malformed hash in %q: %w", s, err)
	}
	if len(hash) != HashSize {
		return CID{}, fmt.Errorf("blake3cid: invalid hash size in %q: got %d, want %d", s, len(hash), HashSize)
	}
	c := CID{version: uint8(version), codec: Codec(codec)}
	copy(c.hash[:], hash)
	return c, nil
}

// MarshalCBOR implements cbor.Marshaler so a CID can be embedded directly in
// monofs entities and Merkle nodes.
func (c CID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cidOnWire{
		Version: c.version,
		Codec:   uint8(c.codec),
		Hash:    c.hash[:],
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (c *CID) UnmarshalCBOR(data []byte) error {
	var w cidOnWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.Hash) != HashSize {
		return fmt.Errorf("blake3cid: invalid hash length %d in CBOR payload", len(w.Hash))
	}
	c.version = w.Version
	c.codec = Codec(w.Codec)
	copy(c.hash[:], w.Hash)
	return nil
}

type cidOnWire struct {
	Version uint8  `cbor:"v"`
	Codec   uint8  `cbor:"c"`
	Hash    []byte `cbor:"h"`
}
