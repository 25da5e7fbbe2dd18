// Package store defines the block store contract and its error taxonomy.
// A store persists and retrieves raw blocks and CBOR nodes addressed by
// content hash, with no knowledge of what the bytes mean.
package store

import (
	"context"
	"fmt"
	"io"

	"github.com/monocore-go/monocore/internal/blake3cid"
)

// RawBlockTooLarge is returned by PutRawBlock when a block exceeds the
// store's raw block size limit.
type RawBlockTooLarge struct {
	Size, Max uint64
}

func (e RawBlockTooLarge) Error() string {
	return fmt.Sprintf("store: raw block too large: %d bytes, max %d", e.Size, e.Max)
}

// NodeBlockTooLarge is returned by PutNode when the serialized node exceeds
// the store's node size limit.
type NodeBlockTooLarge struct {
	Size, Max uint64
}

func (e NodeBlockTooLarge) Error() string {
	return fmt.Sprintf("store: node block too large: %d bytes, max %d", e.Size, e.Max)
}

// BlockNotFound is returned when a CID has no corresponding block.
type BlockNotFound struct {
	CID blake3cid.CID
}

func (e BlockNotFound) Error() string {
	return fmt.Sprintf("store: block not found: %s", e.CID)
}

// UnexpectedBlockCodec is returned by GetNode when the CID's codec
// disagrees with what was requested.
type UnexpectedBlockCodec struct {
	Expected, Found blake3cid.Codec
}

func (e UnexpectedBlockCodec) Error() string {
	return fmt.Sprintf("store: unexpected block codec: expected %s, found %s", e.Expected, e.Found)
}

// Store is the block store contract. Implementations may additionally
// satisfy SeekableStore.
type Store interface {
	// PutRawBlock stores data as a Raw block and returns its CID.
	PutRawBlock(ctx context.Context, data []byte) (blake3cid.CID, error)

	// PutNode serializes value to canonical CBOR and stores it as a
	// DagCbor block, returning its CID.
	PutNode(ctx context.Context, value interface{}) (blake3cid.CID, error)

	// GetRawBlock retrieves the bytes of a Raw block.
	GetRawBlock(ctx context.Context, cid blake3cid.CID) ([]byte, error)

	// GetNode decodes a DagCbor block into out, a pointer to the
	// destination value.
	GetNode(ctx context.Context, cid blake3cid.CID, out interface{}) error

	// GetBytes returns a reader over the full byte DAG addressed by cid,
	// whether it is a single Raw block or a DagCbor Merkle node.
	GetBytes(ctx context.Context, cid blake3cid.CID) (io.ReadCloser, error)

	// GetBytesSize returns the total byte length addressed by cid.
	GetBytesSize(ctx context.Context, cid blake3cid.CID) (uint64, error)

	// Has reports whether a block exists for cid.
	Has(ctx context.Context, cid blake3cid.CID) (bool, error)

	// GetBlockCount returns the number of blocks held by the store.
	GetBlockCount(ctx context.Context) (uint64, error)

	// RawBlockMaxSize returns the raw block size limit, if any.
	RawBlockMaxSize() (size uint64, ok bool)

	// NodeBlockMaxSize returns the node block size limit, if any.
	NodeBlockMaxSize() (size uint64, ok bool)
}

// SeekableStore is implemented by stores whose GetBytes readers also
// support seeking.
type SeekableStore interface {
	Store
	GetSeekableBytes(ctx context.Context, cid blake3cid.CID) (io.ReadSeekCloser, error)
}
