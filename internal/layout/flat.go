// Package layout assembles a stream of chunks into a Merkle DAG and exposes
// random-access readers over the reassembled bytes.
package layout

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/monocore-go/monocore/internal/blake3cid"
)

// ErrEmptyStream is returned by Organize when the chunk stream produced no
// chunks at all.
var ErrEmptyStream = errors.New("layout: empty chunk stream")

// ErrNoLeafBlock is returned when a Merkle node has no children to read from.
var ErrNoLeafBlock = errors.New("layout: node has no leaf blocks")

// MerkleNode lists a file's children in order, plus their aggregate size.
type MerkleNode struct {
	Children []MerkleChild `cbor:"children"`
	Size     uint64        `cbor:"size"`
}

// MerkleChild is one entry in a MerkleNode's child list.
type MerkleChild struct {
	CID  blake3cid.CID `cbor:"cid"`
	Size uint64        `cbor:"size"`
}

// BlockStore is the minimal subset of the block store contract a Layout
// needs. store.Store satisfies this interface structurally.
type BlockStore interface {
	PutRawBlock(ctx context.Context, data []byte) (blake3cid.CID, error)
	PutNode(ctx context.Context, value interface{}) (blake3cid.CID, error)
	GetRawBlock(ctx context.Context, cid blake3cid.CID) ([]byte, error)
	GetNode(ctx context.Context, cid blake3cid.CID, out interface{}) error
}

// Layout maps a chunk stream to a DAG of CIDs and back.
type Layout interface {
	// Organize stores each chunk as it arrives and returns the CIDs of
	// every raw block followed by the CID of the Merkle node tying them
	// together (the last value on the channel).
	Organize(ctx context.Context, chunks <-chan []byte, store BlockStore) <-chan OrganizeResult

	// Retrieve returns a reader over the bytes addressed by cid.
	Retrieve(ctx context.Context, cid blake3cid.CID, store BlockStore) (io.ReadCloser, error)

	// GetSize returns the total byte length addressed by cid.
	GetSize(ctx context.Context, cid blake3cid.CID, store BlockStore) (uint64, error)
}

// LayoutSeekable is implemented by layouts whose Retrieve reader also
// supports seeking.
type LayoutSeekable interface {
	Layout
	RetrieveSeekable(ctx context.Context, cid blake3cid.CID, store BlockStore) (io.ReadSeekCloser, error)
}

// OrganizeResult is one value emitted by Organize: the CID of each raw
// block as it is stored, then, as the last send, the Merkle node's CID on
// success or an error on failure.
type OrganizeResult struct {
	CID blake3cid.CID
	Err error
}

// FlatLayout organizes a chunk stream as a single Merkle node pointing
// directly at an array of Raw-block children.
type FlatLayout struct{}

var _ LayoutSeekable = FlatLayout{}

// Organize implements Layout.
func (FlatLayout) Organize(ctx context.Context, chunks <-chan []byte, store BlockStore) <-chan OrganizeResult {
	out := make(chan OrganizeResult)

	go func() {
		defer close(out)

		var children []MerkleChild
		for chunk := range chunks {
			select {
			case <-ctx.Done():
				out <- OrganizeResult{Err: ctx.Err()}
				return
			default:
			}

			cid, err := store.PutRawBlock(ctx, chunk)
			if err != nil {
				out <- OrganizeResult{Err: err}
				return
			}
			children = append(children, MerkleChild{CID: cid, Size: uint64(len(chunk))})
			out <- OrganizeResult{CID: cid}
		}

		if len(children) == 0 {
			out <- OrganizeResult{Err: ErrEmptyStream}
			return
		}

		var total uint64
		for _, c := range children {
			total += c.Size
		}
		node := MerkleNode{Children: children, Size: total}

		nodeCID, err := store.PutNode(ctx, node)
		if err != nil {
			out <- OrganizeResult{Err: err}
			return
		}
		out <- OrganizeResult{CID: nodeCID}
	}()

	return out
}

// Retrieve implements Layout.
func (l FlatLayout) Retrieve(ctx context.Context, cid blake3cid.CID, store BlockStore) (io.ReadCloser, error) {
	return l.newReader(ctx, cid, store)
}

// RetrieveSeekable implements LayoutSeekable.
func (l FlatLayout) RetrieveSeekable(ctx context.Context, cid blake3cid.CID, store BlockStore) (io.ReadSeekCloser, error) {
	return l.newReader(ctx, cid, store)
}

// GetSize implements Layout.
func (FlatLayout) GetSize(ctx context.Context, cid blake3cid.CID, store BlockStore) (uint64, error) {
	var node MerkleNode
	if err := store.GetNode(ctx, cid, &node); err != nil {
		return 0, err
	}
	return node.Size, nil
}

func (FlatLayout) newReader(ctx context.Context, cid blake3cid.CID, store BlockStore) (*flatReader, error) {
	var node MerkleNode
	if err := store.GetNode(ctx, cid, &node); err != nil {
		return nil, err
	}
	if len(node.Children) == 0 && node.Size > 0 {
		return nil, ErrNoLeafBlock
	}
	return &flatReader{ctx: ctx, store: store, node: node}, nil
}

// flatReader is a random-access reader over a FlatLayout's Merkle node.
// It tracks (byteCursor, chunkIndex, chunkDistance): chunkDistance is the
// byte offset at which chunkIndex begins, so Seek can relocate chunkIndex
// by walking the child list without re-reading any bytes.
type flatReader struct {
	ctx   context.Context
	store BlockStore
	node  MerkleNode

	byteCursor    uint64
	chunkIndex    int
	chunkDistance uint64

	current    []byte // bytes of the chunk at chunkIndex, loaded lazily
	currentOff int    // offset into current already consumed
}

func (r *flatReader) Read(p []byte) (int, error) {
	if r.byteCursor >= r.node.Size {
		return 0, io.EOF
	}

	if r.current == nil {
		data, err := r.store.GetRawBlock(r.ctx, r.node.Children[r.chunkIndex].CID)
		if err != nil {
			return 0, err
		}
		r.current = data
		r.currentOff = int(r.byteCursor - r.chunkDistance)
	}

	n := copy(p, r.current[r.currentOff:])
	r.currentOff += n
	r.byteCursor += uint64(n)

	if r.currentOff >= len(r.current) {
		r.chunkDistance += r.node.Children[r.chunkIndex].Size
		r.chunkIndex++
		r.current = nil
		r.currentOff = 0
	}

	return n, nil
}

func (r *flatReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = int64(r.byteCursor) + offset
	case io.SeekEnd:
		target = int64(r.node.Size) + offset
	default:
		return 0, fmt.Errorf("layout: invalid whence %d", whence)
	}

	if target < 0 || target > int64(r.node.Size) {
		return 0, fmt.Errorf("%w: seek target %d out of [0, %d]", io.ErrShortBuffer, target, r.node.Size)
	}

	r.byteCursor = uint64(target)
	r.current = nil
	r.currentOff = 0

	if r.byteCursor >= r.node.Size {
		r.chunkIndex = len(r.node.Children)
		return int64(r.byteCursor), nil
	}

	// Relocate chunkIndex/chunkDistance to the chunk containing byteCursor.
	idx, dist := 0, uint64(0)
	for idx < len(r.node.Children) && dist+r.node.Children[idx].Size <= r.byteCursor {
		dist += r.node.Children[idx].Size
		idx++
	}
	r.chunkIndex = idx
	r.chunkDistance = dist

	return int64(r.byteCursor), nil
}

func (r *flatReader) Close() error { return nil }
