package monofs

import (
	"context"
	"time"

	"github.com/monocore-go/monocore/internal/blake3cid"
)

// File is a regular file: its content is the CID of either a single Raw
// block or a DagCbor Merkle node, or nil for an empty file.
type File struct {
	versioned
	metadata Metadata
	content  *blake3cid.CID
}

var _ Entity = (*File)(nil)

// NewFile creates an empty file.
func NewFile(now time.Time) *File {
	return &File{metadata: NewMetadata(EntityTypeFile, now)}
}

// GetMetadata implements Entity.
func (f *File) GetMetadata() Metadata { return f.metadata }

// Content returns the CID of the file's content DAG, or false for an empty file.
func (f *File) Content() (blake3cid.CID, bool) {
	if f.content == nil {
		return blake3cid.CID{}, false
	}
	return *f.content, true
}

// Size returns the file's byte length by asking the store for the content
// DAG's size, or 0 for an empty file.
func (f *File) Size(ctx context.Context, store Store) (uint64, error) {
	if f.content == nil {
		return 0, nil
	}
	return store.GetBytesSize(ctx, *f.content)
}

// SetContent returns a copy of f with its content replaced by cid, bumping
// ModifiedAt. The receiver is left untouched (copy-before-mutate).
func (f *File) SetContent(now time.Time, cid blake3cid.CID) *File {
	cp := f.clone()
	c := cid
	cp.content = &c
	cp.metadata.touch(now)
	return cp
}

func (f *File) clone() *File {
	cp := &File{
		versioned: f.versioned.clone(),
		metadata:  f.metadata.clone(),
	}
	if f.content != nil {
		c := *f.content
		cp.content = &c
	}
	return cp
}

type fileOnWire struct {
	Type     EntityType     `cbor:"type"`
	Metadata Metadata       `cbor:"metadata"`
	Content  *blake3cid.CID `cbor:"content,omitempty"`
	Previous *blake3cid.CID `cbor:"previous,omitempty"`
}

// Store implements Entity.
func (f *File) Store(ctx context.Context, store Store) (blake3cid.CID, error) {
	f.wirePrevious()
	wire := fileOnWire{
		Type:     EntityTypeFile,
		Metadata: f.metadata,
		Content:  f.content,
		Previous: f.previous,
	}
	cid, err := store.PutNode(ctx, wire)
	if err != nil {
		return blake3cid.CID{}, err
	}
	f.settleInitialLoad(cid)
	return cid, nil
}

// LoadFile loads a File from its CID.
func LoadFile(ctx context.Context, store Store, cid blake3cid.CID) (*File, error) {
	var wire fileOnWire
	if err := store.GetNode(ctx, cid, &wire); err != nil {
		return nil, err
	}
	f := &File{metadata: wire.Metadata, content: wire.Content}
	f.previous = wire.Previous
	f.initialLoadCID = cid
	return f, nil
}

// Checkpoint stores f and returns a fresh File loaded from the resulting
// CID, so the next mutation's previous correctly points at it.
func (f *File) Checkpoint(ctx context.Context, store Store) (*File, blake3cid.CID, error) {
	cid, err := f.Store(ctx, store)
	if err != nil {
		return nil, blake3cid.CID{}, err
	}
	loaded, err := LoadFile(ctx, store, cid)
	if err != nil {
		return nil, blake3cid.CID{}, err
	}
	return loaded, cid, nil
}
