package monofs

import (
	"context"
	"fmt"

	"github.com/monocore-go/monocore/internal/blake3cid"
)

// Store is the subset of the block store contract monofs entities need to
// persist and reload themselves.
type Store interface {
	PutRawBlock(ctx context.Context, data []byte) (blake3cid.CID, error)
	PutNode(ctx context.Context, value interface{}) (blake3cid.CID, error)
	GetRawBlock(ctx context.Context, cid blake3cid.CID) ([]byte, error)
	GetNode(ctx context.Context, cid blake3cid.CID, out interface{}) error
	GetBytesSize(ctx context.Context, cid blake3cid.CID) (uint64, error)
}

// Entity is implemented by every concrete filesystem node: Dir, File,
// SymCidLink, SymPathLink.
type Entity interface {
	// GetMetadata returns the entity's metadata record.
	GetMetadata() Metadata

	// Store serializes the entity (and, transitively, anything it
	// references) and returns its CID. It updates the receiver's version
	// bookkeeping (previous is wired from the initial-load CID, which is
	// settled to the stored CID if unset) and, for a Dir, records child
	// CIDs in its links; callers that want the checkpoint idiom call
	// Checkpoint instead.
	Store(ctx context.Context, store Store) (blake3cid.CID, error)
}

// NotADirectory is returned when a path traversal hits a non-directory
// intermediate component.
type NotADirectory struct {
	Path string
}

func (e NotADirectory) Error() string {
	return fmt.Sprintf("monofs: not a directory: %s", e.Path)
}

// NotAFile is returned when an operation expecting a file finds something else.
type NotAFile struct {
	Path string
}

func (e NotAFile) Error() string {
	return fmt.Sprintf("monofs: not a file: %s", e.Path)
}

// NotASymlink is returned when an operation expecting a symlink finds
// something else.
type NotASymlink struct {
	Path string
}

func (e NotASymlink) Error() string {
	return fmt.Sprintf("monofs: not a symlink: %s", e.Path)
}

// EntityNotFound is returned when any component of a traversed path is missing.
type EntityNotFound struct {
	Path string
}

func (e EntityNotFound) Error() string {
	return fmt.Sprintf("monofs: not found: %s", e.Path)
}

// BrokenLink is returned when a symlink's target cannot be loaded.
type BrokenLink struct {
	Target string
}

func (e BrokenLink) Error() string {
	return fmt.Sprintf("monofs: broken link: target %s unreachable", e.Target)
}

// MaxDepthReached is returned when symlink resolution exhausts its hop budget.
type MaxDepthReached struct{}

func (MaxDepthReached) Error() string { return "monofs: max symlink depth reached" }

// DefaultSymlinkDepth bounds symlink-chain resolution absent an explicit override.
const DefaultSymlinkDepth = 10
