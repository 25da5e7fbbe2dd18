package monofs

import (
	"context"
	"time"

	"github.com/monocore-go/monocore/internal/blake3cid"
)

// SymPathLink is a symlink whose target is a relative Unix path, resolved
// against a parent directory — Unix semantics: it breaks if the target
// moves, unlike SymCidLink.
type SymPathLink struct {
	versioned
	metadata Metadata
	target   string
}

var _ Entity = (*SymPathLink)(nil)

// NewSymPathLink creates a link with the given relative target path.
func NewSymPathLink(now time.Time, target string) *SymPathLink {
	return &SymPathLink{metadata: NewMetadata(EntityTypeSymPathLink, now), target: target}
}

// GetMetadata implements Entity.
func (l *SymPathLink) GetMetadata() Metadata { return l.metadata }

// Target returns the link's relative target path.
func (l *SymPathLink) Target() string { return l.target }

// Follow resolves the link against parent, following up to depth hops of
// chained symlinks (of either kind). It returns MaxDepthReached if depth
// is exhausted, or BrokenLink if the target path cannot be found or fails
// to parse.
func (l *SymPathLink) Follow(ctx context.Context, store Store, parent *Dir, depth int) (Entity, error) {
	if depth <= 0 {
		return nil, MaxDepthReached{}
	}

	segments, err := SplitPath(l.target)
	if err != nil {
		return nil, BrokenLink{Target: l.target}
	}

	entity, err := parent.Find(ctx, store, segments)
	if err != nil {
		return nil, BrokenLink{Target: l.target}
	}

	switch t := entity.(type) {
	case *SymPathLink:
		return t.Follow(ctx, store, parent, depth-1)
	case *SymCidLink:
		return t.Follow(ctx, store, depth-1)
	default:
		return entity, nil
	}
}

func (l *SymPathLink) clone() *SymPathLink {
	return &SymPathLink{
		versioned: l.versioned.clone(),
		metadata:  l.metadata.clone(),
		target:    l.target,
	}
}

// SetTarget returns a copy of l pointing at a new relative path.
func (l *SymPathLink) SetTarget(now time.Time, target string) *SymPathLink {
	cp := l.clone()
	cp.target = target
	cp.metadata.touch(now)
	return cp
}

type symPathLinkOnWire struct {
	Type     EntityType     `cbor:"type"`
	Metadata Metadata       `cbor:"metadata"`
	Target   string         `cbor:"target"`
	Previous *blake3cid.CID `cbor:"previous,omitempty"`
}

// Store implements Entity.
func (l *SymPathLink) Store(ctx context.Context, store Store) (blake3cid.CID, error) {
	l.wirePrevious()
	wire := symPathLinkOnWire{
		Type:     EntityTypeSymPathLink,
		Metadata: l.metadata,
		Target:   l.target,
		Previous: l.previous,
	}
	cid, err := store.PutNode(ctx, wire)
	if err != nil {
		return blake3cid.CID{}, err
	}
	l.settleInitialLoad(cid)
	return cid, nil
}

// LoadSymPathLink loads a SymPathLink from its CID.
func LoadSymPathLink(ctx context.Context, store Store, cid blake3cid.CID) (*SymPathLink, error) {
	var wire symPathLinkOnWire
	if err := store.GetNode(ctx, cid, &wire); err != nil {
		return nil, err
	}
	l := &SymPathLink{metadata: wire.Metadata, target: wire.Target}
	l.previous = wire.Previous
	l.initialLoadCID = cid
	return l, nil
}
