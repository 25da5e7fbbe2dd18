package monofs

import (
	"context"
	"time"

	"github.com/monocore-go/monocore/internal/blake3cid"
)

// SymCidLink is a symlink whose target is a CID: stable under moves of the
// target, broken only if the target CID is pruned from the store.
type SymCidLink struct {
	versioned
	metadata Metadata
	target   blake3cid.CID
}

var _ Entity = (*SymCidLink)(nil)

// NewSymCidLink creates a link pointing at target.
func NewSymCidLink(now time.Time, target blake3cid.CID) *SymCidLink {
	return &SymCidLink{metadata: NewMetadata(EntityTypeSymCidLink, now), target: target}
}

// GetMetadata implements Entity.
func (l *SymCidLink) GetMetadata() Metadata { return l.metadata }

// Target returns the link's target CID.
func (l *SymCidLink) Target() blake3cid.CID { return l.target }

// Follow resolves the link, following up to depth hops of chained
// SymCidLinks. It never returns a *SymCidLink: it either resolves to a
// non-symlink entity, returns MaxDepthReached, or returns BrokenLink.
func (l *SymCidLink) Follow(ctx context.Context, store Store, depth int) (Entity, error) {
	if depth <= 0 {
		return nil, MaxDepthReached{}
	}

	entity, err := LoadEntity(ctx, store, l.target)
	if err != nil {
		// Any load failure on a symlink target — missing block or a
		// decode error — counts as a broken link, not a hard error.
		return nil, BrokenLink{Target: l.target.String()}
	}

	if next, ok := entity.(*SymCidLink); ok {
		return next.Follow(ctx, store, depth-1)
	}
	return entity, nil
}

func (l *SymCidLink) clone() *SymCidLink {
	return &SymCidLink{
		versioned: l.versioned.clone(),
		metadata:  l.metadata.clone(),
		target:    l.target,
	}
}

// SetTarget returns a copy of l pointing at a new target.
func (l *SymCidLink) SetTarget(now time.Time, target blake3cid.CID) *SymCidLink {
	cp := l.clone()
	cp.target = target
	cp.metadata.touch(now)
	return cp
}

type symCidLinkOnWire struct {
	Type     EntityType     `cbor:"type"`
	Metadata Metadata       `cbor:"metadata"`
	Target   blake3cid.CID  `cbor:"target"`
	Previous *blake3cid.CID `cbor:"previous,omitempty"`
}

// Store implements Entity.
func (l *SymCidLink) Store(ctx context.Context, store Store) (blake3cid.CID, error) {
	l.wirePrevious()
	wire := symCidLinkOnWire{
		Type:     EntityTypeSymCidLink,
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

// LoadSymCidLink loads a SymCidLink from its CID.
func LoadSymCidLink(ctx context.Context, store Store, cid blake3cid.CID) (*SymCidLink, error) {
	var wire symCidLinkOnWire
	if err := store.GetNode(ctx, cid, &wire); err != nil {
		return nil, err
	}
	l := &SymCidLink{metadata: wire.Metadata, target: wire.Target}
	l.previous = wire.Previous
	l.initialLoadCID = cid
	return l, nil
}
