package monofs

import (
	"context"
	"fmt"

	"github.com/monocore-go/monocore/internal/blake3cid"
)

// EntityCidLink is a lazily resolved reference to an entity: a CID, an
// in-memory resolved Entity, or both. Resolution only ever flows
// CID → Entity; a link's CID is never mutated in place once set — any
// write that changes what the link points to forks a new link value.
type EntityCidLink struct {
	cid      blake3cid.CID
	resolved Entity
}

// NewEntityCidLink wraps an already-known CID, unresolved.
func NewEntityCidLink(cid blake3cid.CID) *EntityCidLink {
	return &EntityCidLink{cid: cid}
}

// NewResolvedEntityCidLink wraps an in-memory entity that has not
// necessarily been stored yet; CID() reports no CID until the link is
// stored as part of its parent Dir's Store, which fills the CID in.
func NewResolvedEntityCidLink(entity Entity) *EntityCidLink {
	return &EntityCidLink{resolved: entity}
}

// CID returns the link's CID, if known.
func (l *EntityCidLink) CID() (blake3cid.CID, bool) {
	if l.cid.IsUndef() {
		return blake3cid.CID{}, false
	}
	return l.cid, true
}

// Resolved returns the in-memory entity, if already resolved.
func (l *EntityCidLink) Resolved() (Entity, bool) {
	return l.resolved, l.resolved != nil
}

// Resolve returns the link's entity, loading it from store on first use
// and caching the result.
func (l *EntityCidLink) Resolve(ctx context.Context, store Store) (Entity, error) {
	if l.resolved != nil {
		return l.resolved, nil
	}
	if l.cid.IsUndef() {
		return nil, fmt.Errorf("monofs: entity link has neither a CID nor a resolved entity")
	}
	entity, err := LoadEntity(ctx, store, l.cid)
	if err != nil {
		return nil, err
	}
	l.resolved = entity
	return entity, nil
}

// store persists the link's resolved entity (if any) and returns its CID,
// filling in l.cid as a side effect — analogous to how Dir.Store walks its
// children before serializing itself.
func (l *EntityCidLink) store(ctx context.Context, store Store) (blake3cid.CID, error) {
	if l.resolved != nil {
		cid, err := l.resolved.Store(ctx, store)
		if err != nil {
			return blake3cid.CID{}, err
		}
		l.cid = cid
		return cid, nil
	}
	if l.cid.IsUndef() {
		return blake3cid.CID{}, fmt.Errorf("monofs: cannot store an empty entity link")
	}
	return l.cid, nil
}

// clone returns a shallow copy suitable for copy-before-mutate: the
// resolved entity itself is not deep-copied since entities are themselves
// immutable until explicitly mutated through their own setters.
func (l *EntityCidLink) clone() *EntityCidLink {
	return &EntityCidLink{cid: l.cid, resolved: l.resolved}
}

// entityOnWireProbe is decoded first to discover an entity's concrete type.
type entityOnWireProbe struct {
	Type EntityType `cbor:"type"`
}

// LoadEntity loads whichever concrete entity type cid addresses.
func LoadEntity(ctx context.Context, store Store, cid blake3cid.CID) (Entity, error) {
	if cid.Codec() != blake3cid.DagCbor {
		return nil, fmt.Errorf("monofs: entity CID must be dag-cbor, got %s", cid.Codec())
	}
	data, err := store.GetRawBlock(ctx, cid)
	if err != nil {
		return nil, err
	}

	var probe entityOnWireProbe
	if err := unmarshalProbe(data, &probe); err != nil {
		return nil, err
	}

	switch probe.Type {
	case EntityTypeFile:
		return LoadFile(ctx, store, cid)
	case EntityTypeDir:
		return LoadDir(ctx, store, cid)
	case EntityTypeSymCidLink:
		return LoadSymCidLink(ctx, store, cid)
	case EntityTypeSymPathLink:
		return LoadSymPathLink(ctx, store, cid)
	default:
		return nil, fmt.Errorf("monofs: unknown entity type %q", probe.Type)
	}
}
