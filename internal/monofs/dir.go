package monofs

import (
	"context"
	"sort"
	"time"

	"github.com/monocore-go/monocore/internal/blake3cid"
)

// Dir is a directory: a mapping from path segment to a (possibly
// unresolved) child entity.
type Dir struct {
	versioned
	metadata Metadata
	entries  map[PathSegment]*EntityCidLink
}

var _ Entity = (*Dir)(nil)

// NewDir creates an empty directory.
func NewDir(now time.Time) *Dir {
	return &Dir{
		metadata: NewMetadata(EntityTypeDir, now),
		entries:  make(map[PathSegment]*EntityCidLink),
	}
}

// GetMetadata implements Entity.
func (d *Dir) GetMetadata() Metadata { return d.metadata }

func (d *Dir) clone() *Dir {
	cp := &Dir{
		versioned: d.versioned.clone(),
		metadata:  d.metadata.clone(),
		entries:   make(map[PathSegment]*EntityCidLink, len(d.entries)),
	}
	for name, link := range d.entries {
		cp.entries[name] = link.clone()
	}
	return cp
}

// PutEntry returns a copy of d with name bound to link, bumping ModifiedAt.
func (d *Dir) PutEntry(now time.Time, name PathSegment, link *EntityCidLink) *Dir {
	cp := d.clone()
	cp.entries[name] = link
	cp.metadata.touch(now)
	return cp
}

// RemoveEntry returns a copy of d with name unbound, and the removed link
// (nil if name was absent).
func (d *Dir) RemoveEntry(now time.Time, name PathSegment) (*Dir, *EntityCidLink) {
	cp := d.clone()
	link, ok := cp.entries[name]
	if !ok {
		return cp, nil
	}
	delete(cp.entries, name)
	cp.metadata.touch(now)
	return cp, link
}

// Get returns the link bound to name, if any.
func (d *Dir) Get(name PathSegment) (*EntityCidLink, bool) {
	link, ok := d.entries[name]
	return link, ok
}

// List returns the directory's entry names in sorted order.
func (d *Dir) List() []PathSegment {
	names := make([]PathSegment, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Find walks path from d, resolving entities from store as needed. It
// returns EntityNotFound if any component of path is absent, and
// NotADirectory if an intermediate component resolves to a non-directory.
func (d *Dir) Find(ctx context.Context, store Store, path []PathSegment) (Entity, error) {
	if len(path) == 0 {
		return d, nil
	}

	link, ok := d.Get(path[0])
	if !ok {
		return nil, EntityNotFound{Path: string(path[0])}
	}
	entity, err := link.Resolve(ctx, store)
	if err != nil {
		return nil, err
	}

	if len(path) == 1 {
		return entity, nil
	}

	sub, ok := entity.(*Dir)
	if !ok {
		return nil, NotADirectory{Path: string(path[0])}
	}
	return sub.Find(ctx, store, path[1:])
}

// FindOrCreate ensures every intermediate segment of path exists as a
// directory (creating them as needed) and, on the last segment, creates a
// file or directory if missing. It returns the (possibly newly created)
// root Dir reflecting all copy-on-write forks along the path, and the
// resulting entity at path.
func (d *Dir) FindOrCreate(ctx context.Context, store Store, now time.Time, path []PathSegment, createFile bool) (*Dir, Entity, error) {
	if len(path) == 0 {
		return d, d, nil
	}

	name := path[0]
	link, ok := d.Get(name)

	var child Entity
	if ok {
		resolved, err := link.Resolve(ctx, store)
		if err != nil {
			return nil, nil, err
		}
		child = resolved
	}

	if len(path) == 1 {
		if child == nil {
			if createFile {
				child = NewFile(now)
			} else {
				child = NewDir(now)
			}
			newDir := d.PutEntry(now, name, NewResolvedEntityCidLink(child))
			return newDir, child, nil
		}
		return d, child, nil
	}

	childDir, isDir := child.(*Dir)
	if child != nil && !isDir {
		return nil, nil, NotADirectory{Path: string(name)}
	}
	if childDir == nil {
		childDir = NewDir(now)
	}

	newChildDir, result, err := childDir.FindOrCreate(ctx, store, now, path[1:], createFile)
	if err != nil {
		return nil, nil, err
	}

	newDir := d.PutEntry(now, name, NewResolvedEntityCidLink(newChildDir))
	return newDir, result, nil
}

// Copy returns a copy of destDir with name bound to a new link pointing at
// the same resolved entity as src (a shallow, structural copy: both links
// now share the same CID/content, forking on next mutation).
func (d *Dir) Copy(now time.Time, destDir *Dir, destName PathSegment, srcLink *EntityCidLink) *Dir {
	return destDir.PutEntry(now, destName, srcLink.clone())
}

type dirOnWire struct {
	Type     EntityType               `cbor:"type"`
	Metadata Metadata                 `cbor:"metadata"`
	Entries  map[string]blake3cid.CID `cbor:"entries"`
	Previous *blake3cid.CID           `cbor:"previous,omitempty"`
}

// Store implements Entity: it first stores every resolved (in-memory)
// child entity, reusing the known CID of unresolved links, then
// serializes the directory's own entry map.
func (d *Dir) Store(ctx context.Context, store Store) (blake3cid.CID, error) {
	entries := make(map[string]blake3cid.CID, len(d.entries))
	for name, link := range d.entries {
		cid, err := link.store(ctx, store)
		if err != nil {
			return blake3cid.CID{}, err
		}
		entries[string(name)] = cid
	}

	d.wirePrevious()
	wire := dirOnWire{
		Type:     EntityTypeDir,
		Metadata: d.metadata,
		Entries:  entries,
		Previous: d.previous,
	}
	cid, err := store.PutNode(ctx, wire)
	if err != nil {
		return blake3cid.CID{}, err
	}
	d.settleInitialLoad(cid)
	return cid, nil
}

// LoadDir loads a Dir from its CID. Children are left unresolved.
func LoadDir(ctx context.Context, store Store, cid blake3cid.CID) (*Dir, error) {
	var wire dirOnWire
	if err := store.GetNode(ctx, cid, &wire); err != nil {
		return nil, err
	}
	d := &Dir{
		metadata: wire.Metadata,
		entries:  make(map[PathSegment]*EntityCidLink, len(wire.Entries)),
	}
	for name, childCID := range wire.Entries {
		d.entries[PathSegment(name)] = NewEntityCidLink(childCID)
	}
	d.previous = wire.Previous
	d.initialLoadCID = cid
	return d, nil
}

// Checkpoint stores d and returns a fresh Dir loaded from the resulting CID.
func (d *Dir) Checkpoint(ctx context.Context, store Store) (*Dir, blake3cid.CID, error) {
	cid, err := d.Store(ctx, store)
	if err != nil {
		return nil, blake3cid.CID{}, err
	}
	loaded, err := LoadDir(ctx, store, cid)
	if err != nil {
		return nil, blake3cid.CID{}, err
	}
	return loaded, cid, nil
}
