// Package monofs implements an immutable, content-addressed filesystem:
// directories, files, and symlinks stored as CBOR nodes in a block store,
// with copy-on-write mutation and a singly-linked version history.
package monofs

import (
	"time"

	"github.com/monocore-go/monocore/internal/blake3cid"
)

// EntityType tags which concrete entity a CBOR node decodes to.
type EntityType string

const (
	EntityTypeFile        EntityType = "monofs.file"
	EntityTypeDir         EntityType = "monofs.dir"
	EntityTypeSymCidLink  EntityType = "monofs.symcidlink"
	EntityTypeSymPathLink EntityType = "monofs.sympathlink"
)

// SyncType selects how an entity's writes are expected to be reconciled
// across replicas. Only Default is implemented by this package; the other
// values are carried through so configs and serialized entities produced
// by a CRDT-aware deployment round-trip losslessly.
type SyncType string

const (
	SyncDefault    SyncType = "default"
	SyncRaft       SyncType = "raft"
	SyncMerkleCRDT SyncType = "merkle_crdt"
)

// Metadata is embedded in every entity.
type Metadata struct {
	EntityType EntityType             `cbor:"entity_type"`
	CreatedAt  time.Time              `cbor:"created_at"`
	ModifiedAt time.Time              `cbor:"modified_at"`
	SyncType   SyncType               `cbor:"sync_type"`
	ExtAttrs   map[string]interface{} `cbor:"ext_attrs,omitempty"`
}

// NewMetadata builds Metadata for a freshly created entity of the given type.
func NewMetadata(entityType EntityType, now time.Time) Metadata {
	return Metadata{
		EntityType: entityType,
		CreatedAt:  now,
		ModifiedAt: now,
		SyncType:   SyncDefault,
	}
}

func (m Metadata) clone() Metadata {
	cp := m
	if m.ExtAttrs != nil {
		cp.ExtAttrs = make(map[string]interface{}, len(m.ExtAttrs))
		for k, v := range m.ExtAttrs {
			cp.ExtAttrs[k] = v
		}
	}
	return cp
}

func (m *Metadata) touch(now time.Time) {
	m.ModifiedAt = now
}

// versioned is embedded by every concrete entity to carry the
// checkpoint/previous-CID bookkeeping described by the checkpoint idiom:
// initialLoadCID is set once, by Load or by the first Store of an entity
// that was never loaded, and previous is wired from it the next time the
// entity is stored.
type versioned struct {
	initialLoadCID blake3cid.CID
	previous       *blake3cid.CID
}

func (v versioned) clone() versioned {
	cp := v
	if v.previous != nil {
		p := *v.previous
		cp.previous = &p
	}
	return cp
}

// settleInitialLoad records cid as the entity's initial_load_cid exactly
// once; subsequent calls are no-ops, matching the "once-settable slot"
// invariant from the data model.
func (v *versioned) settleInitialLoad(cid blake3cid.CID) {
	if v.initialLoadCID.IsUndef() {
		v.initialLoadCID = cid
	}
}

// wirePrevious adopts the entity's initial_load_cid as its previous
// pointer, called right before the next store so the new version's
// previous correctly points at the one just checkpointed.
func (v *versioned) wirePrevious() {
	if !v.initialLoadCID.IsUndef() {
		p := v.initialLoadCID
		v.previous = &p
	}
}
