package store

import (
	"context"
	"errors"
	"io"

	"github.com/monocore-go/monocore/internal/blake3cid"
)

// Choice selects one of the two stores a DualStore wraps.
type Choice int

const (
	// ChoiceA selects the first store.
	ChoiceA Choice = iota
	// ChoiceB selects the second store.
	ChoiceB
)

// Other returns the choice not c.
func (c Choice) Other() Choice {
	if c == ChoiceA {
		return ChoiceB
	}
	return ChoiceA
}

// DualStoreConfig picks which of a DualStore's two stores serves writes,
// and which is tried first for reads (the other store is a fallback).
type DualStoreConfig struct {
	WriteTo  Choice
	ReadFrom Choice
}

// DefaultDualStoreConfig routes both reads and writes to store A, with B
// available as a read fallback.
func DefaultDualStoreConfig() DualStoreConfig {
	return DualStoreConfig{WriteTo: ChoiceA, ReadFrom: ChoiceA}
}

// DualStore composes two block stores under a read/write routing policy:
// a cache in front of slower storage, a migration in progress, or any
// other pairing where reads and writes don't need to target the same place.
type DualStore struct {
	a, b Store
	cfg  DualStoreConfig
}

var _ Store = (*DualStore)(nil)

// NewDualStore builds a DualStore over a and b with the given routing.
func NewDualStore(a, b Store, cfg DualStoreConfig) *DualStore {
	return &DualStore{a: a, b: b, cfg: cfg}
}

func (d *DualStore) store(c Choice) Store {
	if c == ChoiceA {
		return d.a
	}
	return d.b
}

// PutRawBlock implements Store.
func (d *DualStore) PutRawBlock(ctx context.Context, data []byte) (blake3cid.CID, error) {
	return d.store(d.cfg.WriteTo).PutRawBlock(ctx, data)
}

// PutNode implements Store.
func (d *DualStore) PutNode(ctx context.Context, value interface{}) (blake3cid.CID, error) {
	return d.store(d.cfg.WriteTo).PutNode(ctx, value)
}

// GetRawBlock implements Store, falling back to the other store when the
// preferred one reports BlockNotFound.
func (d *DualStore) GetRawBlock(ctx context.Context, cid blake3cid.CID) ([]byte, error) {
	data, err := d.store(d.cfg.ReadFrom).GetRawBlock(ctx, cid)
	if isBlockNotFound(err) {
		return d.store(d.cfg.ReadFrom.Other()).GetRawBlock(ctx, cid)
	}
	return data, err
}

// GetNode implements Store, with the same read-fallback as GetRawBlock.
func (d *DualStore) GetNode(ctx context.Context, cid blake3cid.CID, out interface{}) error {
	err := d.store(d.cfg.ReadFrom).GetNode(ctx, cid, out)
	if isBlockNotFound(err) {
		return d.store(d.cfg.ReadFrom.Other()).GetNode(ctx, cid, out)
	}
	return err
}

// GetBytes implements Store, with the same read-fallback as GetRawBlock.
func (d *DualStore) GetBytes(ctx context.Context, cid blake3cid.CID) (io.ReadCloser, error) {
	r, err := d.store(d.cfg.ReadFrom).GetBytes(ctx, cid)
	if isBlockNotFound(err) {
		return d.store(d.cfg.ReadFrom.Other()).GetBytes(ctx, cid)
	}
	return r, err
}

// GetBytesSize implements Store, with the same read-fallback as GetRawBlock.
func (d *DualStore) GetBytesSize(ctx context.Context, cid blake3cid.CID) (uint64, error) {
	size, err := d.store(d.cfg.ReadFrom).GetBytesSize(ctx, cid)
	if isBlockNotFound(err) {
		return d.store(d.cfg.ReadFrom.Other()).GetBytesSize(ctx, cid)
	}
	return size, err
}

// Has implements Store, checking both stores.
func (d *DualStore) Has(ctx context.Context, cid blake3cid.CID) (bool, error) {
	has, err := d.store(d.cfg.ReadFrom).Has(ctx, cid)
	if err != nil {
		return false, err
	}
	if has {
		return true, nil
	}
	return d.store(d.cfg.ReadFrom.Other()).Has(ctx, cid)
}

// GetBlockCount implements Store, summing both stores' counts.
func (d *DualStore) GetBlockCount(ctx context.Context) (uint64, error) {
	countA, err := d.a.GetBlockCount(ctx)
	if err != nil {
		return 0, err
	}
	countB, err := d.b.GetBlockCount(ctx)
	if err != nil {
		return 0, err
	}
	return countA + countB, nil
}

// RawBlockMaxSize implements Store, returning the larger of the two limits.
func (d *DualStore) RawBlockMaxSize() (uint64, bool) {
	aSize, aOK := d.a.RawBlockMaxSize()
	bSize, bOK := d.b.RawBlockMaxSize()
	return maxLimit(aSize, aOK, bSize, bOK)
}

// NodeBlockMaxSize implements Store, returning the larger of the two limits.
func (d *DualStore) NodeBlockMaxSize() (uint64, bool) {
	aSize, aOK := d.a.NodeBlockMaxSize()
	bSize, bOK := d.b.NodeBlockMaxSize()
	return maxLimit(aSize, aOK, bSize, bOK)
}

func maxLimit(a uint64, aOK bool, b uint64, bOK bool) (uint64, bool) {
	if !aOK && !bOK {
		return 0, false
	}
	if !aOK {
		return b, true
	}
	if !bOK {
		return a, true
	}
	if a > b {
		return a, true
	}
	return b, true
}

func isBlockNotFound(err error) bool {
	var bnf BlockNotFound
	return errors.As(err, &bnf)
}
