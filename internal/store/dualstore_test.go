package store

import (
	"context"
	"os"
	"testing"
)

func newTempFlatStore(t *testing.T) *FlatFsStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "dualstore-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return NewFlatFsStore(dir)
}

func TestDualStoreDefaultWritesToA(t *testing.T) {
	a := newTempFlatStore(t)
	b := newTempFlatStore(t)
	ds := NewDualStore(a, b, DefaultDualStoreConfig())
	ctx := context.Background()

	cid, err := ds.PutNode(ctx, testNode{Name: "x", Value: 1})
	if err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}

	if has, _ := a.Has(ctx, cid); !has {
		t.Error("expected block to be written to store A")
	}
	if has, _ := b.Has(ctx, cid); has {
		t.Error("expected block to not be written to store B")
	}

	var got testNode
	if err := ds.GetNode(ctx, cid, &got); err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if got.Name != "x" || got.Value != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestDualStoreReadFallback(t *testing.T) {
	a := newTempFlatStore(t)
	b := newTempFlatStore(t)
	cfg := DualStoreConfig{ReadFrom: ChoiceA, WriteTo: ChoiceB}
	ds := NewDualStore(a, b, cfg)
	ctx := context.Background()

	cid, err := ds.PutNode(ctx, testNode{Name: "fallback", Value: 2})
	if err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}

	if has, _ := b.Has(ctx, cid); !has {
		t.Fatal("expected data written to store B")
	}

	var got testNode
	if err := ds.GetNode(ctx, cid, &got); err != nil {
		t.Fatalf("GetNode should fall back to store B: %v", err)
	}
	if got.Name != "fallback" {
		t.Errorf("got %+v", got)
	}
}

func TestDualStoreBlockCountSumsBothStores(t *testing.T) {
	a := newTempFlatStore(t)
	b := newTempFlatStore(t)
	ds := NewDualStore(a, b, DefaultDualStoreConfig())
	ctx := context.Background()

	if _, err := ds.PutRawBlock(ctx, []byte("one")); err != nil {
		t.Fatalf("PutRawBlock failed: %v", err)
	}
	if _, err := b.PutRawBlock(ctx, []byte("two")); err != nil {
		t.Fatalf("PutRawBlock failed: %v", err)
	}

	count, err := ds.GetBlockCount(ctx)
	if err != nil {
		t.Fatalf("GetBlockCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("GetBlockCount = %d, want 2", count)
	}
}
