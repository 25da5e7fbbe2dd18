package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"testing"

	"github.com/monocore-go/monocore/internal/blake3cid"
	"github.com/monocore-go/monocore/internal/chunker"
)

func newTestStore(t *testing.T, dirLevels DirLevels) *FlatFsStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "flatfsstore-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return NewFlatFsStoreWithChunker(dir, dirLevels, chunker.NewGearChunker(4096))
}

func TestFlatFsStoreRawBlockRoundTrip(t *testing.T) {
	for _, lvl := range []DirLevels{DirLevelsZero, DirLevelsOne, DirLevelsTwo} {
		s := newTestStore(t, lvl)
		ctx := context.Background()

		data := []byte("Hello, World!")
		cid, err := s.PutRawBlock(ctx, data)
		if err != nil {
			t.Fatalf("PutRawBlock failed: %v", err)
		}

		has, err := s.Has(ctx, cid)
		if err != nil || !has {
			t.Fatalf("Has = (%v, %v), want (true, nil)", has, err)
		}

		got, err := s.GetRawBlock(ctx, cid)
		if err != nil {
			t.Fatalf("GetRawBlock failed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Error("retrieved bytes differ from input")
		}

		count, err := s.GetBlockCount(ctx)
		if err != nil || count != 1 {
			t.Errorf("GetBlockCount = (%d, %v), want (1, nil)", count, err)
		}
	}
}

func TestFlatFsStoreStableCID(t *testing.T) {
	s := newTestStore(t, DirLevelsOne)
	ctx := context.Background()

	data := []byte("stable")
	cid1, err := s.PutRawBlock(ctx, data)
	if err != nil {
		t.Fatalf("PutRawBlock failed: %v", err)
	}
	cid2, err := s.PutRawBlock(ctx, data)
	if err != nil {
		t.Fatalf("PutRawBlock failed: %v", err)
	}
	if !cid1.Equals(cid2) {
		t.Error("identical content produced different CIDs")
	}
}

type testNode struct {
	Name  string `cbor:"name"`
	Value int    `cbor:"value"`
}

func TestFlatFsStoreNodeRoundTrip(t *testing.T) {
	s := newTestStore(t, DirLevelsOne)
	ctx := context.Background()

	node := testNode{Name: "test", Value: 42}
	cid, err := s.PutNode(ctx, node)
	if err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}

	var got testNode
	if err := s.GetNode(ctx, cid, &got); err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if got != node {
		t.Errorf("got %+v, want %+v", got, node)
	}
}

func TestFlatFsStoreBytesRoundTrip(t *testing.T) {
	s := newTestStore(t, DirLevelsOne)
	ctx := context.Background()

	data := make([]byte, 4096*3)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	cid, err := s.PutBytes(ctx, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("PutBytes failed: %v", err)
	}

	size, err := s.GetBytesSize(ctx, cid)
	if err != nil {
		t.Fatalf("GetBytesSize failed: %v", err)
	}
	if size != uint64(len(data)) {
		t.Errorf("GetBytesSize = %d, want %d", size, len(data))
	}

	r, err := s.GetBytes(ctx, cid)
	if err != nil {
		t.Fatalf("GetBytes failed: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("round-tripped bytes differ from input")
	}
}

func TestFlatFsStoreNotFound(t *testing.T) {
	s := newTestStore(t, DirLevelsOne)
	ctx := context.Background()

	missing := blake3cid.NewRaw([]byte("does not exist"))

	has, err := s.Has(ctx, missing)
	if err != nil || has {
		t.Errorf("Has = (%v, %v), want (false, nil)", has, err)
	}

	if _, err := s.GetRawBlock(ctx, missing); err == nil {
		t.Error("expected error reading missing block")
	}

	if _, err := s.GetBytes(ctx, missing); err == nil {
		t.Error("expected error reading missing bytes")
	}
}

func TestFlatFsStoreRawBlockTooLarge(t *testing.T) {
	// The gear chunker reports no maximum size, so the 4096-byte limit
	// comes from a fixed-size chunker.
	s := NewFlatFsStoreWithChunker(t.TempDir(), DirLevelsOne, chunker.NewFixedSizeChunker(4096))
	ctx := context.Background()

	data := make([]byte, 5000)
	_, err := s.PutRawBlock(ctx, data)
	if _, ok := err.(RawBlockTooLarge); !ok {
		t.Errorf("got error %v (%T), want RawBlockTooLarge", err, err)
	}
}

func TestFlatFsStoreUnexpectedCodec(t *testing.T) {
	s := newTestStore(t, DirLevelsOne)
	ctx := context.Background()

	cid, err := s.PutRawBlock(ctx, []byte("raw data"))
	if err != nil {
		t.Fatalf("PutRawBlock failed: %v", err)
	}

	var out testNode
	if err := s.GetNode(ctx, cid, &out); err == nil {
		t.Error("expected error reading raw block as node")
	}
}
