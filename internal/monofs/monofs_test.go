package monofs

import (
	"context"
	"testing"
	"time"

	"github.com/monocore-go/monocore/internal/blake3cid"
	"github.com/monocore-go/monocore/internal/codec/cborcanon"
)

type memStore struct {
	blocks map[blake3cid.CID][]byte
}

func newMemStore() *memStore {
	return &memStore{blocks: make(map[blake3cid.CID][]byte)}
}

func (s *memStore) PutRawBlock(_ context.Context, data []byte) (blake3cid.CID, error) {
	cid := blake3cid.NewRaw(data)
	s.blocks[cid] = data
	return cid, nil
}

func (s *memStore) PutNode(_ context.Context, value interface{}) (blake3cid.CID, error) {
	data, err := cborcanon.Marshal(value)
	if err != nil {
		return blake3cid.CID{}, err
	}
	cid := blake3cid.NewDagCbor(data)
	s.blocks[cid] = data
	return cid, nil
}

func (s *memStore) GetRawBlock(_ context.Context, cid blake3cid.CID) ([]byte, error) {
	data, ok := s.blocks[cid]
	if !ok {
		return nil, BlockNotFoundForTest{cid}
	}
	return data, nil
}

func (s *memStore) GetNode(ctx context.Context, cid blake3cid.CID, out interface{}) error {
	data, err := s.GetRawBlock(ctx, cid)
	if err != nil {
		return err
	}
	return cborcanon.Unmarshal(data, out)
}

func (s *memStore) GetBytesSize(_ context.Context, cid blake3cid.CID) (uint64, error) {
	data, ok := s.blocks[cid]
	if !ok {
		return 0, BlockNotFoundForTest{cid}
	}
	return uint64(len(data)), nil
}

// BlockNotFoundForTest stands in for the real store package's
// BlockNotFound error without importing it (monofs must not depend on
// store, to avoid a cycle with layout's similar seam).
type BlockNotFoundForTest struct{ CID blake3cid.CID }

func (e BlockNotFoundForTest) Error() string { return "block not found" }

func TestDirPutFindRemove(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Now()

	root := NewDir(now)
	file := NewFile(now)
	seg, err := NewPathSegment("hello.txt")
	if err != nil {
		t.Fatalf("NewPathSegment failed: %v", err)
	}
	root = root.PutEntry(now, seg, NewResolvedEntityCidLink(file))

	found, err := root.Find(ctx, store, []PathSegment{seg})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if _, ok := found.(*File); !ok {
		t.Errorf("found %T, want *File", found)
	}

	root2, removed := root.RemoveEntry(now, seg)
	if removed == nil {
		t.Fatal("expected RemoveEntry to return the removed link")
	}
	if _, err := root2.Find(ctx, store, []PathSegment{seg}); err == nil {
		t.Error("expected Find to fail after removal")
	}
	// original root must be untouched (copy-on-write)
	if _, err := root.Find(ctx, store, []PathSegment{seg}); err != nil {
		t.Errorf("original root was mutated: %v", err)
	}
}

func TestDirStoreLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Now()

	root := NewDir(now)
	seg, _ := NewPathSegment("a")
	root = root.PutEntry(now, seg, NewResolvedEntityCidLink(NewFile(now)))

	cid, err := root.Store(ctx, store)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	loaded, err := LoadDir(ctx, store, cid)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(loaded.List()) != 1 {
		t.Errorf("loaded dir has %d entries, want 1", len(loaded.List()))
	}
}

func TestFindOrCreateBuildsIntermediateDirs(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Now()

	root := NewDir(now)
	path, err := SplitPath("a/b/c.txt")
	if err != nil {
		t.Fatalf("SplitPath failed: %v", err)
	}

	newRoot, entity, err := root.FindOrCreate(ctx, store, now, path, true)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if _, ok := entity.(*File); !ok {
		t.Errorf("entity = %T, want *File", entity)
	}

	found, err := newRoot.Find(ctx, store, path)
	if err != nil {
		t.Fatalf("Find after FindOrCreate failed: %v", err)
	}
	if found != entity {
		t.Error("Find did not return the same entity FindOrCreate created")
	}
}

func TestFindNotADirectory(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Now()

	root := NewDir(now)
	seg, _ := NewPathSegment("notadir")
	root = root.PutEntry(now, seg, NewResolvedEntityCidLink(NewFile(now)))

	_, err := root.Find(ctx, store, []PathSegment{seg, "child"})
	if _, ok := err.(NotADirectory); !ok {
		t.Errorf("got error %v (%T), want NotADirectory", err, err)
	}
}

func TestSymCidLinkFollowChain(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Now()

	file := NewFile(now)
	fileCID, err := file.Store(ctx, store)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	link1 := NewSymCidLink(now, fileCID)
	link1CID, err := link1.Store(ctx, store)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	link2 := NewSymCidLink(now, link1CID)

	resolved, err := link2.Follow(ctx, store, DefaultSymlinkDepth)
	if err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if _, ok := resolved.(*File); !ok {
		t.Errorf("resolved = %T, want *File", resolved)
	}
}

func TestSymCidLinkFollowExactDepthSucceedsOneMoreFails(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Now()

	file := NewFile(now)
	fileCID, err := file.Store(ctx, store)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	link := NewSymCidLink(now, fileCID)

	if _, err := link.Follow(ctx, store, 1); err != nil {
		t.Errorf("Follow(depth=1) failed: %v", err)
	}
	if _, err := link.Follow(ctx, store, 0); err == nil {
		t.Error("expected MaxDepthReached at depth 0")
	} else if _, ok := err.(MaxDepthReached); !ok {
		t.Errorf("got error %v (%T), want MaxDepthReached", err, err)
	}
}

func TestSymCidLinkFollowBrokenLink(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Now()

	missing := blake3cid.NewDagCbor([]byte("does not exist"))
	link := NewSymCidLink(now, missing)

	_, err := link.Follow(ctx, store, DefaultSymlinkDepth)
	if _, ok := err.(BrokenLink); !ok {
		t.Errorf("got error %v (%T), want BrokenLink", err, err)
	}
}

func TestSymPathLinkFollowBrokenTarget(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Now()

	root := NewDir(now)
	link := NewSymPathLink(now, "nonexistent")

	_, err := link.Follow(ctx, store, root, DefaultSymlinkDepth)
	if _, ok := err.(BrokenLink); !ok {
		t.Errorf("got error %v (%T), want BrokenLink", err, err)
	}
}

func TestCheckpointWiresPreviousCID(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Now()

	root := NewDir(now)
	loaded1, cid1, err := root.Checkpoint(ctx, store)
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	seg, _ := NewPathSegment("x")
	mutated := loaded1.PutEntry(now, seg, NewResolvedEntityCidLink(NewFile(now)))
	cid2, err := mutated.Store(ctx, store)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	var wire dirOnWire
	if err := store.GetNode(ctx, cid2, &wire); err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if wire.Previous == nil || !wire.Previous.Equals(cid1) {
		t.Errorf("previous = %v, want %v", wire.Previous, cid1)
	}
}
