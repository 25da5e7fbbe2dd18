package store

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/monocore-go/monocore/internal/blake3cid"
	"github.com/monocore-go/monocore/internal/chunker"
	"github.com/monocore-go/monocore/internal/codec/cborcanon"
	"github.com/monocore-go/monocore/internal/layout"
)

// DirLevels controls how many levels of hash-prefix subdirectories
// FlatFsStore interposes between its root and the block files.
type DirLevels int

const (
	// DirLevelsZero stores every block directly under the root.
	DirLevelsZero DirLevels = iota
	// DirLevelsOne stores blocks one level deep, keyed by the first
	// byte of the digest. This is the default: it matches what IPFS and
	// git do, and keeps any one directory from holding too many files.
	DirLevelsOne
	// DirLevelsTwo stores blocks two levels deep, keyed by the first two
	// bytes of the digest.
	DirLevelsTwo
)

// FlatFsStore persists blocks as files under a root directory, organized by
// a configurable number of hash-prefix subdirectory levels.
type FlatFsStore struct {
	root      string
	dirLevels DirLevels
	chunker   chunker.Chunker
	layout    layout.LayoutSeekable
}

var (
	_ Store         = (*FlatFsStore)(nil)
	_ SeekableStore = (*FlatFsStore)(nil)
	_ layout.BlockStore = (*FlatFsStore)(nil)
)

// NewFlatFsStore creates a FlatFsStore rooted at path, using a gear chunker
// at the default desired chunk size and a FlatLayout.
func NewFlatFsStore(root string) *FlatFsStore {
	return NewFlatFsStoreWithChunker(root, DirLevelsOne, chunker.NewGearChunker(0))
}

// NewFlatFsStoreWithChunker creates a FlatFsStore with an explicit
// directory-level policy and chunker.
func NewFlatFsStoreWithChunker(root string, dirLevels DirLevels, c chunker.Chunker) *FlatFsStore {
	return &FlatFsStore{
		root:      root,
		dirLevels: dirLevels,
		chunker:   c,
		layout:    layout.FlatLayout{},
	}
}

func (s *FlatFsStore) blockPath(cid blake3cid.CID) string {
	digest := cid.HexString()
	switch s.dirLevels {
	case DirLevelsZero:
		return filepath.Join(s.root, digest)
	case DirLevelsTwo:
		return filepath.Join(s.root, digest[0:2], digest[2:4], digest)
	default:
		return filepath.Join(s.root, digest[0:2], digest)
	}
}

func (s *FlatFsStore) writeBlock(cid blake3cid.CID, data []byte) error {
	path := s.blockPath(cid)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// PutRawBlock implements Store.
func (s *FlatFsStore) PutRawBlock(_ context.Context, data []byte) (blake3cid.CID, error) {
	if max, ok := s.RawBlockMaxSize(); ok && uint64(len(data)) > max {
		return blake3cid.CID{}, RawBlockTooLarge{Size: uint64(len(data)), Max: max}
	}
	cid := blake3cid.NewRaw(data)
	if err := s.writeBlock(cid, data); err != nil {
		return blake3cid.CID{}, err
	}
	return cid, nil
}

// PutNode implements Store.
func (s *FlatFsStore) PutNode(_ context.Context, value interface{}) (blake3cid.CID, error) {
	data, err := cborcanon.Marshal(value)
	if err != nil {
		return blake3cid.CID{}, err
	}
	if max, ok := s.NodeBlockMaxSize(); ok && uint64(len(data)) > max {
		return blake3cid.CID{}, NodeBlockTooLarge{Size: uint64(len(data)), Max: max}
	}
	cid := blake3cid.NewDagCbor(data)
	if err := s.writeBlock(cid, data); err != nil {
		return blake3cid.CID{}, err
	}
	return cid, nil
}

// GetRawBlock implements Store.
func (s *FlatFsStore) GetRawBlock(_ context.Context, cid blake3cid.CID) ([]byte, error) {
	data, err := os.ReadFile(s.blockPath(cid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, BlockNotFound{CID: cid}
		}
		return nil, err
	}
	return data, nil
}

// GetNode implements Store.
func (s *FlatFsStore) GetNode(ctx context.Context, cid blake3cid.CID, out interface{}) error {
	if cid.Codec() != blake3cid.DagCbor {
		return UnexpectedBlockCodec{Expected: blake3cid.DagCbor, Found: cid.Codec()}
	}
	data, err := s.GetRawBlock(ctx, cid)
	if err != nil {
		return err
	}
	return cborcanon.Unmarshal(data, out)
}

// GetBytes implements Store.
func (s *FlatFsStore) GetBytes(ctx context.Context, cid blake3cid.CID) (io.ReadCloser, error) {
	if cid.Codec() == blake3cid.Raw {
		data, err := s.GetRawBlock(ctx, cid)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(newByteReader(data)), nil
	}
	return s.layout.Retrieve(ctx, cid, s)
}

// GetSeekableBytes implements SeekableStore.
func (s *FlatFsStore) GetSeekableBytes(ctx context.Context, cid blake3cid.CID) (io.ReadSeekCloser, error) {
	if cid.Codec() == blake3cid.Raw {
		data, err := s.GetRawBlock(ctx, cid)
		if err != nil {
			return nil, err
		}
		return newByteReader(data), nil
	}
	return s.layout.RetrieveSeekable(ctx, cid, s)
}

// GetBytesSize implements Store.
func (s *FlatFsStore) GetBytesSize(ctx context.Context, cid blake3cid.CID) (uint64, error) {
	if cid.Codec() == blake3cid.Raw {
		info, err := os.Stat(s.blockPath(cid))
		if err != nil {
			if os.IsNotExist(err) {
				return 0, BlockNotFound{CID: cid}
			}
			return 0, err
		}
		return uint64(info.Size()), nil
	}
	return s.layout.GetSize(ctx, cid, s)
}

// Has implements Store.
func (s *FlatFsStore) Has(_ context.Context, cid blake3cid.CID) (bool, error) {
	_, err := os.Stat(s.blockPath(cid))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetBlockCount implements Store.
func (s *FlatFsStore) GetBlockCount(context.Context) (uint64, error) {
	var count uint64
	err := filepath.WalkDir(s.root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RawBlockMaxSize implements Store, delegating to the configured chunker.
func (s *FlatFsStore) RawBlockMaxSize() (uint64, bool) {
	return s.chunker.ChunkMaxSize()
}

// NodeBlockMaxSize implements Store, delegating to the configured chunker.
func (s *FlatFsStore) NodeBlockMaxSize() (uint64, bool) {
	return s.chunker.ChunkMaxSize()
}

// PutBytes chunks r and organizes the chunks via the store's layout,
// returning the CID of the root Merkle node (the layout emits one even for
// inputs that fit in one chunk).
func (s *FlatFsStore) PutBytes(ctx context.Context, r io.Reader) (blake3cid.CID, error) {
	chunks := make(chan []byte)
	errs := s.chunker.Chunk(r)

	go func() {
		defer close(chunks)
		for c := range errs {
			if c.Err != nil {
				return
			}
			chunks <- c.Data
		}
	}()

	var last layout.OrganizeResult
	for res := range s.layout.Organize(ctx, chunks, s) {
		if res.Err != nil {
			return blake3cid.CID{}, res.Err
		}
		last = res
	}
	return last.CID, nil
}

type byteReader struct {
	data []byte
	pos  int64
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (b *byteReader) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *byteReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = b.pos + offset
	case io.SeekEnd:
		target = int64(len(b.data)) + offset
	}
	if target < 0 || target > int64(len(b.data)) {
		return 0, os.ErrInvalid
	}
	b.pos = target
	return b.pos, nil
}

func (b *byteReader) Close() error { return nil }
