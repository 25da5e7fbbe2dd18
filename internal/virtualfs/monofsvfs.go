package virtualfs

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/monocore-go/monocore/internal/blake3cid"
	"github.com/monocore-go/monocore/internal/chunker"
	"github.com/monocore-go/monocore/internal/layout"
	"github.com/monocore-go/monocore/internal/monofs"
)

// BlockStore is the subset of the block store contract the monofs-backed
// filesystem needs: monofs.Store plus the layout.BlockStore methods used
// when a file's content DAG is rebuilt from a fresh write.
type BlockStore interface {
	monofs.Store
	layout.BlockStore
}

// MonoFS backs VirtualFileSystem with a monofs content-addressed tree held
// in memory and checkpointed to store on every mutation; m.root always
// holds the latest version, so readers see writes immediately.
type MonoFS struct {
	mu      sync.Mutex
	store   BlockStore
	root    *monofs.Dir
	chunker chunker.Chunker
	layout  layout.LayoutSeekable
}

var _ VirtualFileSystem = (*MonoFS)(nil)

// NewMonoFS creates an empty MonoFS rooted at a fresh directory.
func NewMonoFS(store BlockStore) *MonoFS {
	return &MonoFS{
		store:   store,
		root:    monofs.NewDir(time.Now()),
		chunker: chunker.NewGearChunker(0),
		layout:  layout.FlatLayout{},
	}
}

// LoadMonoFS reopens a MonoFS from a previously stored root directory CID.
func LoadMonoFS(ctx context.Context, store BlockStore, rootCID blake3cid.CID) (*MonoFS, error) {
	root, err := monofs.LoadDir(ctx, store, rootCID)
	if err != nil {
		return nil, err
	}
	return &MonoFS{
		store:   store,
		root:    root,
		chunker: chunker.NewGearChunker(0),
		layout:  layout.FlatLayout{},
	}, nil
}

// RootCID checkpoints and returns the current root directory's CID, so a
// caller can persist it across restarts and hand it back to LoadMonoFS.
func (m *MonoFS) RootCID(ctx context.Context) (blake3cid.CID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cid, err := m.root.Store(ctx, m.store)
	if err != nil {
		return blake3cid.CID{}, err
	}
	return cid, nil
}

func splitPath(path string) ([]monofs.PathSegment, error) {
	clean := path
	for len(clean) > 0 && clean[0] == '/' {
		clean = clean[1:]
	}
	return monofs.SplitPath(clean)
}

func (m *MonoFS) checkpoint(ctx context.Context, newRoot *monofs.Dir) error {
	loaded, _, err := newRoot.Checkpoint(ctx, m.store)
	if err != nil {
		return err
	}
	m.root = loaded
	return nil
}

func (m *MonoFS) entityType(e monofs.Entity) ModeType {
	switch e.(type) {
	case *monofs.Dir:
		return ModeDirectory
	case *monofs.File:
		return ModeFile
	default:
		return ModeSymlink
	}
}

func metadataFromEntity(ctx context.Context, store monofs.Store, e monofs.Entity) (Metadata, error) {
	var size uint64
	if f, ok := e.(*monofs.File); ok {
		var err error
		size, err = f.Size(ctx, store)
		if err != nil {
			return Metadata{}, err
		}
	}
	mode := ModeDirectory
	switch e.(type) {
	case *monofs.File:
		mode = ModeFile
	case *monofs.SymCidLink, *monofs.SymPathLink:
		mode = ModeSymlink
	}
	md := e.GetMetadata()
	return Metadata{
		ModeType:   mode,
		Size:       size,
		ModifiedAt: md.ModifiedAt,
		Permissions: Permissions{
			User:  Permission{Read: true, Write: true, Execute: mode == ModeDirectory},
			Group: Permission{Read: true, Write: false, Execute: mode == ModeDirectory},
			Other: Permission{Read: true, Write: false, Execute: mode == ModeDirectory},
		},
	}, nil
}

func (m *MonoFS) find(ctx context.Context, path string) (monofs.Entity, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, NotFound{Path: path}
	}
	if len(segs) == 0 {
		return m.root, nil
	}
	e, err := m.root.Find(ctx, m.store, segs)
	if err != nil {
		switch err.(type) {
		case monofs.EntityNotFound:
			return nil, NotFound{Path: path}
		case monofs.NotADirectory:
			return nil, NotADirectory{Path: path}
		default:
			return nil, Io{Path: path, Err: err}
		}
	}
	return e, nil
}

func (m *MonoFS) findParent(ctx context.Context, segs []monofs.PathSegment, path string) (*monofs.Dir, error) {
	if len(segs) == 0 {
		return m.root, nil
	}
	parentEntity, err := m.root.Find(ctx, m.store, segs[:len(segs)-1])
	if err != nil {
		switch err.(type) {
		case monofs.EntityNotFound:
			return nil, ParentDirectoryNotFound{Path: path}
		case monofs.NotADirectory:
			return nil, ParentDirectoryNotFound{Path: path}
		default:
			return nil, Io{Path: path, Err: err}
		}
	}
	dir, ok := parentEntity.(*monofs.Dir)
	if !ok {
		return nil, ParentDirectoryNotFound{Path: path}
	}
	return dir, nil
}

func (m *MonoFS) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.find(ctx, path)
	if err == nil {
		return true, nil
	}
	if _, ok := err.(NotFound); ok {
		return false, nil
	}
	return false, err
}

func (m *MonoFS) CreateFile(ctx context.Context, path string, existsOk bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	segs, err := splitPath(path)
	if err != nil || len(segs) == 0 {
		return NotFound{Path: path}
	}
	existing, err := m.find(ctx, path)
	if err == nil {
		if _, ok := existing.(*monofs.File); ok && existsOk {
			return nil
		}
		return AlreadyExists{Path: path}
	}
	if _, ok := err.(NotFound); !ok {
		return err
	}

	parent, err := m.findParent(ctx, segs, path)
	if err != nil {
		return err
	}
	newRoot, _, fcErr := parent.FindOrCreate(ctx, m.store, time.Now(), segs[len(segs)-1:], true)
	if fcErr != nil {
		return Io{Path: path, Err: fcErr}
	}
	return m.rewriteAlong(ctx, segs[:len(segs)-1], newRoot)
}

// rewriteAlong replaces the directory at parentSegs with newParent across
// the whole path back to root, then checkpoints the new root.
func (m *MonoFS) rewriteAlong(ctx context.Context, parentSegs []monofs.PathSegment, newParent *monofs.Dir) error {
	if len(parentSegs) == 0 {
		return m.checkpoint(ctx, newParent)
	}
	grandparent, err := m.findParent(ctx, parentSegs, "")
	if err != nil {
		return err
	}
	updated := grandparent.PutEntry(time.Now(), parentSegs[len(parentSegs)-1], monofs.NewResolvedEntityCidLink(newParent))
	return m.rewriteAlong(ctx, parentSegs[:len(parentSegs)-1], updated)
}

func (m *MonoFS) CreateDirectory(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	segs, err := splitPath(path)
	if err != nil {
		return NotFound{Path: path}
	}
	if len(segs) == 0 {
		return nil
	}
	if existing, err := m.find(ctx, path); err == nil {
		if _, ok := existing.(*monofs.Dir); ok {
			return nil
		}
		return AlreadyExists{Path: path}
	}

	newRoot, _, fcErr := m.root.FindOrCreate(ctx, m.store, time.Now(), segs, false)
	if fcErr != nil {
		if _, ok := fcErr.(monofs.NotADirectory); ok {
			return NotADirectory{Path: path}
		}
		return Io{Path: path, Err: fcErr}
	}
	return m.checkpoint(ctx, newRoot)
}

func (m *MonoFS) CreateSymlink(ctx context.Context, path string, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	segs, err := splitPath(path)
	if err != nil || len(segs) == 0 {
		return NotFound{Path: path}
	}
	if _, err := m.find(ctx, path); err == nil {
		return AlreadyExists{Path: path}
	}

	parent, err := m.findParent(ctx, segs, path)
	if err != nil {
		return err
	}
	link := monofs.NewSymPathLink(time.Now(), target)
	newParent := parent.PutEntry(time.Now(), segs[len(segs)-1], monofs.NewResolvedEntityCidLink(link))
	return m.rewriteAlong(ctx, segs[:len(segs)-1], newParent)
}

func (m *MonoFS) ReadFile(ctx context.Context, path string, offset uint64, length uint64) (io.ReadCloser, error) {
	m.mu.Lock()
	e, err := m.find(ctx, path)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f, ok := e.(*monofs.File)
	if !ok {
		return nil, NotAFile{Path: path}
	}
	cid, has := f.Content()
	if !has {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	r, err := m.layout.RetrieveSeekable(ctx, cid, m.store)
	if err != nil {
		return nil, Io{Path: path, Err: err}
	}
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		r.Close()
		return nil, Io{Path: path, Err: err}
	}
	return struct {
		io.Reader
		io.Closer
	}{Reader: io.LimitReader(r, int64(length)), Closer: r}, nil
}

func (m *MonoFS) ReadDirectory(ctx context.Context, path string) ([]DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.find(ctx, path)
	if err != nil {
		return nil, err
	}
	dir, ok := e.(*monofs.Dir)
	if !ok {
		return nil, NotADirectory{Path: path}
	}

	out := make([]DirEntry, 0, len(dir.List()))
	for _, name := range dir.List() {
		link, _ := dir.Get(name)
		child, err := link.Resolve(ctx, m.store)
		if err != nil {
			return nil, Io{Path: path, Err: err}
		}
		out = append(out, DirEntry{Name: string(name), ModeType: m.entityType(child)})
	}
	return out, nil
}

func (m *MonoFS) ReadSymlink(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.find(ctx, path)
	if err != nil {
		return "", err
	}
	link, ok := e.(*monofs.SymPathLink)
	if !ok {
		return "", NotASymlink{Path: path}
	}
	return link.Target(), nil
}

func (m *MonoFS) GetMetadata(ctx context.Context, path string) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.find(ctx, path)
	if err != nil {
		return Metadata{}, err
	}
	return metadataFromEntity(ctx, m.store, e)
}

func (m *MonoFS) SetMetadata(ctx context.Context, path string, _ Permissions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.find(ctx, path); err != nil {
		return err
	}
	// monofs entities don't separately model rwx bits beyond entity type;
	// accepted for interface parity with NativeFS but a no-op here.
	return nil
}

func (m *MonoFS) WriteFile(ctx context.Context, path string, offset uint64, r io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	segs, err := splitPath(path)
	if err != nil || len(segs) == 0 {
		return NotFound{Path: path}
	}
	e, ferr := m.find(ctx, path)
	if ferr != nil {
		return ferr
	}
	file, ok := e.(*monofs.File)
	if !ok {
		return NotAFile{Path: path}
	}

	existing := io.Reader(bytes.NewReader(nil))
	if cid, has := file.Content(); has {
		rc, err := m.layout.Retrieve(ctx, cid, m.store)
		if err != nil {
			return Io{Path: path, Err: err}
		}
		defer rc.Close()
		existing = rc
	}

	buf := &bytes.Buffer{}
	if offset > 0 {
		if _, err := io.CopyN(buf, existing, int64(offset)); err != nil && err != io.EOF {
			return Io{Path: path, Err: err}
		}
		for buf.Len() < int(offset) {
			buf.WriteByte(0)
		}
	}
	written, err := io.Copy(buf, r)
	if err != nil {
		return Io{Path: path, Err: err}
	}
	// any remaining tail of the original content past the write range:
	// skip the bytes the write overwrote, then keep the rest
	if _, err := io.CopyN(io.Discard, existing, written); err != nil && err != io.EOF {
		return Io{Path: path, Err: err}
	}
	tail := make([]byte, 0)
	if rest, err := io.ReadAll(existing); err == nil {
		tail = rest
	}
	buf.Write(tail)

	results := m.layout.Organize(ctx, chunkerToChannel(ctx, m.chunker, buf.Bytes()), m.store)
	var rootCID blake3cid.CID
	var organizeErr error
	for res := range results {
		if res.Err != nil {
			organizeErr = res.Err
			continue
		}
		rootCID = res.CID
	}
	if organizeErr != nil {
		return Io{Path: path, Err: organizeErr}
	}

	newFile := file.SetContent(time.Now(), rootCID)
	newParent, err := m.findParent(ctx, segs, path)
	if err != nil {
		return err
	}
	updatedParent := newParent.PutEntry(time.Now(), segs[len(segs)-1], monofs.NewResolvedEntityCidLink(newFile))
	return m.rewriteAlong(ctx, segs[:len(segs)-1], updatedParent)
}

func (m *MonoFS) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	segs, err := splitPath(path)
	if err != nil || len(segs) == 0 {
		return NotFound{Path: path}
	}
	e, ferr := m.find(ctx, path)
	if ferr != nil {
		return ferr
	}
	if dir, ok := e.(*monofs.Dir); ok && len(dir.List()) > 0 {
		return NotEmpty{Path: path}
	}

	parent, err := m.findParent(ctx, segs, path)
	if err != nil {
		return err
	}
	updatedParent, removed := parent.RemoveEntry(time.Now(), segs[len(segs)-1])
	if removed == nil {
		return NotFound{Path: path}
	}
	return m.rewriteAlong(ctx, segs[:len(segs)-1], updatedParent)
}

func (m *MonoFS) Rename(ctx context.Context, oldPath string, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldSegs, err := splitPath(oldPath)
	if err != nil || len(oldSegs) == 0 {
		return NotFound{Path: oldPath}
	}
	newSegs, err := splitPath(newPath)
	if err != nil || len(newSegs) == 0 {
		return NotFound{Path: newPath}
	}

	if _, err := m.find(ctx, oldPath); err != nil {
		return err
	}
	if _, err := m.find(ctx, newPath); err == nil {
		return AlreadyExists{Path: newPath}
	}

	oldParent, err := m.findParent(ctx, oldSegs, oldPath)
	if err != nil {
		return err
	}
	link, ok := oldParent.Get(oldSegs[len(oldSegs)-1])
	if !ok {
		return NotFound{Path: oldPath}
	}

	afterRemove, _ := oldParent.RemoveEntry(time.Now(), oldSegs[len(oldSegs)-1])
	if err := m.rewriteAlong(ctx, oldSegs[:len(oldSegs)-1], afterRemove); err != nil {
		return err
	}

	newParent, err := m.findParent(ctx, newSegs, newPath)
	if err != nil {
		return err
	}
	updatedParent := newParent.Copy(time.Now(), newParent, newSegs[len(newSegs)-1], link)
	return m.rewriteAlong(ctx, newSegs[:len(newSegs)-1], updatedParent)
}

func chunkerToChannel(ctx context.Context, c chunker.Chunker, data []byte) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for chunk := range c.Chunk(bytes.NewReader(data)) {
			if chunk.Err != nil {
				return
			}
			select {
			case out <- chunk.Data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
