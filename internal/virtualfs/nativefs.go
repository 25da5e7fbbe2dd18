package virtualfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// NativeFS backs VirtualFileSystem with a real host directory: path is
// resolved relative to root and every operation maps onto the matching
// os.* call.
type NativeFS struct {
	root string
}

var _ VirtualFileSystem = (*NativeFS)(nil)

// NewNativeFS roots a NativeFS at dir, creating it if necessary.
func NewNativeFS(dir string) (*NativeFS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("virtualfs: create root %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &NativeFS{root: abs}, nil
}

// resolve maps a virtual path to a host path, rejecting any attempt to
// escape root via ".." components.
func (fs *NativeFS) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	host := filepath.Join(fs.root, clean)
	if host != fs.root && !strings.HasPrefix(host, fs.root+string(os.PathSeparator)) {
		return "", NotFound{Path: path}
	}
	return host, nil
}

func (fs *NativeFS) Exists(_ context.Context, path string) (bool, error) {
	host, err := fs.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(host)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, Io{Path: path, Err: err}
}

func (fs *NativeFS) CreateFile(_ context.Context, path string, existsOk bool) error {
	host, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if err := fs.checkParentExists(host, path); err != nil {
		return err
	}

	info, statErr := os.Lstat(host)
	if statErr == nil {
		if info.Mode().IsRegular() && existsOk {
			return nil
		}
		return AlreadyExists{Path: path}
	}
	if !os.IsNotExist(statErr) {
		return Io{Path: path, Err: statErr}
	}

	f, err := os.OpenFile(host, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if existsOk {
				return nil
			}
			return AlreadyExists{Path: path}
		}
		return Io{Path: path, Err: err}
	}
	return f.Close()
}

func (fs *NativeFS) CreateDirectory(_ context.Context, path string) error {
	host, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if info, statErr := os.Lstat(host); statErr == nil {
		if info.IsDir() {
			return nil
		}
		return AlreadyExists{Path: path}
	}
	if err := os.MkdirAll(host, 0o755); err != nil {
		return Io{Path: path, Err: err}
	}
	return nil
}

func (fs *NativeFS) CreateSymlink(_ context.Context, path string, target string) error {
	host, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if err := fs.checkParentExists(host, path); err != nil {
		return err
	}
	if _, statErr := os.Lstat(host); statErr == nil {
		return AlreadyExists{Path: path}
	}
	if err := os.Symlink(target, host); err != nil {
		return Io{Path: path, Err: err}
	}
	return nil
}

func (fs *NativeFS) ReadFile(_ context.Context, path string, offset uint64, length uint64) (io.ReadCloser, error) {
	host, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Lstat(host)
	if os.IsNotExist(statErr) {
		return nil, NotFound{Path: path}
	}
	if statErr != nil {
		return nil, Io{Path: path, Err: statErr}
	}
	if !info.Mode().IsRegular() {
		return nil, NotAFile{Path: path}
	}

	f, err := os.Open(host)
	if err != nil {
		return nil, Io{Path: path, Err: err}
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		f.Close()
		return nil, Io{Path: path, Err: err}
	}
	return struct {
		io.Reader
		io.Closer
	}{Reader: io.LimitReader(f, int64(length)), Closer: f}, nil
}

func (fs *NativeFS) ReadDirectory(_ context.Context, path string) ([]DirEntry, error) {
	host, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Lstat(host)
	if os.IsNotExist(statErr) {
		return nil, NotFound{Path: path}
	}
	if statErr != nil {
		return nil, Io{Path: path, Err: statErr}
	}
	if !info.IsDir() {
		return nil, NotADirectory{Path: path}
	}

	entries, err := os.ReadDir(host)
	if err != nil {
		return nil, Io{Path: path, Err: err}
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := ModeFile
		switch {
		case e.Type()&os.ModeSymlink != 0:
			mode = ModeSymlink
		case e.IsDir():
			mode = ModeDirectory
		}
		out = append(out, DirEntry{Name: e.Name(), ModeType: mode})
	}
	return out, nil
}

func (fs *NativeFS) ReadSymlink(_ context.Context, path string) (string, error) {
	host, err := fs.resolve(path)
	if err != nil {
		return "", err
	}
	info, statErr := os.Lstat(host)
	if os.IsNotExist(statErr) {
		return "", NotFound{Path: path}
	}
	if statErr != nil {
		return "", Io{Path: path, Err: statErr}
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return "", NotASymlink{Path: path}
	}
	target, err := os.Readlink(host)
	if err != nil {
		return "", Io{Path: path, Err: err}
	}
	return target, nil
}

func (fs *NativeFS) GetMetadata(_ context.Context, path string) (Metadata, error) {
	host, err := fs.resolve(path)
	if err != nil {
		return Metadata{}, err
	}
	info, statErr := os.Lstat(host)
	if os.IsNotExist(statErr) {
		return Metadata{}, NotFound{Path: path}
	}
	if statErr != nil {
		return Metadata{}, Io{Path: path, Err: statErr}
	}
	return metadataFromFileInfo(info), nil
}

func metadataFromFileInfo(info os.FileInfo) Metadata {
	mode := ModeFile
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		mode = ModeSymlink
	case info.IsDir():
		mode = ModeDirectory
	}
	perm := info.Mode().Perm()
	return Metadata{
		ModeType:   mode,
		Size:       uint64(info.Size()),
		ModifiedAt: info.ModTime(),
		Permissions: Permissions{
			User:  Permission{Read: perm&0o400 != 0, Write: perm&0o200 != 0, Execute: perm&0o100 != 0},
			Group: Permission{Read: perm&0o040 != 0, Write: perm&0o020 != 0, Execute: perm&0o010 != 0},
			Other: Permission{Read: perm&0o004 != 0, Write: perm&0o002 != 0, Execute: perm&0o001 != 0},
		},
	}
}

func permissionsToMode(p Permissions) os.FileMode {
	var m os.FileMode
	set := func(perm Permission, r, w, x os.FileMode) {
		if perm.Read {
			m |= r
		}
		if perm.Write {
			m |= w
		}
		if perm.Execute {
			m |= x
		}
	}
	set(p.User, 0o400, 0o200, 0o100)
	set(p.Group, 0o040, 0o020, 0o010)
	set(p.Other, 0o004, 0o002, 0o001)
	return m
}

func (fs *NativeFS) SetMetadata(_ context.Context, path string, perms Permissions) error {
	host, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if _, statErr := os.Lstat(host); os.IsNotExist(statErr) {
		return NotFound{Path: path}
	} else if statErr != nil {
		return Io{Path: path, Err: statErr}
	}
	if err := os.Chmod(host, permissionsToMode(perms)); err != nil {
		return Io{Path: path, Err: err}
	}
	return nil
}

func (fs *NativeFS) WriteFile(_ context.Context, path string, offset uint64, r io.Reader) error {
	host, err := fs.resolve(path)
	if err != nil {
		return err
	}
	info, statErr := os.Lstat(host)
	if os.IsNotExist(statErr) {
		return NotFound{Path: path}
	}
	if statErr != nil {
		return Io{Path: path, Err: statErr}
	}
	if !info.Mode().IsRegular() {
		return NotAFile{Path: path}
	}

	f, err := os.OpenFile(host, os.O_WRONLY, 0o644)
	if err != nil {
		return Io{Path: path, Err: err}
	}
	defer f.Close()
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return Io{Path: path, Err: err}
	}
	if _, err := io.Copy(f, r); err != nil {
		return Io{Path: path, Err: err}
	}
	return nil
}

func (fs *NativeFS) Remove(_ context.Context, path string) error {
	host, err := fs.resolve(path)
	if err != nil {
		return err
	}
	info, statErr := os.Lstat(host)
	if os.IsNotExist(statErr) {
		return NotFound{Path: path}
	}
	if statErr != nil {
		return Io{Path: path, Err: statErr}
	}
	if info.IsDir() {
		entries, err := os.ReadDir(host)
		if err != nil {
			return Io{Path: path, Err: err}
		}
		if len(entries) > 0 {
			return NotEmpty{Path: path}
		}
	}
	if err := os.Remove(host); err != nil {
		return Io{Path: path, Err: err}
	}
	return nil
}

func (fs *NativeFS) Rename(_ context.Context, oldPath string, newPath string) error {
	oldHost, err := fs.resolve(oldPath)
	if err != nil {
		return err
	}
	newHost, err := fs.resolve(newPath)
	if err != nil {
		return err
	}
	if _, statErr := os.Lstat(oldHost); os.IsNotExist(statErr) {
		return NotFound{Path: oldPath}
	} else if statErr != nil {
		return Io{Path: oldPath, Err: statErr}
	}
	if err := fs.checkParentExists(newHost, newPath); err != nil {
		return err
	}
	if _, statErr := os.Lstat(newHost); statErr == nil {
		return AlreadyExists{Path: newPath}
	}
	if err := os.Rename(oldHost, newHost); err != nil {
		return Io{Path: oldPath, Err: err}
	}
	return nil
}

func (fs *NativeFS) checkParentExists(host string, path string) error {
	parent := filepath.Dir(host)
	if parent == fs.root {
		return nil
	}
	info, err := os.Lstat(parent)
	if os.IsNotExist(err) {
		return ParentDirectoryNotFound{Path: path}
	}
	if err != nil {
		return Io{Path: path, Err: err}
	}
	if !info.IsDir() {
		return ParentDirectoryNotFound{Path: path}
	}
	return nil
}
