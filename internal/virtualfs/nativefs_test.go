package virtualfs

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestNativeFSCreateFileMissingParent(t *testing.T) {
	ctx := context.Background()
	fs, err := NewNativeFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewNativeFS: %v", err)
	}

	err = fs.CreateFile(ctx, "missing/child.txt", false)
	if _, ok := err.(ParentDirectoryNotFound); !ok {
		t.Errorf("got %v (%T), want ParentDirectoryNotFound", err, err)
	}
}

func TestNativeFSRemoveNonEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	fs, err := NewNativeFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewNativeFS: %v", err)
	}

	if err := fs.CreateDirectory(ctx, "d"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if err := fs.CreateFile(ctx, "d/f", false); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	err = fs.Remove(ctx, "d")
	if _, ok := err.(NotEmpty); !ok {
		t.Errorf("got %v (%T), want NotEmpty", err, err)
	}
}

func TestNativeFSRenameOntoExisting(t *testing.T) {
	ctx := context.Background()
	fs, err := NewNativeFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewNativeFS: %v", err)
	}

	if err := fs.CreateFile(ctx, "a", false); err != nil {
		t.Fatalf("CreateFile a: %v", err)
	}
	if err := fs.CreateFile(ctx, "b", false); err != nil {
		t.Fatalf("CreateFile b: %v", err)
	}

	err = fs.Rename(ctx, "a", "b")
	if _, ok := err.(AlreadyExists); !ok {
		t.Errorf("got %v (%T), want AlreadyExists", err, err)
	}
}

func TestNativeFSReadFileOffsetLength(t *testing.T) {
	ctx := context.Background()
	fs, err := NewNativeFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewNativeFS: %v", err)
	}

	if err := fs.CreateFile(ctx, "greeting", false); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := fs.WriteFile(ctx, "greeting", 0, bytes.NewReader([]byte("Hello, World!"))); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := fs.ReadFile(ctx, "greeting", 7, 5)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "World" {
		t.Errorf("got %q, want %q", got, "World")
	}
}

func TestNativeFSCreateFileExistsOk(t *testing.T) {
	ctx := context.Background()
	fs, err := NewNativeFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewNativeFS: %v", err)
	}

	if err := fs.CreateFile(ctx, "f", false); err != nil {
		t.Fatalf("first CreateFile: %v", err)
	}
	if err := fs.CreateFile(ctx, "f", true); err != nil {
		t.Errorf("second CreateFile with existsOk=true: %v", err)
	}
	if err := fs.CreateFile(ctx, "f", false); err == nil {
		t.Error("expected AlreadyExists with existsOk=false")
	}
}

func TestNativeFSSymlinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewNativeFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewNativeFS: %v", err)
	}

	if err := fs.CreateSymlink(ctx, "link", "target/does/not/exist"); err != nil {
		t.Fatalf("CreateSymlink: %v", err)
	}
	target, err := fs.ReadSymlink(ctx, "link")
	if err != nil {
		t.Fatalf("ReadSymlink: %v", err)
	}
	if target != "target/does/not/exist" {
		t.Errorf("target = %q", target)
	}

	md, err := fs.GetMetadata(ctx, "link")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if md.ModeType != ModeSymlink {
		t.Errorf("ModeType = %v, want ModeSymlink", md.ModeType)
	}
}
