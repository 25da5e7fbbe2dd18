package sandboxdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestUpsertAndList(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(filepath.Join(t.TempDir(), "sandbox.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	sb := Sandbox{
		Name:               "web",
		ConfigFile:         "/etc/monocore/web.yaml",
		ConfigLastModified: time.Now(),
		Status:             StatusRunning,
		SupervisorPID:      1234,
		MicroVMPID:         5678,
		RootfsPaths:        []string{"/var/lib/monocore/rootfs/web"},
	}
	if err := store.Upsert(ctx, sb); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rows, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Name != "web" || rows[0].Status != StatusRunning {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(filepath.Join(t.TempDir(), "sandbox.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	sb := Sandbox{Name: "web", ConfigFile: "cfg.yaml", Status: StatusRunning, SupervisorPID: 1, MicroVMPID: 2}
	if err := store.Upsert(ctx, sb); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if err := store.UpdateStatus(ctx, "web", "cfg.yaml", StatusStopped); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	rows, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Status != StatusStopped {
		t.Errorf("status = %v, want STOPPED", rows[0].Status)
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(filepath.Join(t.TempDir(), "sandbox.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	sb := Sandbox{Name: "web", ConfigFile: "cfg.yaml", Status: StatusRunning}
	if err := store.Upsert(ctx, sb); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Delete(ctx, "web", "cfg.yaml"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	rows, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("got %d rows, want 0", len(rows))
	}
}

func TestPidAliveForCurrentProcess(t *testing.T) {
	if !PidAlive(os.Getpid()) {
		t.Error("expected current process to be reported alive")
	}
}
