package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/monocore-go/monocore/internal/config"
	"github.com/monocore-go/monocore/internal/supervisor"
)

func testOrchestrator(t *testing.T, binaryPath string) *Orchestrator {
	t.Helper()
	return New(Options{
		StateDir:     t.TempDir(),
		LogDir:       t.TempDir(),
		BinaryPath:   binaryPath,
		LogRetention: LogRetentionPolicy{MaxAge: time.Hour, AutoCleanup: false},
	})
}

func TestUpPortConflictRejected(t *testing.T) {
	o := testOrchestrator(t, "/bin/true")
	cfg := config.MonocoreConfig{
		Services: []config.ServiceConfig{
			{Name: "a", Image: "x", Ports: []config.PortMapping{{HostPort: 8080, GuestPort: 80}}},
			{Name: "b", Image: "x", Ports: []config.PortMapping{{HostPort: 8080, GuestPort: 81}}},
		},
	}
	err := o.Up(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected port conflict error")
	}
	if !strings.Contains(err.Error(), "already in use") {
		t.Errorf("error = %v, want mention of port reuse", err)
	}
}

func TestUpCircularDependencyRejected(t *testing.T) {
	o := testOrchestrator(t, "/bin/true")
	cfg := config.MonocoreConfig{
		Services: []config.ServiceConfig{
			{Name: "a", Image: "x", DependsOn: []string{"b"}},
			{Name: "b", Image: "x", DependsOn: []string{"a"}},
		},
	}
	err := o.Up(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected circular dependency error")
	}
	if !strings.Contains(err.Error(), "circular dependency") {
		t.Errorf("error = %v, want mention of circular dependency", err)
	}
}

func TestUpStartsServiceAndItsDependency(t *testing.T) {
	o := testOrchestrator(t, "/bin/true")
	cfg := config.MonocoreConfig{
		Services: []config.ServiceConfig{
			{Name: "web", Image: "x", DependsOn: []string{"db"}},
			{Name: "db", Image: "x"},
		},
	}
	if err := o.Up(context.Background(), cfg); err != nil {
		t.Fatalf("Up: %v", err)
	}

	o.mu.Lock()
	_, webRunning := o.running["web"]
	_, dbRunning := o.running["db"]
	o.mu.Unlock()
	if !webRunning || !dbRunning {
		t.Fatalf("expected both services running, web=%v db=%v", webRunning, dbRunning)
	}

	if err := o.Down(context.Background(), ""); err != nil {
		t.Fatalf("Down: %v", err)
	}
}

func TestDownUnknownServiceErrors(t *testing.T) {
	o := testOrchestrator(t, "/bin/true")
	if err := o.Down(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown service")
	}
}

func TestStatusPurgesDeadPID(t *testing.T) {
	o := testOrchestrator(t, "/bin/true")

	// A state file recording a pid that is certainly not alive (pid 1 may
	// be alive but owned by another user on most systems; instead use a
	// pid far beyond any plausible live process).
	deadState := supervisor.State{
		Name:          "ghost",
		ConfigFile:    "ghost.yaml",
		Status:        supervisor.StatusRunning,
		SupervisorPID: os.Getpid(),
		MicroVMPID:    1 << 30,
		StartedAt:     time.Now(),
	}
	path := filepath.Join(o.opts.StateDir, "ghost-"+strconv.Itoa(os.Getpid())+".json")
	writeTestState(t, path, deadState)

	states, err := o.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, st := range states {
		if st.Name == "ghost" {
			t.Fatalf("expected ghost state purged, found %+v", st)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected state file removed, stat err = %v", err)
	}
}

func writeTestState(t *testing.T, path string, st supervisor.State) {
	t.Helper()
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
}
