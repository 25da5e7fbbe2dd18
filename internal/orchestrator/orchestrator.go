// Package orchestrator holds the desired state for a set of sandboxes and
// drives supervisors up and down in dependency order to reconcile it.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/monocore-go/monocore/internal/config"
	"github.com/monocore-go/monocore/internal/mlog"
	"github.com/monocore-go/monocore/internal/monitor"
	"github.com/monocore-go/monocore/internal/sandboxdb"
	"github.com/monocore-go/monocore/internal/supervisor"
)

// LogRetentionPolicy governs the log-cleanup sweep run at up/down
// boundaries.
type LogRetentionPolicy struct {
	MaxAge      time.Duration
	AutoCleanup bool
}

// DefaultLogRetentionPolicy keeps a week of logs and sweeps automatically.
func DefaultLogRetentionPolicy() LogRetentionPolicy {
	return LogRetentionPolicy{MaxAge: 7 * 24 * time.Hour, AutoCleanup: true}
}

// Options configures an Orchestrator.
type Options struct {
	StateDir     string
	LogDir       string
	BinaryPath   string
	SandboxDB    *sandboxdb.Store
	LogRetention LogRetentionPolicy
	Logger       *slog.Logger
}

type runningService struct {
	supervisor *supervisor.Supervisor
	monitor    *monitor.Monitor
	pid        int
}

// Orchestrator holds the merged desired config and the set of services
// currently running, mapped to the supervisor/monitor pair babysitting
// each one.
type Orchestrator struct {
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	desired   config.MonocoreConfig
	running   map[string]*runningService
	scheduler gocron.Scheduler
}

// New creates an empty Orchestrator with no desired state and nothing running.
func New(opts Options) *Orchestrator {
	if opts.LogRetention == (LogRetentionPolicy{}) {
		opts.LogRetention = DefaultLogRetentionPolicy()
	}
	return &Orchestrator{
		opts:    opts,
		log:     mlog.OrDefault(opts.Logger),
		running: make(map[string]*runningService),
	}
}

func (o *Orchestrator) stateDirPattern() string {
	return filepath.Join(o.opts.StateDir, "*.json")
}

// Up computes the changed services between the current desired config and
// newConfig, merges the two, validates the merge, and starts (or
// restarts) every changed service in dependency order.
func (o *Orchestrator) Up(ctx context.Context, newConfig config.MonocoreConfig) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	changed := o.desired.GetChangedServices(newConfig)
	merged := config.Merge(o.desired, newConfig)
	if err := config.Validate(merged); err != nil {
		return err
	}

	ordered, err := config.GetOrderedServices(merged, changed)
	if err != nil {
		return err
	}

	serviceByName := make(map[string]config.ServiceConfig, len(merged.Services))
	for _, s := range merged.Services {
		serviceByName[s.Name] = s
	}
	groupEnvByName := make(map[string]map[string]string, len(merged.Groups))
	for _, g := range merged.Groups {
		groupEnvByName[g.Name] = g.Env
	}

	o.desired = merged

	for _, name := range ordered {
		svc, ok := serviceByName[name]
		if !ok {
			continue
		}
		if _, isRunning := o.running[name]; isRunning {
			if err := o.stopServiceLocked(ctx, name); err != nil {
				o.log.Warn("stop before restart failed", mlog.FieldService, name, "error", err)
			}
		}
		if err := o.startServiceLocked(ctx, svc, groupEnvByName[svc.Group]); err != nil {
			// Start failures are fatal for this invocation, but earlier
			// successful starts in this loop are left running.
			return fmt.Errorf("orchestrator: start %s: %w", name, err)
		}
	}

	if o.opts.LogRetention.AutoCleanup {
		o.cleanupOldLogsLocked()
	}
	return nil
}

func (o *Orchestrator) startServiceLocked(ctx context.Context, svc config.ServiceConfig, groupEnv map[string]string) error {
	sup, err := supervisor.New(supervisor.Config{
		SandboxName: svc.Name,
		ConfigFile:  svc.Name + ".yaml",
		StateDir:    o.opts.StateDir,
		LogDir:      o.opts.LogDir,
		BinaryPath:  o.opts.BinaryPath,
	}, os.Getpid())
	if err != nil {
		return err
	}

	serviceJSON, err := json.Marshal(svc)
	if err != nil {
		sup.Close()
		return fmt.Errorf("marshal service config: %w", err)
	}
	groupEnvJSON, err := json.Marshal(groupEnv)
	if err != nil {
		sup.Close()
		return fmt.Errorf("marshal group env: %w", err)
	}

	rootfsPath := filepath.Join(o.opts.StateDir, "rootfs", svc.Name)
	pid, stdout, stderr, err := sup.Start(ctx, string(serviceJSON), string(groupEnvJSON), svc.LocalOnly, rootfsPath)
	if err != nil {
		sup.Close()
		return err
	}

	mon := monitor.New(monitor.Config{
		SupervisorPID: os.Getpid(),
		SandboxDB:     o.opts.SandboxDB,
		SandboxName:   svc.Name,
		ConfigFile:    svc.Name + ".yaml",
		ConfigModTime: time.Now(),
		LogDir:        o.opts.LogDir,
		Rootfs:        monitor.Rootfs{Kind: monitor.RootfsNative, Path: rootfsPath},
		Retention:     o.opts.LogRetention.MaxAge,
	})
	if err := mon.Start(ctx, pid, monitor.Piped{Stdout: stdout, Stderr: stderr}); err != nil {
		o.log.Warn("monitor start failed", mlog.FieldService, svc.Name, "error", err)
	}

	o.running[svc.Name] = &runningService{supervisor: sup, monitor: mon, pid: pid}
	return nil
}

// Down stops the named service, or every running service if name is "",
// in reverse dependency order, and removes the stopped entries from the
// desired config.
func (o *Orchestrator) Down(ctx context.Context, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var names []string
	if name != "" {
		if _, ok := o.running[name]; !ok {
			return fmt.Errorf("orchestrator: %s is not running", name)
		}
		names = []string{name}
	} else {
		for n := range o.running {
			names = append(names, n)
		}
		sort.Strings(names)
	}

	ordered, err := config.ReverseOrderedServices(o.desired, names)
	if err != nil {
		// Stop failures (including an unordered config) are non-fatal:
		// fall back to whatever order the caller asked for.
		ordered = names
		o.log.Warn("reverse ordering failed, stopping in request order", "error", err)
	}

	for _, n := range ordered {
		if err := o.stopServiceLocked(ctx, n); err != nil {
			o.log.Warn("stop service failed", mlog.FieldService, n, "error", err)
		}
	}

	o.desired = config.RemoveServices(o.desired, ordered)

	if o.opts.LogRetention.AutoCleanup {
		o.cleanupOldLogsLocked()
	}
	return nil
}

func (o *Orchestrator) stopServiceLocked(ctx context.Context, name string) error {
	rs, ok := o.running[name]
	if !ok {
		return fmt.Errorf("orchestrator: %s is not running", name)
	}
	delete(o.running, name)

	var shutdownErr error
	if rs.supervisor != nil {
		shutdownErr = rs.supervisor.Shutdown(ctx)
		rs.supervisor.Close()
	}
	if rs.monitor != nil {
		if err := rs.monitor.Stop(ctx); err != nil {
			o.log.Warn("monitor stop failed", mlog.FieldService, name, "error", err)
		}
	}
	return shutdownErr
}

// Status scans the state-file directory, drops (and deletes) any file
// whose recorded microvm_pid is no longer alive, and returns the
// surviving records.
func (o *Orchestrator) Status() ([]supervisor.State, error) {
	paths, err := filepath.Glob(o.stateDirPattern())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: glob state dir: %w", err)
	}

	var out []supervisor.State
	for _, path := range paths {
		st, err := supervisor.LoadState(path)
		if err != nil {
			o.log.Warn("status: failed to read state file", "path", path, "error", err)
			continue
		}
		if st.MicroVMPID != 0 && !sandboxdb.PidAlive(st.MicroVMPID) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				o.log.Warn("status: failed to purge stale state file", "path", path, "error", err)
			}
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// Load is for use at process startup: it runs Status, which purges state
// files whose microvm_pid is no longer alive, and logs each surviving
// record. It does not repopulate the running-service map or the desired
// config, so services started by an earlier process are unknown to Down.
func (o *Orchestrator) Load() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	states, err := o.Status()
	if err != nil {
		return err
	}
	for _, st := range states {
		o.log.Info("reconstructed sandbox state", mlog.FieldSandbox, st.Name, "pid", st.MicroVMPID)
	}
	return nil
}

// StartCleanupScheduler runs the log-cleanup sweep on a fixed cadence, in
// addition to the sweep already triggered at every Up/Down boundary. It is
// optional: callers that only want boundary-triggered cleanup never call it.
func (o *Orchestrator) StartCleanupScheduler(interval time.Duration) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("orchestrator: create cleanup scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			o.cleanupOldLogsLocked()
		}),
	)
	if err != nil {
		return fmt.Errorf("orchestrator: schedule cleanup job: %w", err)
	}
	o.mu.Lock()
	o.scheduler = scheduler
	o.mu.Unlock()
	scheduler.Start()
	return nil
}

// StopCleanupScheduler stops the periodic cleanup job started by
// StartCleanupScheduler, if one is running.
func (o *Orchestrator) StopCleanupScheduler() error {
	o.mu.Lock()
	scheduler := o.scheduler
	o.scheduler = nil
	o.mu.Unlock()
	if scheduler == nil {
		return nil
	}
	return scheduler.Shutdown()
}

// cleanupOldLogsLocked sweeps LogDir for .log/.old files older than the
// retention policy's MaxAge. Best-effort: failures are logged, not returned.
func (o *Orchestrator) cleanupOldLogsLocked() {
	entries, err := os.ReadDir(o.opts.LogDir)
	if err != nil {
		o.log.Warn("log cleanup: read dir failed", "error", err)
		return
	}
	cutoff := time.Now().Add(-o.opts.LogRetention.MaxAge)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".log") && !strings.HasSuffix(e.Name(), ".old") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(o.opts.LogDir, e.Name())
			if err := os.Remove(path); err != nil {
				o.log.Warn("log cleanup: remove failed", "path", path, "error", err)
			}
		}
	}
}
