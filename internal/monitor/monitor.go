// Package monitor owns one microVM's process lifecycle observation: it
// opens the per-sandbox rotating log, copies or forwards the child's I/O
// into it, upserts the sandbox's row in the sandbox database, and sweeps
// stale logs on stop.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/monocore-go/monocore/internal/mlog"
	"github.com/monocore-go/monocore/internal/rotatinglog"
	"github.com/monocore-go/monocore/internal/sandboxdb"
)

// RootfsKind tags which shape a Monitor's rootfs spec takes.
type RootfsKind int

const (
	RootfsNative RootfsKind = iota
	RootfsOverlay
)

// Rootfs is either a single native directory or a stack of merged layers.
type Rootfs struct {
	Kind   RootfsKind
	Path   string   // valid when Kind == RootfsNative
	Layers []string // valid when Kind == RootfsOverlay
}

// Paths flattens a Rootfs into the path list the sandbox database records.
func (r Rootfs) Paths() []string {
	if r.Kind == RootfsNative {
		return []string{r.Path}
	}
	return r.Layers
}

// Piped is the child-I/O shape for a microVM whose stdio is a set of
// plain pipes.
type Piped struct {
	Stdout io.Reader
	Stderr io.Reader
	Stdin  io.Writer // the child's stdin; parent stdin is copied into it
}

// TTY is the child-I/O shape for a microVM attached to a pseudo-terminal;
// Master is the PTY master side.
type TTY struct {
	Master *os.File
}

// ChildIO is implemented by Piped and TTY.
type ChildIO interface{ isChildIO() }

func (Piped) isChildIO() {}
func (TTY) isChildIO()   {}

// Config describes one Monitor instance, created once per supervised VM.
type Config struct {
	SupervisorPID  int
	SandboxDB      *sandboxdb.Store
	SandboxName    string
	ConfigFile     string
	ConfigModTime  time.Time
	LogDir         string
	Rootfs         Rootfs
	Retention      time.Duration
	ForwardOutput  bool
	Logger         *slog.Logger
}

// Monitor tracks one running microVM: its log, its row in the sandbox
// database, and (for TTY sessions) the terminal state it must restore.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	log         *rotatinglog.RotatingLog
	logPath     string
	savedTerm   *termState
	stopOnce    sync.Once
	ioWG        sync.WaitGroup
}

// New builds a Monitor; it performs no I/O until Start is called.
func New(cfg Config) *Monitor {
	return &Monitor{
		cfg:    cfg,
		logger: mlog.WithService(cfg.Logger, cfg.SandboxName),
	}
}

func (m *Monitor) logFileName() string {
	base := filepath.Base(m.cfg.ConfigFile)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s-%s.log", base, m.cfg.SandboxName)
}

// Start opens the log, upserts a RUNNING row, and wires the child's I/O
// according to its shape.
func (m *Monitor) Start(ctx context.Context, pid int, io_ ChildIO) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("monitor: create log dir: %w", err)
	}
	logPath := filepath.Join(m.cfg.LogDir, m.logFileName())
	log, err := rotatinglog.New(logPath)
	if err != nil {
		return fmt.Errorf("monitor: open log: %w", err)
	}
	m.log = log
	m.logPath = logPath

	if m.cfg.SandboxDB != nil {
		sb := sandboxdb.Sandbox{
			Name:               m.cfg.SandboxName,
			ConfigFile:         m.cfg.ConfigFile,
			ConfigLastModified: m.cfg.ConfigModTime,
			Status:             sandboxdb.StatusRunning,
			SupervisorPID:      m.cfg.SupervisorPID,
			MicroVMPID:         pid,
			RootfsPaths:        m.cfg.Rootfs.Paths(),
		}
		if err := m.cfg.SandboxDB.Upsert(ctx, sb); err != nil {
			m.logger.Warn("sandbox db upsert failed", "error", err)
		}
	}

	switch v := io_.(type) {
	case Piped:
		m.startPiped(v)
	case TTY:
		m.startTTY(v)
	default:
		return fmt.Errorf("monitor: unknown child I/O shape %T", io_)
	}
	return nil
}

func (m *Monitor) startPiped(p Piped) {
	m.ioWG.Add(1)
	go func() {
		defer m.ioWG.Done()
		m.copyToLog(p.Stdout, "stdout")
	}()
	m.ioWG.Add(1)
	go func() {
		defer m.ioWG.Done()
		m.copyToLog(p.Stderr, "stderr")
	}()
	if p.Stdin != nil {
		m.ioWG.Add(1)
		go func() {
			defer m.ioWG.Done()
			// Parent-stdin forwarding terminates on parent EOF.
			_, err := io.Copy(p.Stdin, os.Stdin)
			if err != nil && err != io.EOF {
				m.logger.Warn("stdin forward ended", "error", err)
			}
		}()
	}
}

func (m *Monitor) copyToLog(r io.Reader, stream string) {
	if r == nil {
		return
	}
	var dst io.Writer = m.log
	if m.cfg.ForwardOutput {
		target := os.Stdout
		if stream == "stderr" {
			target = os.Stderr
		}
		dst = io.MultiWriter(m.log, target)
	}
	if _, err := io.Copy(dst, r); err != nil && err != io.EOF {
		m.logger.Warn("copy to log failed", "stream", stream, "error", err)
	}
}

func (m *Monitor) startTTY(t TTY) {
	if saved, err := getTermState(int(os.Stdin.Fd())); err == nil {
		m.savedTerm = saved
		if err := setRawMode(int(os.Stdin.Fd())); err != nil {
			m.logger.Warn("failed to set raw mode", "error", err)
		}
	} else {
		m.logger.Warn("failed to snapshot terminal state", "error", err)
	}

	m.ioWG.Add(1)
	go func() {
		defer m.ioWG.Done()
		m.copyToLog(t.Master, "tty")
	}()
	m.ioWG.Add(1)
	go func() {
		defer m.ioWG.Done()
		if _, err := io.Copy(t.Master, os.Stdin); err != nil && err != io.EOF {
			m.logger.Warn("tty stdin forward ended", "error", err)
		}
	}()
}

// Stop restores any saved terminal state, marks the sandbox row STOPPED,
// sweeps expired log files, and clears the internal log path.
func (m *Monitor) Stop(ctx context.Context) error {
	var stopErr error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		stopErr = m.stopLocked(ctx)
	})
	return stopErr
}

func (m *Monitor) stopLocked(ctx context.Context) error {
	m.restoreTerminal()

	if m.cfg.SandboxDB != nil {
		if err := m.cfg.SandboxDB.UpdateStatus(ctx, m.cfg.SandboxName, m.cfg.ConfigFile, sandboxdb.StatusStopped); err != nil {
			m.logger.Warn("sandbox db status update failed", "error", err)
		}
	}

	if m.log != nil {
		if err := m.log.Close(); err != nil {
			m.logger.Warn("log close failed", "error", err)
		}
	}

	m.sweepLogDir()
	m.logPath = ""
	return nil
}

func (m *Monitor) restoreTerminal() {
	if m.savedTerm == nil {
		return
	}
	if err := restoreTermState(int(os.Stdin.Fd()), m.savedTerm); err != nil {
		m.logger.Warn("failed to restore terminal state", "error", err)
	}
	m.savedTerm = nil
}

// sweepLogDir deletes *.log files in LogDir older than Retention.
// Best-effort: every failure is logged at warn level and skipped.
func (m *Monitor) sweepLogDir() {
	if m.cfg.Retention <= 0 {
		return
	}
	entries, err := os.ReadDir(m.cfg.LogDir)
	if err != nil {
		m.logger.Warn("log sweep: read dir failed", "error", err)
		return
	}
	cutoff := time.Now().Add(-m.cfg.Retention)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			m.logger.Warn("log sweep: stat failed", "file", e.Name(), "error", err)
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(m.cfg.LogDir, e.Name())
			if err := os.Remove(path); err != nil {
				m.logger.Warn("log sweep: remove failed", "file", path, "error", err)
			}
		}
	}
}

// Wait blocks until every I/O copy goroutine started by Start has exited:
// the output copies end when the child closes its pipes or TTY master, and
// the stdin forwarder (TTY, or Piped with Stdin set) ends when parent
// stdin hits EOF.
func (m *Monitor) Wait() { m.ioWG.Wait() }

// Drop restores terminal attributes unconditionally, matching the
// spec's "on drop" guarantee; callers that might skip Stop (panics,
// early returns) should defer this.
func (m *Monitor) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restoreTerminal()
}
