// Package sandboxdb is the indexed, queryable view of running sandboxes:
// a SQLite table upserted by the Monitor on start/stop. The Orchestrator's
// Status and Load do not read it: they scan the per-supervisor JSON state
// files, which remain the source of truth; this store is a secondary
// index, not a replacement.
package sandboxdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status mirrors the sandbox runtime state's status field.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusStopped Status = "STOPPED"
)

// Sandbox is one row: the runtime state record from spec.md §3, keyed by
// (Name, ConfigFile).
type Sandbox struct {
	ID                 string
	Name               string
	ConfigFile         string
	ConfigLastModified time.Time
	Status             Status
	SupervisorPID      int
	MicroVMPID         int
	RootfsPaths        []string
	GroupID            string
	GroupIP            string
	UpdatedAt          time.Time
}

// Store is a SQLite-backed sandbox index.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if necessary) a SQLite database at path and
// runs any pending migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sandboxdb: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sandboxdb: open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sandboxdb: set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sandboxdb: set foreign_keys: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sandboxdb: run migrations: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Upsert inserts or updates the row keyed by (sb.Name, sb.ConfigFile). A
// fresh UUID is assigned on first insert; on update the existing ID is
// preserved.
func (s *Store) Upsert(ctx context.Context, sb Sandbox) error {
	rootfs, err := json.Marshal(sb.RootfsPaths)
	if err != nil {
		return fmt.Errorf("sandboxdb: marshal rootfs_paths: %w", err)
	}

	id := sb.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sandboxes (
			id, name, config_file, config_last_modified, status,
			supervisor_pid, microvm_pid, rootfs_paths, group_id, group_ip, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, config_file) DO UPDATE SET
			config_last_modified = excluded.config_last_modified,
			status               = excluded.status,
			supervisor_pid       = excluded.supervisor_pid,
			microvm_pid          = excluded.microvm_pid,
			rootfs_paths         = excluded.rootfs_paths,
			group_id             = excluded.group_id,
			group_ip             = excluded.group_ip,
			updated_at           = excluded.updated_at
	`,
		id, sb.Name, sb.ConfigFile, sb.ConfigLastModified.Format(time.RFC3339Nano), string(sb.Status),
		sb.SupervisorPID, sb.MicroVMPID, string(rootfs), nullableString(sb.GroupID), nullableString(sb.GroupIP),
		time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sandboxdb: upsert %s/%s: %w", sb.Name, sb.ConfigFile, err)
	}
	return nil
}

// UpdateStatus flips the row keyed by (name, configFile) to status,
// leaving every other field untouched.
func (s *Store) UpdateStatus(ctx context.Context, name, configFile string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sandboxes SET status = ?, updated_at = ? WHERE name = ? AND config_file = ?`,
		string(status), time.Now().Format(time.RFC3339Nano), name, configFile,
	)
	if err != nil {
		return fmt.Errorf("sandboxdb: update status for %s/%s: %w", name, configFile, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sandboxdb: rows affected for %s/%s: %w", name, configFile, err)
	}
	if n == 0 {
		return fmt.Errorf("sandboxdb: no row for %s/%s", name, configFile)
	}
	return nil
}

// List returns every row, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Sandbox, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, config_file, config_last_modified, status,
		       supervisor_pid, microvm_pid, rootfs_paths, group_id, group_ip, updated_at
		FROM sandboxes ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("sandboxdb: list: %w", err)
	}
	defer rows.Close()

	var out []Sandbox
	for rows.Next() {
		sb, err := scanSandbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sandboxdb: iterate rows: %w", err)
	}
	return out, nil
}

// Delete removes the row keyed by (name, configFile).
func (s *Store) Delete(ctx context.Context, name, configFile string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sandboxes WHERE name = ? AND config_file = ?`, name, configFile); err != nil {
		return fmt.Errorf("sandboxdb: delete %s/%s: %w", name, configFile, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSandbox(row rowScanner) (Sandbox, error) {
	var (
		sb                         Sandbox
		configLastModified, updatedAt string
		status                     string
		rootfsJSON                 string
		groupID, groupIP           sql.NullString
	)
	if err := row.Scan(
		&sb.ID, &sb.Name, &sb.ConfigFile, &configLastModified, &status,
		&sb.SupervisorPID, &sb.MicroVMPID, &rootfsJSON, &groupID, &groupIP, &updatedAt,
	); err != nil {
		return Sandbox{}, fmt.Errorf("sandboxdb: scan row: %w", err)
	}

	sb.Status = Status(status)
	if t, err := time.Parse(time.RFC3339Nano, configLastModified); err == nil {
		sb.ConfigLastModified = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		sb.UpdatedAt = t
	}
	if err := json.Unmarshal([]byte(rootfsJSON), &sb.RootfsPaths); err != nil {
		return Sandbox{}, fmt.Errorf("sandboxdb: unmarshal rootfs_paths: %w", err)
	}
	sb.GroupID = groupID.String
	sb.GroupIP = groupIP.String
	return sb, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// PidAlive reports whether pid refers to a live process. On POSIX this is
// the standard zero-signal liveness probe: sending signal 0 only checks
// permissions and existence.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
