// Package constants defines cross-cutting defaults shared by the CLI, the
// orchestrator, and the content-addressed storage layer.
package constants

import "time"

// Chunking defaults. DefaultDesiredChunkSize mirrors the gear chunker's own
// target average; it is duplicated here (rather than imported) so callers
// that only need the constant don't have to pull in the chunker package.
const (
	DefaultDesiredChunkSize = 256 * 1024
	MaxChunkSize            = 4 * 1024 * 1024
	ConcurrentChunkFetch    = 4
)

// Log rotation, retention and shutdown defaults. The Supervisor and the
// Monitor set their own values and do not reference these.
const (
	DefaultLogMaxSize    = 10 * 1024 * 1024
	DefaultLogRetention  = 7 * 24 * time.Hour
	DefaultShutdownGrace = 10 * time.Second
	ShutdownPollInterval = 200 * time.Millisecond
)

// Filesystem defaults.
const (
	// MaxSymlinkDepth is a symlink-following depth limit. The virtual
	// filesystem facade does not follow symlinks and does not reference it.
	MaxSymlinkDepth = 40
)

// Control API defaults.
const (
	DefaultControlSocketName = "monocore.sock"
)

// Sandbox database defaults.
const (
	DefaultSandboxDBName = "sandboxes.db"
)

// Error codes returned by the control API and CLI.
const (
	ErrorConfigInvalid   = 1
	ErrorServiceNotFound = 2
	ErrorPortConflict    = 3
	ErrorCircularDeps    = 4
	ErrorRateLimit       = 5
)
