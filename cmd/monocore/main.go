// Command monocore is the CLI and daemon entrypoint for the sandbox
// orchestrator: it merges and validates a config file against the
// orchestrator's desired state, starts/stops sandboxes, reports status, and
// serves the control API over a Unix domain socket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/monocore-go/monocore/internal/config"
	"github.com/monocore-go/monocore/internal/mlog"
	"github.com/monocore-go/monocore/internal/orchestrator"
	"github.com/monocore-go/monocore/internal/sandboxdb"
	"github.com/monocore-go/monocore/pkg/constants"
	"github.com/monocore-go/monocore/pkg/control"
)

var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "up":
		err = upCommand(os.Args[2:])
	case "down":
		err = downCommand(os.Args[2:])
	case "status":
		err = statusCommand(os.Args[2:])
	case "daemon":
		err = daemonCommand(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`monocore - sandbox orchestrator

Usage:
  monocore up <config.json>       merge and apply a desired config
  monocore down [service]         stop one service, or everything
  monocore status                 list running sandboxes
  monocore daemon <state-dir>     run the orchestrator and control API
  monocore version                print version info
  monocore help                   print this message`)
}

func printVersion() {
	fmt.Printf("monocore %s (built %s, commit %s)\n", version, buildTime, commitHash)
}

func runtimeDir() string {
	if dir := os.Getenv("MONOCORE_RUNTIME_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "monocore")
	}
	return filepath.Join(home, ".monocore")
}

func socketPath() string {
	return filepath.Join(runtimeDir(), constants.DefaultControlSocketName)
}

// dial connects to a running daemon's control socket and issues a single
// request, decoding its response.
func dial(request control.Request) (control.Response, error) {
	conn, err := net.Dial("unix", socketPath())
	if err != nil {
		return control.Response{}, fmt.Errorf("connect to daemon: %w (is `monocore daemon` running?)", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(request); err != nil {
		return control.Response{}, err
	}
	var response control.Response
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return control.Response{}, err
	}
	if response.Error != "" {
		return response, fmt.Errorf(response.Error)
	}
	return response, nil
}

func upCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: monocore up <config.json>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var cfg config.MonocoreConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	params, err := json.Marshal(map[string]interface{}{"config": cfg})
	if err != nil {
		return err
	}
	_, err = dial(control.Request{Method: "Up", ID: "cli", Params: params})
	if err != nil {
		return err
	}
	fmt.Println("up: applied")
	return nil
}

func downCommand(args []string) error {
	var service string
	if len(args) > 0 {
		service = args[0]
	}
	params, err := json.Marshal(map[string]interface{}{"service": service})
	if err != nil {
		return err
	}
	if _, err := dial(control.Request{Method: "Down", ID: "cli", Params: params}); err != nil {
		return err
	}
	fmt.Println("down: applied")
	return nil
}

func statusCommand(args []string) error {
	response, err := dial(control.Request{Method: "Status", ID: "cli"})
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(response.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func daemonCommand(args []string) error {
	stateDir := runtimeDir()
	if len(args) > 0 {
		stateDir = args[0]
	}
	logDir := filepath.Join(stateDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	db, err := sandboxdb.NewStore(filepath.Join(stateDir, constants.DefaultSandboxDBName))
	if err != nil {
		return fmt.Errorf("open sandbox database: %w", err)
	}
	defer db.Close()

	logger := mlog.New(0)
	orch := orchestrator.New(orchestrator.Options{
		StateDir:     stateDir,
		LogDir:       logDir,
		BinaryPath:   microvmBinaryPath(),
		SandboxDB:    db,
		LogRetention: orchestrator.DefaultLogRetentionPolicy(),
		Logger:       logger,
	})
	if err := orch.Load(); err != nil {
		logger.Warn("load existing state failed", "error", err)
	}

	if err := os.MkdirAll(runtimeDir(), 0o755); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	sockPath := socketPath()
	os.Remove(sockPath)
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	defer listener.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := control.NewServer(orch)
	logger.Info("daemon listening", "socket", sockPath)
	err = server.Serve(ctx, listener)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// microvmBinaryPath locates the pre-packaged microVM runtime executable the
// Supervisor spawns; it is expected alongside this binary in development.
func microvmBinaryPath() string {
	if p := os.Getenv("MONOCORE_MICROVM_BIN"); p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return "monocore-microvm"
	}
	return filepath.Join(filepath.Dir(exe), "monocore-microvm")
}
