// warren provisions short-lived sandbox containers for agent tool use and
// proxies typed file, shell, and browser operations into them.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/warrenlabs/warren/pkg/config"
	"github.com/warrenlabs/warren/pkg/registry"
	"github.com/warrenlabs/warren/pkg/registry/sqlite"
	"github.com/warrenlabs/warren/pkg/sandbox"
	"github.com/warrenlabs/warren/pkg/sandbox/docker"
)

func main() {
	root := &cobra.Command{
		Use:           "warren",
		Short:         "Manage sandbox containers for agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newCreateCmd(),
		newStatusCmd(),
		newExecCmd(),
		newViewCmd(),
		newKillCmd(),
		newReadCmd(),
		newWriteCmd(),
		newBrowseCmd(),
		newDestroyCmd(),
		newListCmd(),
		newPsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env assembles the shared dependencies each command needs.
type env struct {
	cfg     *config.Config
	store   registry.Store
	runtime *docker.Manager
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".warren", "warren.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	runtime, err := docker.New()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connecting to docker: %w", err)
	}

	return &env{cfg: cfg, store: store, runtime: runtime}, nil
}

func (e *env) close() {
	e.runtime.Close()
	e.store.Close()
}

// loadHandle rebuilds a sandbox handle from the session's persisted record.
// The handle is marked ready: the record only exists for sandboxes that
// passed the readiness probe when they were created.
func (e *env) loadHandle(cmd *cobra.Command, sessionID string) (*sandbox.Sandbox, error) {
	rec, err := e.store.Get(cmd.Context(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("no sandbox recorded for session %s: %w", sessionID, err)
	}
	if rec.State == sandbox.StateDestroyed.String() {
		return nil, fmt.Errorf("sandbox for session %s was destroyed", sessionID)
	}

	sb := sandbox.New(rec.Name, rec.ContainerID, rec.Address, e.cfg.Sandbox)
	if err := sb.SetState(sandbox.StateReady); err != nil {
		return nil, err
	}
	return sb, nil
}
