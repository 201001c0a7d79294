// Package main is the entry point for the shared lists server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (from env vars)
// 2. Create dependencies (the logger)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/store, etc.).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
// A project might have multiple executables (e.g., cmd/server, cmd/migrate, cmd/cli).
// Each gets its own directory with its own main.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sakif/shared-lists/internal/config"
	"github.com/sakif/shared-lists/internal/server"
	"github.com/sakif/shared-lists/pkg/logging"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// Every setting has a default; see internal/config for the variables.
	cfg, err := config.Load()
	if err != nil {
		// No logger yet: its level and format are part of the config.
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_FORMAT=tint (default) for colored terminal output, json for log
	// collectors. LOG_LEVEL picks the minimum level.
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// === 3. CREATE AND START THE SERVER ===
	// New loads both documents up front so a broken data directory is
	// reported at startup rather than on the first request.
	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
