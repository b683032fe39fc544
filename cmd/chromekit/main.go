// Package main implements the chromekit CLI for managing shared-source
// browser fork workspaces.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/chromekit/internal/bridge"
	"github.com/fyrsmithlabs/chromekit/internal/builder"
	"github.com/fyrsmithlabs/chromekit/internal/checkout"
	"github.com/fyrsmithlabs/chromekit/internal/config"
	"github.com/fyrsmithlabs/chromekit/internal/logging"
	"github.com/fyrsmithlabs/chromekit/internal/workspace"
)

// Exit codes for scripting against the CLI.
const (
	exitOK          = 0
	exitConfigError = 1
	exitBuildError  = 2
	exitLockError   = 3
)

var (
	workspaceRoot string
	logLevel      string
	logFormat     string
	parallelism   int

	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "chromekit",
	Short: "Manage shared-source Chromium fork projects",
	Long: `chromekit manages multiple browser fork projects derived from one
shared Chromium checkout. Each project layers its own overlays, build
configuration, and API surface on top of the shared source without
duplicating the multi-gigabyte tree.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceRoot, "workspace", "w", ".", "workspace root directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().IntVarP(&parallelism, "jobs", "j", 0, "max concurrent project pipelines (0 = unbounded)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
}

// openWorkspace builds the logger and opens the workspace at the root
// given on the command line.
func openWorkspace() (*workspace.Workspace, *logging.Logger, error) {
	var level zapcore.Level
	if err := level.Set(logLevel); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	log, err := logging.NewLogger(&logging.Config{Level: level, Format: logFormat})
	if err != nil {
		return nil, nil, err
	}

	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, nil, err
	}
	w, err := workspace.Open(workspace.Options{Root: root, Parallelism: parallelism}, log)
	if err != nil {
		return nil, nil, err
	}
	return w, log, nil
}

// exitCode maps an error to the documented exit codes: 1 for
// configuration errors, 2 for build failures, 3 for lock contention and
// checkout problems.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch {
	case errors.Is(err, checkout.ErrLockTimeout),
		errors.Is(err, checkout.ErrDirtyCheckout),
		errors.Is(err, builder.ErrBuildInProgress):
		return exitLockError
	case errors.Is(err, builder.ErrBuildFailed):
		return exitBuildError
	case errors.Is(err, config.ErrConfigConflict),
		errors.Is(err, config.ErrBrandingCollision),
		errors.Is(err, config.ErrUnknownConfigKey),
		errors.Is(err, config.ErrInvalidFlagValue),
		errors.Is(err, bridge.ErrInvalidAPISpec):
		return exitConfigError
	}
	return exitConfigError
}
