package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// buildCmd runs the full pipeline for one or more projects.
var buildCmd = &cobra.Command{
	Use:   "build <name>...",
	Short: "Build one or more fork projects",
	Long: `Run the full pipeline for each named project: resolve its
configuration, materialize its working view from the shared checkout,
regenerate API bridge bindings if declared, and invoke the build system.

Projects build in parallel; a failing project does not stop the others.
A project whose configuration and view are unchanged since its last
successful build completes immediately without invoking the build
system.

Examples:
  chromekit build nimbus
  chromekit build nimbus zephyr -j 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

// rebuildCmd forces a from-scratch pipeline run.
var rebuildCmd = &cobra.Command{
	Use:   "rebuild <name>...",
	Short: "Rebuild projects, ignoring cached results",
	Long: `Rebuild the named projects from scratch. The recorded configuration,
view, and bridge hashes are cleared first so the unchanged-inputs check
cannot short-circuit the run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRebuild,
}

// syncCmd moves the shared checkout.
var syncCmd = &cobra.Command{
	Use:   "sync <ref>",
	Short: "Sync the shared checkout to a ref",
	Long: `Move the shared source checkout to the given branch, tag, or commit.

The operation takes the workspace's single write lock and waits at most
the configured lock timeout; a dirty checkout aborts the sync. Every ref
movement is recorded in the workspace journal.

Examples:
  chromekit sync main
  chromekit sync 120.0.6099.71`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

// watchCmd rebuilds on input changes.
var watchCmd = &cobra.Command{
	Use:   "watch <name>...",
	Short: "Rebuild projects when their inputs change",
	Long: `Watch the named projects' configuration files, overlay layers, and
API surface documents, re-running the pipeline whenever they change.
Runs until interrupted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func runBuild(cmd *cobra.Command, args []string) error {
	w, log, err := openWorkspace()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if err := w.Run(ctx, args...); err != nil {
		return err
	}
	fmt.Println("Build complete.")
	return nil
}

func runRebuild(cmd *cobra.Command, args []string) error {
	w, log, err := openWorkspace()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if err := w.Rebuild(ctx, args...); err != nil {
		return err
	}
	fmt.Println("Rebuild complete.")
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	w, log, err := openWorkspace()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if err := w.SyncCheckout(ctx, "cli", args[0]); err != nil {
		return err
	}
	ref, err := w.Checkout().SnapshotRef()
	if err != nil {
		return err
	}
	fmt.Printf("Checkout at %s\n", ref)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	w, log, err := openWorkspace()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if err := w.Watch(ctx, args...); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// signalContext cancels on SIGINT/SIGTERM so running builds abort
// cleanly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
