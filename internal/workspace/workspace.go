// Package workspace wires the pipeline together: one shared checkout,
// many projects, each flowing resolve -> materialize -> generate-bridge
// -> build with the registry updated at every stage boundary.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chromekit/internal/bridge"
	"github.com/fyrsmithlabs/chromekit/internal/builder"
	"github.com/fyrsmithlabs/chromekit/internal/checkout"
	"github.com/fyrsmithlabs/chromekit/internal/config"
	"github.com/fyrsmithlabs/chromekit/internal/logging"
	"github.com/fyrsmithlabs/chromekit/internal/overlay"
	"github.com/fyrsmithlabs/chromekit/internal/registry"
)

const (
	// DefaultLockTimeout bounds shared-checkout lock waits so no project
	// can starve behind another indefinitely.
	DefaultLockTimeout = 30 * time.Second

	stateDirName     = ".chromekit"
	projectsDirName  = "projects"
	checkoutDirName  = "checkout"
	globalConfigName = "global.json"
	configName       = "config.json"
	apiSpecName      = "api_surface.yaml"
	overlaysDirName  = "overlays"
	viewDirName      = "view"
	bridgeGenSubdir  = "gen/bridge"
)

// Options configures a workspace.
type Options struct {
	// Root is the workspace directory.
	Root string
	// CheckoutDir is the shared checkout location; defaults to
	// <root>/checkout.
	CheckoutDir string
	// BuildAdapter drives the external build system; defaults to
	// GN/Ninja.
	BuildAdapter builder.Adapter
	// SCM is the source-control adapter; defaults to go-git.
	SCM checkout.Adapter
	// LockTimeout bounds shared-checkout write lock waits.
	LockTimeout time.Duration
	// Parallelism caps concurrent project pipelines; 0 means unbounded.
	Parallelism int
}

// Workspace owns the project pipeline.
type Workspace struct {
	root        string
	checkoutDir string
	lockTimeout time.Duration
	parallelism int

	reg      *registry.Registry
	checkout *checkout.Manager
	overlay  *overlay.Engine
	bridge   *bridge.Generator
	builder  *builder.Orchestrator
	log      *logging.Logger

	// runMu/running guard the whole per-project pipeline, not just the
	// build stage: materialization wipes and rewrites the project's view
	// directory, so two overlapping runs would corrupt each other's input.
	runMu   sync.Mutex
	running map[string]bool
}

// beginRun claims the project's pipeline slot. Returns false if a run is
// already in flight.
func (w *Workspace) beginRun(name string) bool {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.running[name] {
		return false
	}
	w.running[name] = true
	return true
}

func (w *Workspace) endRun(name string) {
	w.runMu.Lock()
	delete(w.running, name)
	w.runMu.Unlock()
}

func (w *Workspace) isRunning(name string) bool {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	return w.running[name]
}

// Open loads (or initializes) the workspace at opts.Root.
func Open(opts Options, log *logging.Logger) (*Workspace, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	if opts.CheckoutDir == "" {
		opts.CheckoutDir = filepath.Join(opts.Root, checkoutDirName)
	}
	if opts.BuildAdapter == nil {
		opts.BuildAdapter = builder.NewGNAdapter()
	}
	if opts.SCM == nil {
		opts.SCM = checkout.NewGitAdapter()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	stateDir := filepath.Join(opts.Root, stateDirName)
	reg, err := registry.New(stateDir)
	if err != nil {
		return nil, err
	}

	return &Workspace{
		root:        opts.Root,
		checkoutDir: opts.CheckoutDir,
		lockTimeout: opts.LockTimeout,
		parallelism: opts.Parallelism,
		reg:         reg,
		checkout:    checkout.NewManager(opts.CheckoutDir, stateDir, opts.SCM, log),
		overlay:     overlay.NewEngine(log),
		bridge:      bridge.NewGenerator(log),
		builder:     builder.New(opts.BuildAdapter, log),
		log:         log.Named("workspace"),
		running:     make(map[string]bool),
	}, nil
}

// Registry exposes the workspace registry for status reporting.
func (w *Workspace) Registry() *registry.Registry { return w.reg }

// Checkout exposes the source repository manager.
func (w *Workspace) Checkout() *checkout.Manager { return w.checkout }

func (w *Workspace) projectDir(name string) string {
	return filepath.Join(w.root, projectsDirName, name)
}

// CreateProject registers a project and scaffolds its directory with the
// default configuration template.
func (w *Workspace) CreateProject(ctx context.Context, name string) error {
	ctx = logging.WithProject(ctx, name)

	// The source pointer records where the shared checkout stood at
	// creation; a missing checkout is tolerated so projects can be laid
	// out before the first fetch.
	ref, err := w.checkout.SnapshotRef()
	if err != nil {
		ref = ""
	}

	if _, err := w.reg.Create(name, ref); err != nil {
		return err
	}

	dir := w.projectDir(name)
	if err := os.MkdirAll(filepath.Join(dir, overlaysDirName), 0o755); err != nil {
		return fmt.Errorf("failed to scaffold project directory: %w", err)
	}
	configPath := filepath.Join(dir, configName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(config.DefaultProjectJSON), 0o600); err != nil {
			return fmt.Errorf("failed to write project config: %w", err)
		}
	}

	w.log.Info(ctx, "project created", zap.String("dir", dir), zap.String("source_ref", ref))
	return nil
}

// DeleteProject removes a project's working view, directory, and registry
// entry. The shared checkout is never touched.
func (w *Workspace) DeleteProject(ctx context.Context, name string) error {
	ctx = logging.WithProject(ctx, name)

	if w.isRunning(name) {
		return fmt.Errorf("%w: %s", builder.ErrBuildInProgress, name)
	}
	if s := w.builder.StateOf(name); s == builder.StateBuilding || s == builder.StateConfiguring {
		return fmt.Errorf("%w: %s", builder.ErrBuildInProgress, name)
	}
	if _, err := w.reg.Get(name); err != nil {
		return err
	}

	if err := os.RemoveAll(w.projectDir(name)); err != nil {
		return fmt.Errorf("failed to remove project directory: %w", err)
	}
	if err := w.reg.Delete(name); err != nil {
		return err
	}

	w.log.Info(ctx, "project deleted")
	return nil
}

// SyncCheckout moves the shared checkout to ref on behalf of requester,
// holding the write lock for the duration.
func (w *Workspace) SyncCheckout(ctx context.Context, requester, ref string) error {
	ticket, err := w.checkout.Acquire(ctx, requester, w.lockTimeout)
	if err != nil {
		return err
	}
	defer ticket.Release()
	return w.checkout.Sync(ctx, ticket, ref)
}

// CancelBuild aborts a running build for the project.
func (w *Workspace) CancelBuild(name string) bool {
	return w.builder.Cancel(name)
}
