package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/chromekit/internal/bridge"
	"github.com/fyrsmithlabs/chromekit/internal/builder"
	"github.com/fyrsmithlabs/chromekit/internal/config"
	"github.com/fyrsmithlabs/chromekit/internal/logging"
	"github.com/fyrsmithlabs/chromekit/internal/overlay"
	"github.com/fyrsmithlabs/chromekit/internal/registry"
)

// Run executes the pipeline for each named project concurrently. A
// failing project never aborts its siblings; the returned error joins
// every per-project failure.
func (w *Workspace) Run(ctx context.Context, names ...string) error {
	g := &errgroup.Group{}
	if w.parallelism > 0 {
		g.SetLimit(w.parallelism)
	}

	var mu sync.Mutex
	var failures []error

	for _, name := range names {
		g.Go(func() error {
			if err := w.runProject(ctx, name); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(failures...)
}

// Rebuild clears the cached input hashes so the next run rebuilds from
// scratch, then runs the pipeline.
func (w *Workspace) Rebuild(ctx context.Context, names ...string) error {
	for _, name := range names {
		_, err := w.reg.UpdateStage(name, func(rec *registry.Record) {
			rec.Status = registry.StatusConfigured
			rec.ConfigHash = ""
			rec.ViewHash = ""
			rec.BridgeHash = ""
		})
		if err != nil {
			return err
		}
	}
	return w.Run(ctx, names...)
}

// runProject executes one project's pipeline. Operations on a single
// project are strictly ordered: resolve, materialize, generate-bridge,
// build. The registry record is updated transactionally at each stage
// boundary so a restart resumes from persisted state.
func (w *Workspace) runProject(ctx context.Context, name string) error {
	ctx = logging.WithProject(ctx, name)

	// One run per project at a time, from resolve onward: an overlapping
	// run would wipe the view directory out from under a running build.
	if !w.beginRun(name) {
		return fmt.Errorf("%w: %s", builder.ErrBuildInProgress, name)
	}
	defer w.endRun(name)

	prev, err := w.reg.Get(name)
	if err != nil {
		return err
	}

	plan, err := w.resolve(ctx, name)
	if err != nil {
		return w.failProject(ctx, name, err)
	}
	planHash, err := plan.Hash()
	if err != nil {
		return w.failProject(ctx, name, err)
	}
	if _, err := w.reg.UpdateStage(name, func(rec *registry.Record) {
		rec.Status = registry.StatusConfigured
		rec.ConfigHash = planHash
		rec.BrandingPrefix = plan.Branding.IdentifierPrefix
	}); err != nil {
		return err
	}

	ref, err := w.checkout.SnapshotRef()
	if err != nil {
		return w.failProject(ctx, name, err)
	}

	view, err := w.materialize(ctx, name, ref)
	if err != nil {
		return w.failProject(ctx, name, err)
	}

	bridgeHash, err := w.generateBridge(ctx, name, view, prev.BridgeHash)
	if err != nil {
		return w.failProject(ctx, name, err)
	}

	if _, err := w.reg.UpdateStage(name, func(rec *registry.Record) {
		rec.Status = registry.StatusBuilding
		rec.SourceRef = ref
		rec.ViewHash = view.Hash
		rec.BridgeHash = bridgeHash
	}); err != nil {
		return err
	}

	outDir := plan.OutputDir
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(w.root, outDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return w.failProject(ctx, name, fmt.Errorf("failed to create output directory: %w", err))
	}

	res, err := w.builder.Build(ctx, builder.Request{
		Project:       name,
		Plan:          plan,
		ViewPath:      view.Dir,
		OutDir:        outDir,
		PlanHash:      planHash,
		ViewHash:      view.Hash,
		LastPlanHash:  prev.ConfigHash,
		LastViewHash:  prev.ViewHash,
		LastSucceeded: prev.Status == registry.StatusBuilt,
	})
	if err != nil {
		// Concurrency guard (BuildInProgress): surface without touching
		// the record of the build that is actually running.
		return err
	}
	if res.State != builder.StateSucceeded {
		buildErr := res.Err
		if res.Cancelled {
			buildErr = fmt.Errorf("cancelled: %w", res.Err)
		}
		return w.failProject(ctx, name, buildErr)
	}

	if _, err := w.reg.UpdateStage(name, func(rec *registry.Record) {
		now := time.Now().UTC()
		rec.Status = registry.StatusBuilt
		rec.LastBuild = &now
		rec.LastError = ""
	}); err != nil {
		return err
	}
	w.log.Info(ctx, "pipeline complete", zap.Bool("cache_hit", res.CacheHit))
	return nil
}

// resolve loads the global and project documents and resolves them into a
// plan, validating branding against the registry.
func (w *Workspace) resolve(ctx context.Context, name string) (*config.BuildPlan, error) {
	var global, proj *config.Document
	var err error

	globalPath := filepath.Join(w.root, globalConfigName)
	if _, statErr := os.Stat(globalPath); statErr == nil {
		if global, err = config.Load(globalPath); err != nil {
			return nil, err
		}
	}

	projPath := filepath.Join(w.projectDir(name), configName)
	if _, statErr := os.Stat(projPath); statErr == nil {
		if proj, err = config.Load(projPath); err != nil {
			return nil, err
		}
	}

	return config.Resolve(name, global, proj, w.reg)
}

// materialize loads the project's overlay layers and builds its working
// view from the shared checkout. Views for different projects write only
// to their own directories, so this needs no checkout lock.
func (w *Workspace) materialize(ctx context.Context, name, ref string) (*overlay.View, error) {
	layers, err := overlay.LoadLayers(filepath.Join(w.projectDir(name), overlaysDirName), w.checkout.Root())
	if err != nil {
		return nil, err
	}
	return w.overlay.Materialize(ctx, w.checkout.Root(), ref, layers, filepath.Join(w.projectDir(name), viewDirName))
}

// generateBridge runs the bridge generator as a pre-build step feeding
// generated sources into the working view. Projects without a surface
// document skip the stage.
func (w *Workspace) generateBridge(ctx context.Context, name string, view *overlay.View, lastHash string) (string, error) {
	specPath := filepath.Join(w.projectDir(name), apiSpecName)
	if _, err := os.Stat(specPath); os.IsNotExist(err) {
		return "", nil
	}

	spec, err := bridge.Load(specPath)
	if err != nil {
		return "", err
	}
	artifact, err := w.bridge.Generate(ctx, spec, filepath.Join(view.Dir, filepath.FromSlash(bridgeGenSubdir)), lastHash)
	if err != nil {
		return "", err
	}
	return artifact.Hash, nil
}

// failProject records a failure on the project record and returns the
// original error unchanged for the caller to classify.
func (w *Workspace) failProject(ctx context.Context, name string, err error) error {
	if _, uerr := w.reg.UpdateStage(name, func(rec *registry.Record) {
		rec.Status = registry.StatusFailed
		rec.LastError = err.Error()
	}); uerr != nil {
		w.log.Error(ctx, "failed to record project failure", zap.Error(uerr))
	}
	w.log.Error(ctx, "pipeline failed", zap.Error(err))
	return err
}
