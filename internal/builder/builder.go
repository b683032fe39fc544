// Package builder turns a resolved build plan plus a working view into a
// build-system invocation and tracks its outcome.
//
// The build system itself is a collaborator behind the Adapter interface;
// the orchestrator only interprets exit status. Per project, builds move
// through unbuilt -> configuring -> building -> succeeded/failed, a
// second build request while one runs fails fast, and a rebuild whose
// plan and view hashes both match the last success is a no-op.
package builder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chromekit/internal/config"
	"github.com/fyrsmithlabs/chromekit/internal/logging"
)

var (
	// ErrBuildInProgress indicates a project already has a running build.
	// Requests fail fast rather than queue silently.
	ErrBuildInProgress = errors.New("build in progress")

	// ErrBuildFailed wraps a non-zero exit from the build system, for
	// callers mapping failures to exit codes.
	ErrBuildFailed = errors.New("build failed")
)

// State is a project's build state.
type State string

const (
	StateUnbuilt     State = "unbuilt"
	StateConfiguring State = "configuring"
	StateBuilding    State = "building"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

// Adapter invokes the external build system. Implementations stream
// output lines into sink; the orchestrator never interprets them beyond
// retention for diagnosis.
type Adapter interface {
	// Configure translates the plan into build-system configuration
	// inputs for the given view and output directory.
	Configure(ctx context.Context, plan *config.BuildPlan, viewPath, outDir string, sink func(string)) error

	// Build runs the build and returns an error on non-zero exit.
	Build(ctx context.Context, viewPath, outDir string, sink func(string)) error
}

// Request carries the inputs for one build.
type Request struct {
	Project  string
	Plan     *config.BuildPlan
	ViewPath string
	OutDir   string

	// Hashes of this build's inputs, and the last recorded success, for
	// the idempotent-rebuild check.
	PlanHash      string
	ViewHash      string
	LastPlanHash  string
	LastViewHash  string
	LastSucceeded bool
}

// Result is the outcome of one build.
type Result struct {
	State      State
	CacheHit   bool
	Cancelled  bool
	OutputTail []string
	Err        error
}

// DefaultTailLines is how many trailing output lines are retained for a
// failed build.
const DefaultTailLines = 100

// Orchestrator runs builds, one at a time per project, many projects in
// parallel.
type Orchestrator struct {
	adapter   Adapter
	tailLines int
	log       *logging.Logger

	mu      sync.Mutex
	states  map[string]State
	cancels map[string]context.CancelFunc
}

// New creates an orchestrator on top of a build-system adapter.
func New(adapter Adapter, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		adapter:   adapter,
		tailLines: DefaultTailLines,
		log:       log.Named("builder"),
		states:    make(map[string]State),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// StateOf returns the project's current build state.
func (o *Orchestrator) StateOf(project string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[project]; ok {
		return s
	}
	return StateUnbuilt
}

// Cancel aborts a running build for the project. Returns false if no
// build is running.
func (o *Orchestrator) Cancel(project string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[project]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Build executes one build. Fails fast with ErrBuildInProgress when the
// project is already building; all other failures are reported in the
// Result with the captured output tail.
func (o *Orchestrator) Build(ctx context.Context, req Request) (*Result, error) {
	o.mu.Lock()
	if s := o.states[req.Project]; s == StateConfiguring || s == StateBuilding {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBuildInProgress, req.Project)
	}

	// Unchanged inputs after a success: report success without invoking
	// the build system at all.
	if req.LastSucceeded && req.PlanHash == req.LastPlanHash && req.ViewHash == req.LastViewHash {
		o.states[req.Project] = StateSucceeded
		o.mu.Unlock()
		o.log.Info(ctx, "build inputs unchanged, cache hit",
			zap.String("plan_hash", req.PlanHash),
			zap.String("view_hash", req.ViewHash))
		return &Result{State: StateSucceeded, CacheHit: true}, nil
	}

	buildCtx, cancel := context.WithCancel(ctx)
	o.states[req.Project] = StateConfiguring
	o.cancels[req.Project] = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, req.Project)
		o.mu.Unlock()
	}()

	tail := newTailBuffer(o.tailLines)
	sink := tail.Add

	o.log.Info(ctx, "configuring build", zap.String("out_dir", req.OutDir))
	if err := o.adapter.Configure(buildCtx, req.Plan, req.ViewPath, req.OutDir, sink); err != nil {
		return o.fail(ctx, req.Project, buildCtx, tail, fmt.Errorf("%w: configure: %v", ErrBuildFailed, err)), nil
	}

	o.setState(req.Project, StateBuilding)
	o.log.Info(ctx, "build started", zap.String("out_dir", req.OutDir))
	if err := o.adapter.Build(buildCtx, req.ViewPath, req.OutDir, sink); err != nil {
		return o.fail(ctx, req.Project, buildCtx, tail, fmt.Errorf("%w: %v", ErrBuildFailed, err)), nil
	}

	o.setState(req.Project, StateSucceeded)
	o.log.Info(ctx, "build succeeded")
	return &Result{State: StateSucceeded, OutputTail: tail.Lines()}, nil
}

// fail records the failure, distinguishing external cancellation from a
// build-system failure. The underlying error is retained with the output
// tail; no attempt is made to classify build-system-internal causes.
func (o *Orchestrator) fail(ctx context.Context, project string, buildCtx context.Context, tail *tailBuffer, err error) *Result {
	o.setState(project, StateFailed)

	res := &Result{State: StateFailed, OutputTail: tail.Lines(), Err: err}
	if buildCtx.Err() != nil {
		res.Cancelled = true
		o.log.Warn(ctx, "build cancelled", zap.Error(err))
	} else {
		o.log.Error(ctx, "build failed", zap.Error(err), zap.Int("tail_lines", len(res.OutputTail)))
	}
	return res
}

func (o *Orchestrator) setState(project string, s State) {
	o.mu.Lock()
	o.states[project] = s
	o.mu.Unlock()
}

// tailBuffer retains the last N lines of build output.
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
	start int
	full  bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max, lines: make([]string, 0, max)}
}

func (t *tailBuffer) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) < t.max {
		t.lines = append(t.lines, line)
		return
	}
	t.lines[t.start] = line
	t.start = (t.start + 1) % t.max
	t.full = true
}

// Lines returns the retained lines, oldest first.
func (t *tailBuffer) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.lines...)
	}
	out := make([]string, 0, t.max)
	out = append(out, t.lines[t.start:]...)
	out = append(out, t.lines[:t.start]...)
	return out
}
