package builder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/chromekit/internal/config"
	"github.com/fyrsmithlabs/chromekit/internal/logging"
)

// fakeAdapter scripts configure/build outcomes.
type fakeAdapter struct {
	mu           sync.Mutex
	configureErr error
	buildErr     error
	buildLines   []string
	blockBuild   chan struct{} // if set, Build waits until closed or ctx done
	blockFor     string        // view path whose build blocks; others run through
	configures   int
	builds       int
}

func (f *fakeAdapter) Configure(ctx context.Context, plan *config.BuildPlan, viewPath, outDir string, sink func(string)) error {
	f.mu.Lock()
	f.configures++
	f.mu.Unlock()
	return f.configureErr
}

func (f *fakeAdapter) Build(ctx context.Context, viewPath, outDir string, sink func(string)) error {
	f.mu.Lock()
	f.builds++
	block := f.blockBuild
	f.mu.Unlock()

	for _, line := range f.buildLines {
		sink(line)
	}
	if block != nil && viewPath == f.blockFor {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.buildErr
}

func plan(project string) *config.BuildPlan {
	p, _ := config.Resolve(project, nil, nil, nil)
	return p
}

func req(project string) Request {
	return Request{Project: project, Plan: plan(project), ViewPath: "/view", OutDir: "/out", PlanHash: "p1", ViewHash: "v1"}
}

func TestBuildSucceeds(t *testing.T) {
	o := New(&fakeAdapter{buildLines: []string{"ok"}}, logging.NewTestLogger().Logger)

	res, err := o.Build(context.Background(), req("alpha"))
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.False(t, res.CacheHit)
	assert.Equal(t, StateSucceeded, o.StateOf("alpha"))
}

func TestBuildFailureRetainsTail(t *testing.T) {
	adapter := &fakeAdapter{
		buildLines: []string{"compiling a.cc", "compiling b.cc", "error: b.cc:12: no member"},
		buildErr:   errors.New("exit status 1"),
	}
	o := New(adapter, logging.NewTestLogger().Logger)

	res, err := o.Build(context.Background(), req("alpha"))
	require.NoError(t, err, "build failures are reported in the result, not as call errors")
	assert.Equal(t, StateFailed, res.State)
	assert.False(t, res.Cancelled)
	require.Error(t, res.Err)
	assert.Contains(t, res.OutputTail, "error: b.cc:12: no member")
	assert.Equal(t, StateFailed, o.StateOf("alpha"))
}

func TestBuildTailBounded(t *testing.T) {
	adapter := &fakeAdapter{buildErr: errors.New("exit status 1")}
	for i := 0; i < 250; i++ {
		adapter.buildLines = append(adapter.buildLines, fmt.Sprintf("line %d", i))
	}
	o := New(adapter, logging.NewTestLogger().Logger)

	res, err := o.Build(context.Background(), req("alpha"))
	require.NoError(t, err)
	require.Len(t, res.OutputTail, DefaultTailLines)
	assert.Equal(t, "line 150", res.OutputTail[0], "oldest retained line")
	assert.Equal(t, "line 249", res.OutputTail[len(res.OutputTail)-1])
}

func TestBuildInProgress(t *testing.T) {
	block := make(chan struct{})
	adapter := &fakeAdapter{blockBuild: block, blockFor: "/view"}
	o := New(adapter, logging.NewTestLogger().Logger)

	done := make(chan *Result, 1)
	go func() {
		res, _ := o.Build(context.Background(), req("alpha"))
		done <- res
	}()

	// Wait until the first build is running.
	require.Eventually(t, func() bool {
		return o.StateOf("alpha") == StateBuilding
	}, 2*time.Second, time.Millisecond)

	_, err := o.Build(context.Background(), req("alpha"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildInProgress)

	// A different project is unaffected.
	res, err := o.Build(context.Background(), Request{Project: "beta", Plan: plan("beta")})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)

	close(block)
	res = <-done
	assert.Equal(t, StateSucceeded, res.State)
}

func TestBuildCacheHit(t *testing.T) {
	adapter := &fakeAdapter{}
	o := New(adapter, logging.NewTestLogger().Logger)

	r := req("alpha")
	r.LastSucceeded = true
	r.LastPlanHash = r.PlanHash
	r.LastViewHash = r.ViewHash

	res, err := o.Build(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.True(t, res.CacheHit)
	assert.Zero(t, adapter.configures, "cache hit must not invoke the build system")
	assert.Zero(t, adapter.builds)

	// Changing either hash invalidates the cache.
	r.ViewHash = "v2"
	res, err = o.Build(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 1, adapter.builds)
}

func TestBuildCancel(t *testing.T) {
	adapter := &fakeAdapter{blockBuild: make(chan struct{}), blockFor: "/view"}
	o := New(adapter, logging.NewTestLogger().Logger)

	done := make(chan *Result, 1)
	go func() {
		res, _ := o.Build(context.Background(), req("alpha"))
		done <- res
	}()

	require.Eventually(t, func() bool {
		return o.StateOf("alpha") == StateBuilding
	}, 2*time.Second, time.Millisecond)

	require.True(t, o.Cancel("alpha"))

	res := <-done
	assert.Equal(t, StateFailed, res.State)
	assert.True(t, res.Cancelled, "external cancellation carries the distinguished reason")

	assert.False(t, o.Cancel("alpha"), "no running build left to cancel")
}

func TestConfigureFailure(t *testing.T) {
	adapter := &fakeAdapter{configureErr: errors.New("gn: unknown arg")}
	o := New(adapter, logging.NewTestLogger().Logger)

	res, err := o.Build(context.Background(), req("alpha"))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Zero(t, adapter.builds, "build must not run after configure fails")
}
