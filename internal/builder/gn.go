package builder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/chromekit/internal/config"
)

// GNAdapter drives a GN/Ninja build system: `gn gen` for configuration,
// `ninja -C` for the build.
type GNAdapter struct {
	// GN and Ninja are the executables to invoke; default "gn"/"ninja".
	GN    string
	Ninja string
	// Target is the ninja target to build; empty builds the default.
	Target string
}

// NewGNAdapter returns the adapter with default executable names.
func NewGNAdapter() *GNAdapter {
	return &GNAdapter{GN: "gn", Ninja: "ninja"}
}

// RenderArgs translates a build plan into the GN args string. The output
// is fully sorted so identical plans always render identically.
//
// Feature exclusions map to `enable_<feature>=false` with hyphens
// underscored; this is the conservative fail-closed mapping — the build
// system decides what each arg means.
func RenderArgs(plan *config.BuildPlan) string {
	args := make(map[string]string, len(plan.BuildFlags)+len(plan.ExcludedFeatures)+2)

	for _, f := range plan.BuildFlags {
		args[f.Key] = f.Value.String()
	}
	for _, feature := range plan.ExcludedFeatures {
		key := "enable_" + strings.ReplaceAll(strings.ToLower(feature), "-", "_")
		args[key] = "false"
	}
	if plan.Branding.Name != "" {
		args["chromekit_product_name"] = fmt.Sprintf("%q", plan.Branding.Name)
	}
	if plan.Branding.IdentifierPrefix != "" {
		args["chromekit_bundle_prefix"] = fmt.Sprintf("%q", plan.Branding.IdentifierPrefix)
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+args[k])
	}
	return strings.Join(parts, " ")
}

func (g *GNAdapter) Configure(ctx context.Context, plan *config.BuildPlan, viewPath, outDir string, sink func(string)) error {
	cmd := exec.CommandContext(ctx, g.GN, "gen", outDir, "--args="+RenderArgs(plan))
	cmd.Dir = viewPath
	return runStreaming(cmd, sink)
}

func (g *GNAdapter) Build(ctx context.Context, viewPath, outDir string, sink func(string)) error {
	args := []string{"-C", outDir}
	if g.Target != "" {
		args = append(args, g.Target)
	}
	cmd := exec.CommandContext(ctx, g.Ninja, args...)
	cmd.Dir = viewPath
	return runStreaming(cmd, sink)
}

// runStreaming executes the command with stdout and stderr split into
// lines fed to sink.
func runStreaming(cmd *exec.Cmd, sink func(string)) error {
	w := &lineWriter{sink: sink}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Run(); err != nil {
		w.Flush()
		return fmt.Errorf("%s: %w", cmd.Path, err)
	}
	w.Flush()
	return nil
}

// lineWriter splits a byte stream into lines for the sink. Partial lines
// are buffered until terminated or flushed.
type lineWriter struct {
	mu   sync.Mutex
	sink func(string)
	buf  bytes.Buffer
}

var _ io.Writer = (*lineWriter)(nil)

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: keep it buffered.
			w.buf.WriteString(line)
			break
		}
		w.sink(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.sink(strings.TrimRight(w.buf.String(), "\r\n"))
		w.buf.Reset()
	}
}
