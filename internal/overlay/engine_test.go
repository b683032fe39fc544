package overlay

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/chromekit/internal/logging"
)

// writeTree creates files under root from a path->content map.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

// readTree returns every regular file under root keyed by slash path.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func newEngine() *Engine {
	return NewEngine(logging.NewTestLogger().Logger)
}

func TestMaterialize(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"chrome/app/main.cc":    "int main() {}\n",
		"chrome/browser/pdf.cc": "pdf viewer\n",
		"build/config.gn":       "config\n",
	})

	layers := []Layer{
		{Name: "branding", Ops: []FileOp{
			{Path: "chrome/app/branding.h", Kind: OpAdd, Content: []byte("#define PRODUCT \"Nimbus\"\n")},
		}},
		{Name: "feature-stubs", Ops: []FileOp{
			{Path: "chrome/browser/pdf.cc", Kind: OpDeleteStub},
		}},
	}

	view, err := newEngine().Materialize(context.Background(), src, "ref1", layers, filepath.Join(t.TempDir(), "view"))
	require.NoError(t, err)

	got := readTree(t, view.Dir)
	assert.Equal(t, "int main() {}\n", got["chrome/app/main.cc"], "untouched file carries checkout content")
	assert.Equal(t, "#define PRODUCT \"Nimbus\"\n", got["chrome/app/branding.h"], "added file present")
	assert.Contains(t, got["chrome/browser/pdf.cc"], "excluded from this build", "stubbed file replaced")
}

func TestMaterializeDeterministic(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":     "alpha\n",
		"dir/b.txt": "beta\n",
	})
	layers := []Layer{
		{Name: "l1", Ops: []FileOp{{Path: "dir/b.txt", Kind: OpReplace, Content: []byte("patched\n")}}},
	}

	e := newEngine()
	v1, err := e.Materialize(context.Background(), src, "ref1", layers, filepath.Join(t.TempDir(), "v1"))
	require.NoError(t, err)
	v2, err := e.Materialize(context.Background(), src, "ref1", layers, filepath.Join(t.TempDir(), "v2"))
	require.NoError(t, err)

	assert.Equal(t, v1.Hash, v2.Hash)
	assert.Equal(t, readTree(t, v1.Dir), readTree(t, v2.Dir), "same (ref, layers) must yield byte-identical views")
}

func TestViewHashChangesWithInputs(t *testing.T) {
	layers := []Layer{{Name: "l1", Ops: []FileOp{{Path: "a", Kind: OpAdd, Content: []byte("x")}}}}

	assert.NotEqual(t, viewHash("ref1", layers), viewHash("ref2", layers), "ref change must change the hash")

	changed := []Layer{{Name: "l1", Ops: []FileOp{{Path: "a", Kind: OpAdd, Content: []byte("y")}}}}
	assert.NotEqual(t, viewHash("ref1", layers), viewHash("ref1", changed), "content change must change the hash")
}

func TestCheckConflicts(t *testing.T) {
	conflicting := []Layer{
		{Name: "icons-a", Ops: []FileOp{{Path: "branding/app.icns", Kind: OpReplace, Content: []byte("icon-a")}}},
		{Name: "icons-b", Ops: []FileOp{{Path: "branding/app.icns", Kind: OpReplace, Content: []byte("icon-b")}}},
	}
	err := CheckConflicts(conflicting)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLayerConflict)
	assert.Contains(t, err.Error(), "branding/app.icns")

	agreeing := []Layer{
		{Name: "icons-a", Ops: []FileOp{{Path: "branding/app.icns", Kind: OpReplace, Content: []byte("icon")}}},
		{Name: "icons-b", Ops: []FileOp{{Path: "branding/app.icns", Kind: OpReplace, Content: []byte("icon")}}},
	}
	assert.NoError(t, CheckConflicts(agreeing), "identical content to the same path is allowed")

	// Two delete-stubs of the same path agree by construction.
	stubs := []Layer{
		{Name: "s1", Ops: []FileOp{{Path: "x.cc", Kind: OpDeleteStub}}},
		{Name: "s2", Ops: []FileOp{{Path: "x.cc", Kind: OpDeleteStub}}},
	}
	assert.NoError(t, CheckConflicts(stubs))
}

func TestCheckConflictsInvalidOps(t *testing.T) {
	err := CheckConflicts([]Layer{{Name: "bad", Ops: []FileOp{{Path: "", Kind: OpAdd, Content: []byte("x")}}}})
	assert.ErrorIs(t, err, ErrInvalidOp)

	err = CheckConflicts([]Layer{{Name: "bad", Ops: []FileOp{{Path: "a", Kind: "rename"}}}})
	assert.ErrorIs(t, err, ErrInvalidOp)

	err = CheckConflicts([]Layer{{Name: "bad", Ops: []FileOp{{Path: "a", Kind: OpAdd}}}})
	assert.ErrorIs(t, err, ErrInvalidOp)
}

func TestApplyLayer(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "alpha\n"})

	e := newEngine()
	base := []Layer{{Name: "l1", Ops: []FileOp{{Path: "b.txt", Kind: OpAdd, Content: []byte("beta\n")}}}}
	view, err := e.Materialize(context.Background(), src, "ref1", base, filepath.Join(t.TempDir(), "view"))
	require.NoError(t, err)

	// Conflicting layer is rejected and writes nothing.
	_, err = e.ApplyLayer(context.Background(), view, base, Layer{
		Name: "l2",
		Ops:  []FileOp{{Path: "b.txt", Kind: OpAdd, Content: []byte("different\n")}},
	})
	assert.ErrorIs(t, err, ErrLayerConflict)
	assert.Equal(t, "beta\n", readTree(t, view.Dir)["b.txt"])

	// Non-conflicting layer lands and changes the view hash.
	updated, err := e.ApplyLayer(context.Background(), view, base, Layer{
		Name: "l2",
		Ops:  []FileOp{{Path: "c.txt", Kind: OpAdd, Content: []byte("gamma\n")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gamma\n", readTree(t, view.Dir)["c.txt"])
	assert.NotEqual(t, view.Hash, updated.Hash)
}

func TestMaterializeSkipsGitDir(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":       "alpha\n",
		".git/HEAD":   "ref: refs/heads/main\n",
		"out/stale.o": "object\n",
	})

	view, err := newEngine().Materialize(context.Background(), src, "ref1", nil, filepath.Join(t.TempDir(), "view"))
	require.NoError(t, err)

	got := readTree(t, view.Dir)
	assert.Contains(t, got, "a.txt")
	assert.NotContains(t, got, ".git/HEAD")
	assert.NotContains(t, got, "out/stale.o")
}

func TestTouchedFileIsPrivateCopy(t *testing.T) {
	// Rewriting a touched file in the view must never reach the checkout.
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "original\n"})

	layers := []Layer{{Name: "l1", Ops: []FileOp{{Path: "a.txt", Kind: OpReplace, Content: []byte("replaced\n")}}}}
	view, err := newEngine().Materialize(context.Background(), src, "ref1", layers, filepath.Join(t.TempDir(), "view"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(view.Dir, "a.txt"), []byte("scribbled\n"), 0o644))

	data, err := os.ReadFile(filepath.Join(src, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data), "shared checkout must be untouched")
}
