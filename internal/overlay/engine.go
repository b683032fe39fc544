package overlay

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chromekit/internal/logging"
)

// Engine materializes working views.
type Engine struct {
	log *logging.Logger
}

// NewEngine creates an overlay engine.
func NewEngine(log *logging.Logger) *Engine {
	return &Engine{log: log.Named("overlay")}
}

// Materialize builds a project working view at viewDir from the checkout
// at srcRoot (currently at ref) plus the ordered layer list. The view is
// rebuilt from scratch so the result depends only on (ref, layers).
//
// Untouched files are hardlinked from the checkout; touched files are
// written as project-private copies. Linking is a storage optimization
// only and never changes observed content.
func (e *Engine) Materialize(ctx context.Context, srcRoot, ref string, layers []Layer, viewDir string) (*View, error) {
	if err := CheckConflicts(layers); err != nil {
		return nil, err
	}
	touched := touchedFiles(layers)

	if err := os.RemoveAll(viewDir); err != nil {
		return nil, fmt.Errorf("failed to clear view directory: %w", err)
	}
	if err := os.MkdirAll(viewDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create view directory: %w", err)
	}

	linked, copied := 0, 0
	err := filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		// Source control metadata and build outputs stay out of views.
		if d.IsDir() {
			if d.Name() == ".git" || rel == "out" {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(viewDir, rel), 0o755)
		}

		if _, ok := touched[filepath.ToSlash(rel)]; ok {
			return nil // written from the layer below
		}

		dst := filepath.Join(viewDir, rel)
		if linkErr := os.Link(path, dst); linkErr == nil {
			linked++
			return nil
		}
		copied++
		return copyFile(path, dst)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to materialize view: %w", err)
	}

	if err := writeTouched(viewDir, touched); err != nil {
		return nil, err
	}

	view := &View{Dir: viewDir, Ref: ref, Hash: viewHash(ref, layers)}
	e.log.Debug(ctx, "view materialized",
		zap.String("ref", ref),
		zap.Int("layers", len(layers)),
		zap.Int("linked", linked),
		zap.Int("copied", copied),
		zap.String("hash", view.Hash))
	return view, nil
}

// ApplyLayer appends a layer to an existing view, rewriting only the files
// the new layer touches. Fails with ErrLayerConflict before writing
// anything if the new layer diverges from the existing ones.
func (e *Engine) ApplyLayer(ctx context.Context, view *View, existing []Layer, layer Layer) (*View, error) {
	all := append(append([]Layer{}, existing...), layer)
	if err := CheckConflicts(all); err != nil {
		return nil, err
	}

	newTouched := make(map[string][]byte, len(layer.Ops))
	for _, op := range layer.Ops {
		newTouched[op.Path] = effectiveContent(op)
	}
	if err := writeTouched(view.Dir, newTouched); err != nil {
		return nil, err
	}

	updated := &View{Dir: view.Dir, Ref: view.Ref, Hash: viewHash(view.Ref, all)}
	e.log.Debug(ctx, "layer applied",
		zap.String("layer", layer.Name),
		zap.Int("files", len(newTouched)),
		zap.String("hash", updated.Hash))
	return updated, nil
}

// writeTouched writes layer-owned files into the view. Touched files are
// always private copies, never links, so the shared checkout can never be
// corrupted through a view.
func writeTouched(viewDir string, touched map[string][]byte) error {
	for path, content := range touched {
		dst := filepath.Join(viewDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		// Remove a possible hardlink first; writing through it would
		// modify the shared checkout.
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to replace %s: %w", path, err)
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
