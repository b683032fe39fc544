package overlay

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// stubManifest is the per-layer file listing checkout paths to stub out.
const stubManifest = "_stubs"

// LoadLayers reads a project's overlays directory into an ordered layer
// list. Each subdirectory is one layer, ordered by name (authors prefix
// with "10-", "20-" to control ordering). Files inside a layer become
// operations at their relative path — replace when the path exists in
// the checkout at checkoutRoot, add otherwise; a `_stubs` manifest lists
// one checkout path per line to delete-stub. A missing overlays
// directory yields an empty list.
func LoadLayers(dir, checkoutRoot string) ([]Layer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read overlays directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	layers := make([]Layer, 0, len(names))
	for _, name := range names {
		layer, err := loadLayer(filepath.Join(dir, name), name, checkoutRoot)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

func loadLayer(dir, name, checkoutRoot string) (Layer, error) {
	layer := Layer{Name: name}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if rel == stubManifest {
			stubs, err := readStubManifest(path)
			if err != nil {
				return err
			}
			for _, p := range stubs {
				layer.Ops = append(layer.Ops, FileOp{Path: p, Kind: OpDeleteStub})
			}
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read overlay file %s: %w", path, err)
		}
		kind := OpAdd
		if _, serr := os.Stat(filepath.Join(checkoutRoot, filepath.FromSlash(rel))); serr == nil {
			kind = OpReplace
		}
		layer.Ops = append(layer.Ops, FileOp{Path: rel, Kind: kind, Content: content})
		return nil
	})
	if err != nil {
		return Layer{}, fmt.Errorf("failed to load layer %s: %w", name, err)
	}

	// WalkDir is lexical, but sort explicitly so op order never depends on
	// manifest position.
	sort.Slice(layer.Ops, func(i, j int) bool { return layer.Ops[i].Path < layer.Ops[j].Path })
	return layer, nil
}

func readStubManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stub manifest: %w", err)
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, filepath.ToSlash(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stub manifest: %w", err)
	}
	return paths, nil
}
