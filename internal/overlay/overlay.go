// Package overlay materializes per-project working views from the shared
// checkout.
//
// A layer is a named, ordered set of file operations scoped to one
// project. Materialization never mutates the shared checkout: files a
// layer touches get project-private copies, everything else is hardlinked
// from the checkout (falling back to a full copy where linking is
// unsupported). Applying the same layer list to the same checkout ref is
// byte-for-byte reproducible.
package overlay

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrLayerConflict indicates two layers write different content to the
	// same path. Never auto-resolved by precedence: divergent writes are
	// almost always authoring mistakes and must be fixed by a human.
	ErrLayerConflict = errors.New("layer conflict")

	// ErrInvalidOp indicates a malformed file operation.
	ErrInvalidOp = errors.New("invalid overlay operation")
)

// OpKind is the kind of a file-level operation.
type OpKind string

const (
	// OpAdd introduces a file that does not exist in the checkout.
	OpAdd OpKind = "add"
	// OpReplace substitutes a file that exists in the checkout.
	OpReplace OpKind = "replace"
	// OpDeleteStub replaces a file with a generated exclusion stub.
	OpDeleteStub OpKind = "delete-stub"
)

// FileOp is one file-level change. Path is slash-separated and relative
// to the checkout root.
type FileOp struct {
	Path    string `json:"path"`
	Kind    OpKind `json:"kind"`
	Content []byte `json:"content,omitempty"`
}

// Layer is a named set of file operations.
type Layer struct {
	Name string   `json:"name"`
	Ops  []FileOp `json:"ops"`
}

// View is a materialized project working view.
type View struct {
	Dir  string // project-private directory
	Ref  string // checkout ref the view was derived from
	Hash string // content hash of (ref, layer list)
}

// stubContent is the deterministic body written for delete-stub
// operations. It depends only on the path so that two layers stubbing the
// same file agree.
func stubContent(path string) []byte {
	return []byte(fmt.Sprintf("// excluded from this build\n// original: %s\n", path))
}

// effectiveContent returns the bytes an operation writes.
func effectiveContent(op FileOp) []byte {
	if op.Kind == OpDeleteStub {
		return stubContent(op.Path)
	}
	return op.Content
}

func validateOp(op FileOp) error {
	if op.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidOp)
	}
	switch op.Kind {
	case OpAdd, OpReplace:
		if op.Content == nil {
			return fmt.Errorf("%w: %s op on %s has no content", ErrInvalidOp, op.Kind, op.Path)
		}
	case OpDeleteStub:
	default:
		return fmt.Errorf("%w: unknown kind %q on %s", ErrInvalidOp, op.Kind, op.Path)
	}
	return nil
}

// CheckConflicts verifies that no two layers write different content to
// the same path. Identical content is permitted.
func CheckConflicts(layers []Layer) error {
	type claim struct {
		layer string
		sum   [32]byte
	}
	claims := make(map[string]claim)

	for _, layer := range layers {
		for _, op := range layer.Ops {
			if err := validateOp(op); err != nil {
				return err
			}
			sum := sha256.Sum256(effectiveContent(op))
			if prev, ok := claims[op.Path]; ok {
				if prev.sum != sum {
					return fmt.Errorf("%w: %s (layers %q and %q)", ErrLayerConflict, op.Path, prev.layer, layer.Name)
				}
				continue
			}
			claims[op.Path] = claim{layer: layer.Name, sum: sum}
		}
	}
	return nil
}

// touchedFiles returns the final content per path across the layer list.
// Conflicts must already have been rejected, so any writer agrees.
func touchedFiles(layers []Layer) map[string][]byte {
	touched := make(map[string][]byte)
	for _, layer := range layers {
		for _, op := range layer.Ops {
			touched[op.Path] = effectiveContent(op)
		}
	}
	return touched
}

// viewHash computes the content hash of a view. The untouched portion of
// a view is fully determined by the checkout ref, so hashing the ref plus
// every (path, content) pair the layers write identifies the view's
// content without rereading the multi-gigabyte tree.
func viewHash(ref string, layers []Layer) string {
	touched := touchedFiles(layers)

	paths := make([]string, 0, len(touched))
	for p := range touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	h.Write([]byte(ref))
	for _, p := range paths {
		h.Write([]byte{0})
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write(touched[p])
	}
	return hex.EncodeToString(h.Sum(nil))
}
