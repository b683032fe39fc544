// Package bridge keeps browser-side and front-end-side API bindings in
// lockstep.
//
// Both sides are generated in one step from a single declarative surface
// document, sharing one dispatch-identifier scheme, so the generated code
// cannot drift apart as the API evolves. Regeneration is gated on a
// content hash of the document: the hash recorded per project is the sole
// truth of "are these two sides in sync".
package bridge

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// ErrInvalidAPISpec indicates the surface document failed validation. The
// error names the offending entry or shape.
var ErrInvalidAPISpec = errors.New("invalid api spec")

// Side declares where an API entry is visible.
type Side string

const (
	// SideBrowser entries are exposed by the browser process only.
	SideBrowser Side = "browser"
	// SideFrontend entries are consumed by the extension front end only.
	SideFrontend Side = "frontend"
	// SideBoth entries appear in both bundles.
	SideBoth Side = "both"
)

// Param is one typed parameter of an API entry.
type Param struct {
	Name string `koanf:"name"`
	Type string `koanf:"type"`
}

// Entry is one declared API surface entry.
type Entry struct {
	Name    string  `koanf:"name"`
	Side    Side    `koanf:"side"`
	Params  []Param `koanf:"params"`
	Returns string  `koanf:"returns"`
}

// Spec is the parsed API surface document.
type Spec struct {
	// Shapes declares named composite types: shape name -> field -> type.
	Shapes map[string]map[string]string `koanf:"shapes"`
	// APIs is the ordered list of surface entries.
	APIs []Entry `koanf:"apis"`

	hash string
}

// scalarTypes are the primitive types usable for params, returns, and
// shape fields.
var scalarTypes = map[string]bool{
	"string": true,
	"int":    true,
	"bool":   true,
	"double": true,
}

// Load parses and validates a surface document from disk.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read api spec %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates a surface document from raw YAML bytes.
func Parse(data []byte) (*Spec, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), kyaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAPISpec, err)
	}

	var spec Spec
	if err := k.Unmarshal("", &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAPISpec, err)
	}

	sum := sha256.Sum256(data)
	spec.hash = hex.EncodeToString(sum[:])

	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Hash returns the hex SHA-256 of the document bytes the spec was parsed
// from.
func (s *Spec) Hash() string { return s.hash }

// validate enforces the surface invariants: unique entry names, known
// sides, resolvable types, and no cyclic shape references.
func (s *Spec) validate() error {
	if len(s.APIs) == 0 {
		return fmt.Errorf("%w: no api entries declared", ErrInvalidAPISpec)
	}

	seen := make(map[string]bool, len(s.APIs))
	for _, e := range s.APIs {
		if e.Name == "" {
			return fmt.Errorf("%w: entry with empty name", ErrInvalidAPISpec)
		}
		if seen[e.Name] {
			return fmt.Errorf("%w: %s", ErrInvalidAPISpec, e.Name)
		}
		seen[e.Name] = true

		switch e.Side {
		case SideBrowser, SideFrontend, SideBoth:
		default:
			return fmt.Errorf("%w: %s has unknown side %q", ErrInvalidAPISpec, e.Name, e.Side)
		}

		for _, p := range e.Params {
			if p.Name == "" {
				return fmt.Errorf("%w: %s has a nameless parameter", ErrInvalidAPISpec, e.Name)
			}
			if !s.typeKnown(p.Type) {
				return fmt.Errorf("%w: %s parameter %s has unknown type %q", ErrInvalidAPISpec, e.Name, p.Name, p.Type)
			}
		}

		if e.Returns != "void" && !s.typeKnown(e.Returns) {
			return fmt.Errorf("%w: %s has unknown return type %q", ErrInvalidAPISpec, e.Name, e.Returns)
		}
	}

	return s.checkShapeCycles()
}

func (s *Spec) typeKnown(t string) bool {
	if scalarTypes[t] {
		return true
	}
	_, ok := s.Shapes[t]
	return ok
}

// checkShapeCycles rejects cyclic references between named shapes. A
// shape reaching itself through its fields cannot be serialized.
func (s *Spec) checkShapeCycles() error {
	const (
		white = 0 // unvisited
		grey  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(s.Shapes))

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = grey
		fields := s.Shapes[name]

		// Deterministic traversal so the named offender is stable.
		keys := make([]string, 0, len(fields))
		for f := range fields {
			keys = append(keys, f)
		}
		sort.Strings(keys)

		for _, f := range keys {
			t := fields[f]
			if scalarTypes[t] {
				continue
			}
			if _, ok := s.Shapes[t]; !ok {
				return fmt.Errorf("%w: shape %s field %s has unknown type %q", ErrInvalidAPISpec, name, f, t)
			}
			switch color[t] {
			case grey:
				return fmt.Errorf("%w: %s (cyclic shape reference)", ErrInvalidAPISpec, t)
			case white:
				if err := visit(t); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}

	names := make([]string, 0, len(s.Shapes))
	for n := range s.Shapes {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if color[n] == white {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// DispatchID returns the stable dispatch identifier shared by both sides
// for an entry name.
func DispatchID(name string) string {
	sum := sha256.Sum256([]byte(name))
	return fmt.Sprintf("ck_%s_%s", name, hex.EncodeToString(sum[:4]))
}
