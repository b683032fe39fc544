package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// BrandingIndex answers whether a branding identifier prefix is already
// claimed. The workspace registry implements this.
type BrandingIndex interface {
	// BrandingInUse reports whether prefix is claimed by a project other
	// than the named one.
	BrandingInUse(prefix, project string) bool
}

// Resolve merges the global and per-project documents into a BuildPlan.
//
// Exclusions are unioned. Flags merge key-by-key with project values
// winning. Branding comes from the project document if declared, the
// global one otherwise. Resolution is pure: identical inputs yield a
// byte-identical plan.
//
// Fails with ErrConfigConflict if an excluded feature is also enabled by a
// build flag, and with ErrBrandingCollision if the identifier prefix is
// claimed by another project.
func Resolve(project string, global, proj *Document, idx BrandingIndex) (*BuildPlan, error) {
	if global == nil {
		global = &Document{}
	}
	if proj == nil {
		proj = &Document{}
	}

	excluded := unionSorted(global.ExcludedFeatures, proj.ExcludedFeatures)

	merged := make(map[string]FlagValue, len(global.BuildFlags)+len(proj.BuildFlags))
	for k, v := range global.BuildFlags {
		merged[k] = v
	}
	for k, v := range proj.BuildFlags {
		merged[k] = v
	}

	// Exclusion vs. flag conflicts are checked before branding so the
	// failure order is deterministic.
	for _, feature := range excluded {
		for key, val := range merged {
			if flagEnablesFeature(key, feature) && val.Truthy() {
				return nil, fmt.Errorf("%w: %s", ErrConfigConflict, feature)
			}
		}
	}

	branding := Branding{Name: project, IdentifierPrefix: project}
	if global.Branding != nil {
		branding = *global.Branding
	}
	if proj.Branding != nil {
		branding = *proj.Branding
	}
	if idx != nil && branding.IdentifierPrefix != "" && idx.BrandingInUse(branding.IdentifierPrefix, project) {
		return nil, fmt.Errorf("%w: %s", ErrBrandingCollision, branding.IdentifierPrefix)
	}

	outputDir := proj.OutputDir
	if outputDir == "" {
		outputDir = global.OutputDir
	}
	if outputDir == "" {
		outputDir = filepath.Join("out", project)
	}

	flags := make([]Flag, 0, len(merged))
	for k, v := range merged {
		flags = append(flags, Flag{Key: k, Value: v})
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Key < flags[j].Key })

	return &BuildPlan{
		Project:          project,
		ExcludedFeatures: excluded,
		BuildFlags:       flags,
		Branding:         branding,
		OutputDir:        outputDir,
	}, nil
}

// flagEnablesFeature reports whether a flag key refers to enabling the
// given feature. Hyphens and underscores are interchangeable, and both
// "enable_<f>" and "<f>_enabled" spellings are recognized.
func flagEnablesFeature(key, feature string) bool {
	k := normalize(key)
	f := normalize(feature)
	return k == "enable_"+f || k == f+"_enabled"
}

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "-", "_")
}

// unionSorted merges two string sets into a sorted, deduplicated slice.
func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		seen[s] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
