package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	claimed map[string]string // prefix -> project
}

func (f *fakeIndex) BrandingInUse(prefix, project string) bool {
	owner, ok := f.claimed[prefix]
	return ok && owner != project
}

func TestResolveMerge(t *testing.T) {
	global := &Document{
		ExcludedFeatures: []string{"ad-blocking"},
		BuildFlags: map[string]FlagValue{
			"is_debug":  BoolValue(false),
			"thin_lto":  BoolValue(true),
			"opt_level": StringValue("O2"),
		},
	}
	proj := &Document{
		ExcludedFeatures: []string{"pdf-viewer"},
		BuildFlags: map[string]FlagValue{
			"is_debug": BoolValue(true), // project overrides global
		},
		Branding:  &Branding{Name: "Nimbus", IdentifierPrefix: "com.example.nimbus"},
		OutputDir: "out/custom",
	}

	plan, err := Resolve("nimbus", global, proj, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"ad-blocking", "pdf-viewer"}, plan.ExcludedFeatures)

	v, ok := plan.Flag("is_debug")
	require.True(t, ok)
	assert.True(t, v.Bool, "project value must win")

	v, ok = plan.Flag("opt_level")
	require.True(t, ok)
	assert.Equal(t, "O2", v.Str)

	assert.Equal(t, "Nimbus", plan.Branding.Name)
	assert.Equal(t, "out/custom", plan.OutputDir)
}

func TestResolveDeterministic(t *testing.T) {
	global := &Document{
		ExcludedFeatures: []string{"b-feature", "a-feature"},
		BuildFlags: map[string]FlagValue{
			"z_flag": BoolValue(true),
			"a_flag": IntValue(3),
			"m_flag": StringValue("x"),
		},
	}
	proj := &Document{BuildFlags: map[string]FlagValue{"m_flag": StringValue("y")}}

	first, err := Resolve("alpha", global, proj, nil)
	require.NoError(t, err)
	second, err := Resolve("alpha", global, proj, nil)
	require.NoError(t, err)

	enc1, err := first.Encode()
	require.NoError(t, err)
	enc2, err := second.Encode()
	require.NoError(t, err)
	assert.Equal(t, enc1, enc2, "identical inputs must yield byte-identical plans")

	h1, err := first.Hash()
	require.NoError(t, err)
	h2, err := second.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestResolveConfigConflict(t *testing.T) {
	// Global excludes pdf-viewer; project enables it via flag.
	global := &Document{ExcludedFeatures: []string{"pdf-viewer"}}
	proj := &Document{BuildFlags: map[string]FlagValue{"pdf-viewer-enabled": BoolValue(true)}}

	_, err := Resolve("alpha", global, proj, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigConflict)
	assert.Contains(t, err.Error(), "pdf-viewer")
}

func TestResolveConflictSpellings(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		value    FlagValue
		conflict bool
	}{
		{"enable underscore", "enable_pdf_viewer", BoolValue(true), true},
		{"enabled suffix hyphen", "pdf-viewer-enabled", BoolValue(true), true},
		{"disabled flag is fine", "enable_pdf_viewer", BoolValue(false), false},
		{"unrelated flag", "enable_webgl", BoolValue(true), false},
		{"truthy string", "enable_pdf_viewer", StringValue("true"), true},
		{"truthy int", "pdf_viewer_enabled", IntValue(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			global := &Document{ExcludedFeatures: []string{"pdf-viewer"}}
			proj := &Document{BuildFlags: map[string]FlagValue{tt.flag: tt.value}}
			_, err := Resolve("alpha", global, proj, nil)
			if tt.conflict {
				assert.ErrorIs(t, err, ErrConfigConflict)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveBrandingCollision(t *testing.T) {
	idx := &fakeIndex{claimed: map[string]string{"com.example.nimbus": "other"}}
	proj := &Document{Branding: &Branding{Name: "Nimbus", IdentifierPrefix: "com.example.nimbus"}}

	_, err := Resolve("alpha", nil, proj, idx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBrandingCollision)

	// Same prefix owned by the same project is not a collision.
	idx.claimed["com.example.nimbus"] = "alpha"
	_, err = Resolve("alpha", nil, proj, idx)
	assert.NoError(t, err)
}

func TestResolveDefaults(t *testing.T) {
	plan, err := Resolve("alpha", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", plan.Branding.Name)
	assert.Equal(t, "out/alpha", filepath.ToSlash(plan.OutputDir))
}
