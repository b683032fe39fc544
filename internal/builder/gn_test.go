package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/chromekit/internal/config"
)

func TestRenderArgs(t *testing.T) {
	plan, err := config.Resolve("nimbus",
		&config.Document{
			ExcludedFeatures: []string{"pdf-viewer"},
			BuildFlags: map[string]config.FlagValue{
				"is_debug":           config.BoolValue(false),
				"jobs":               config.IntValue(8),
				"optimization_level": config.StringValue("O2"),
			},
		},
		&config.Document{
			Branding: &config.Branding{Name: "Nimbus", IdentifierPrefix: "com.example.nimbus"},
		},
		nil)
	require.NoError(t, err)

	args := RenderArgs(plan)
	assert.Equal(t,
		`chromekit_bundle_prefix="com.example.nimbus" chromekit_product_name="Nimbus" enable_pdf_viewer=false is_debug=false jobs=8 optimization_level="O2"`,
		args)

	// Stable across invocations.
	assert.Equal(t, args, RenderArgs(plan))
}

func TestRenderArgsExclusionOverridesFlag(t *testing.T) {
	// A non-truthy flag for an excluded feature survives resolution; the
	// rendered args must still pin the feature off.
	plan, err := config.Resolve("alpha",
		&config.Document{
			ExcludedFeatures: []string{"pdf-viewer"},
			BuildFlags:       map[string]config.FlagValue{"enable_pdf_viewer": config.BoolValue(false)},
		},
		nil, nil)
	require.NoError(t, err)

	assert.Contains(t, RenderArgs(plan), "enable_pdf_viewer=false")
}

func TestLineWriter(t *testing.T) {
	var lines []string
	w := &lineWriter{sink: func(s string) { lines = append(lines, s) }}

	_, err := w.Write([]byte("first line\nsecond "))
	require.NoError(t, err)
	_, err = w.Write([]byte("half\nthird\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first line", "second half", "third"}, lines)

	_, err = w.Write([]byte("unterminated"))
	require.NoError(t, err)
	assert.Len(t, lines, 3)
	w.Flush()
	assert.Equal(t, "unterminated", lines[3])
}
