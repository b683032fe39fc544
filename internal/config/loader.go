package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1 << 20 // 1MB

// envPrefix is the prefix for environment variable overrides.
const envPrefix = "CHROMEKIT_"

// envKeyMap maps recognized environment variables to config paths. Variables
// outside this map are ignored rather than guessed at; build flags and
// exclusions are file-only.
var envKeyMap = map[string]string{
	"CHROMEKIT_OUTPUT_DIR":                 "outputDir",
	"CHROMEKIT_BRANDING_NAME":              "branding.name",
	"CHROMEKIT_BRANDING_ICON":              "branding.icon",
	"CHROMEKIT_BRANDING_IDENTIFIER_PREFIX": "branding.identifierPrefix",
}

// Recognized document keys. Anything else is an UnknownConfigKey.
var (
	topLevelKeys = map[string]bool{
		"excludedFeatures": true,
		"buildFlags":       true,
		"branding":         true,
		"outputDir":        true,
	}
	brandingKeys = map[string]bool{
		"branding.name":             true,
		"branding.icon":             true,
		"branding.identifierPrefix": true,
	}
)

// Load reads and parses a configuration document from disk. Environment
// variables with the CHROMEKIT_ prefix override file values.
func Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config %s exceeds size limit (%d bytes)", path, maxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return LoadBytes(data)
}

// LoadBytes parses a configuration document from raw JSON bytes, applying
// environment overrides on top.
func LoadBytes(data []byte) (*Document, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(data), kjson.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateKeys(k); err != nil {
		return nil, err
	}

	// Environment overrides take precedence over file values. The mapping
	// is explicit; unrecognized CHROMEKIT_ variables are dropped.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return envKeyMap[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env overrides: %w", err)
	}

	return documentFrom(k)
}

// validateKeys enforces the fail-closed schema: every key in the document
// must be recognized.
func validateKeys(k *koanf.Koanf) error {
	for _, key := range k.Keys() {
		switch {
		case topLevelKeys[key]:
		case brandingKeys[key]:
		case strings.HasPrefix(key, "buildFlags.") && strings.Count(key, ".") == 1:
		case strings.HasPrefix(key, "branding."):
			return fmt.Errorf("%w: %s", ErrUnknownConfigKey, key)
		default:
			return fmt.Errorf("%w: %s", ErrUnknownConfigKey, key)
		}
	}
	return nil
}

// documentFrom extracts a typed Document from the loaded tree.
func documentFrom(k *koanf.Koanf) (*Document, error) {
	doc := &Document{
		OutputDir:  k.String("outputDir"),
		BuildFlags: make(map[string]FlagValue),
	}

	if k.Exists("excludedFeatures") {
		doc.ExcludedFeatures = append(doc.ExcludedFeatures, k.Strings("excludedFeatures")...)
		sort.Strings(doc.ExcludedFeatures)
	}

	if k.Exists("branding") {
		doc.Branding = &Branding{
			Name:             k.String("branding.name"),
			IconPath:         k.String("branding.icon"),
			IdentifierPrefix: k.String("branding.identifierPrefix"),
		}
	}

	if k.Exists("buildFlags") {
		raw, ok := k.Get("buildFlags").(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: buildFlags must be an object", ErrInvalidFlagValue)
		}
		for key, v := range raw {
			fv, err := coerceFlag(key, v)
			if err != nil {
				return nil, err
			}
			doc.BuildFlags[key] = fv
		}
	}

	return doc, nil
}

// coerceFlag converts a raw JSON value into a typed FlagValue. JSON numbers
// arrive as float64; only integral values are accepted.
func coerceFlag(key string, v interface{}) (FlagValue, error) {
	switch val := v.(type) {
	case bool:
		return BoolValue(val), nil
	case string:
		return StringValue(val), nil
	case float64:
		if val != math.Trunc(val) {
			return FlagValue{}, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidFlagValue, key, val)
		}
		return IntValue(int64(val)), nil
	default:
		return FlagValue{}, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidFlagValue, key, v)
	}
}
