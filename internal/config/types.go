// Package config loads and resolves chromekit configuration documents.
//
// A workspace carries one global document and one optional document per
// project, both named config.json. Resolution merges the two into an
// immutable BuildPlan: exclusions are unioned, build flags merge with
// project values winning key-by-key, and branding comes from whichever
// document declared it (project overrides global). Unknown keys are
// rejected rather than ignored so typos fail at load time.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// FlagKind discriminates typed build flag values.
type FlagKind string

const (
	FlagBool   FlagKind = "bool"
	FlagInt    FlagKind = "int"
	FlagString FlagKind = "string"
)

// FlagValue is a typed build flag value.
type FlagValue struct {
	Kind FlagKind `json:"kind"`
	Bool bool     `json:"bool,omitempty"`
	Int  int64    `json:"int,omitempty"`
	Str  string   `json:"str,omitempty"`
}

// BoolValue builds a boolean flag value.
func BoolValue(v bool) FlagValue { return FlagValue{Kind: FlagBool, Bool: v} }

// IntValue builds an integer flag value.
func IntValue(v int64) FlagValue { return FlagValue{Kind: FlagInt, Int: v} }

// StringValue builds a string flag value.
func StringValue(v string) FlagValue { return FlagValue{Kind: FlagString, Str: v} }

// Truthy reports whether the value enables something: true booleans,
// non-zero integers, and the strings "true"/"1".
func (v FlagValue) Truthy() bool {
	switch v.Kind {
	case FlagBool:
		return v.Bool
	case FlagInt:
		return v.Int != 0
	case FlagString:
		return v.Str == "true" || v.Str == "1"
	}
	return false
}

// String renders the value in GN argument syntax.
func (v FlagValue) String() string {
	switch v.Kind {
	case FlagBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case FlagInt:
		return fmt.Sprintf("%d", v.Int)
	default:
		return fmt.Sprintf("%q", v.Str)
	}
}

// Branding describes the fork's identity.
type Branding struct {
	Name             string `json:"name" koanf:"name"`
	IconPath         string `json:"iconPath" koanf:"icon"`
	IdentifierPrefix string `json:"identifierPrefix" koanf:"identifierPrefix"`
}

// Document is one parsed configuration document (global or per-project).
type Document struct {
	ExcludedFeatures []string
	BuildFlags       map[string]FlagValue
	Branding         *Branding
	OutputDir        string
}

// Flag is one resolved build flag. Plans keep flags as a sorted slice so
// the encoded form is canonical.
type Flag struct {
	Key   string    `json:"key"`
	Value FlagValue `json:"value"`
}

// BuildPlan is the fully resolved, immutable set of build inputs for one
// project. Identical inputs always produce a byte-identical encoding,
// which is what the caches key on.
type BuildPlan struct {
	Project          string   `json:"project"`
	ExcludedFeatures []string `json:"excludedFeatures"`
	BuildFlags       []Flag   `json:"buildFlags"`
	Branding         Branding `json:"branding"`
	OutputDir        string   `json:"outputDir"`
}

// Encode returns the canonical byte encoding of the plan.
func (p *BuildPlan) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode build plan: %w", err)
	}
	return data, nil
}

// Hash returns the hex SHA-256 of the canonical encoding.
func (p *BuildPlan) Hash() (string, error) {
	data, err := p.Encode()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Flag looks up a flag value by key.
func (p *BuildPlan) Flag(key string) (FlagValue, bool) {
	i := sort.Search(len(p.BuildFlags), func(i int) bool { return p.BuildFlags[i].Key >= key })
	if i < len(p.BuildFlags) && p.BuildFlags[i].Key == key {
		return p.BuildFlags[i].Value, true
	}
	return FlagValue{}, false
}
