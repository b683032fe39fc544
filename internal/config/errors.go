package config

import "errors"

// Configuration-stage errors. All are fatal to the operation that raised
// them; nothing is silently defaulted.
var (
	// ErrUnknownConfigKey indicates a document contains a key outside the
	// recognized schema. Fail-closed to catch typos early.
	ErrUnknownConfigKey = errors.New("unknown config key")

	// ErrConfigConflict indicates an excluded feature is also required by a
	// declared build flag.
	ErrConfigConflict = errors.New("config conflict")

	// ErrBrandingCollision indicates the branding identifier prefix is
	// already claimed by another project.
	ErrBrandingCollision = errors.New("branding collision")

	// ErrInvalidFlagValue indicates a build flag value is not a bool,
	// integer, or string.
	ErrInvalidFlagValue = errors.New("invalid build flag value")
)
