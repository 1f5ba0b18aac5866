package wattson

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("wattson: invalid configuration")

	// ErrMissingAPIKey is returned when the configured provider requires
	// an API key that is not present in the environment.
	ErrMissingAPIKey = errors.New("wattson: missing provider API key")

	// ErrUnknownProvider is returned for an unrecognized llm provider name.
	ErrUnknownProvider = errors.New("wattson: unknown llm provider")
)
