// Package config handles configuration loading for coven-relay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from RELAY_CONFIG environment variable
//  2. ~/.config/coven/relay.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${RELAY_DB_PATH}"
//
// Unset variables expand to the empty string and fail validation when the
// field is required.
//
// # Durations
//
// Duration fields are written as Go duration strings ("3s", "2m") and parsed
// at load time.
package config
