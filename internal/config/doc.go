// Package config loads the daemon configuration from a YAML or JSON file with
// POE_-prefixed environment overrides.
package config
