// Package config handles configuration loading, parsing, and validation
// from environment variables (COURSEGEN_ prefix) and an optional config.yaml.
// It provides type-safe access to the settings of the HTTP server, the
// generation backend, the snapshot store and the engine itself.
package config
