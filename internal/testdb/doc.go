// Package testdb provides helpers for integration tests against real
// storage backends. Tests that use it are skipped unless the matching
// environment variable points at a running server.
package testdb
