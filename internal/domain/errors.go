// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyNodeID is returned when a node has no identifier.
	ErrEmptyNodeID = errors.New("node ID cannot be empty")

	// ErrEmptyNodeName is returned when a node has no display name.
	ErrEmptyNodeName = errors.New("node name cannot be empty")

	// ErrInvalidNodeLevel is returned when a node level is below 1.
	ErrInvalidNodeLevel = errors.New("node level must be at least 1")

	// ErrInvalidNodeKind is returned when a node kind is not recognised.
	ErrInvalidNodeKind = errors.New("invalid node kind")
)
