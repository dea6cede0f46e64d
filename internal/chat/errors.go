package chat

import "errors"

var (
	// ErrEmptyQuestion is returned when the question is blank.
	ErrEmptyQuestion = errors.New("question is required")

	// ErrNoTarget is returned when the course has no node the question can
	// be attached to.
	ErrNoTarget = errors.New("no node to ask about")
)
