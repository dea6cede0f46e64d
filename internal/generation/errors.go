package generation

import "errors"

// Common errors returned by Service implementations
var (
	// ErrRemoteStatus is returned when the service answers with a non-2xx status
	ErrRemoteStatus = errors.New("remote service returned an error status")

	// ErrNoStream is returned when a streaming endpoint returns no body
	ErrNoStream = errors.New("remote service returned no stream")

	// ErrInvalidResponse is returned when a response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from generation service")

	// ErrContentBlocked is returned when the model blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during generation")

	// ErrInvalidConfig is returned when the service configuration is invalid
	ErrInvalidConfig = errors.New("invalid generation service configuration")

	// ErrInvalidRequest is returned when a request is missing required fields
	ErrInvalidRequest = errors.New("invalid generation request")
)
