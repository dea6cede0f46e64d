// Package courseapi implements generation.Service against the course
// generation HTTP service. JSON endpoints use a client with a request
// timeout; streaming endpoints use one without, so a long stream is bounded
// only by its context.
package courseapi
