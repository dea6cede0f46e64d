// Package gemini provides an implementation of the generation.Service
// interface that calls Google's Gemini API directly instead of going through
// the course service.
//
// This package is an infrastructure adapter in the hexagonal architecture.
// It lets the engine run without the remote course service: course skeletons,
// node expansions and new nodes are produced locally from structured JSON
// model responses, and content and answers are streamed straight from the
// model.
//
// Key components:
//
// 1. Generator:
//   - Implements the generation.Service interface
//   - Assigns node and course identifiers locally
//
// 2. Prompt Management:
//   - Renders prompts from embedded text templates
//   - Instructs the model to use the metadata sentinel for answers
//
// 3. Error Handling:
//   - Retries transient errors with exponential backoff and jitter
//   - Maps safety blocks to generation.ErrContentBlocked
//
// Streams are never retried; a failed stream surfaces its error through the
// returned body.
package gemini
