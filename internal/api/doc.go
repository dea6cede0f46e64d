// Package api exposes the generation engine, the chat session and the event
// stream over HTTP. Handlers decode and validate requests, call the engine
// and translate its errors into status codes and safe messages.
package api
