// Package chat runs foreground questions about a course against the
// generation service.
//
// A Session keeps the conversation history and at most one question in
// flight. Asking again aborts the previous question, and Cancel aborts it on
// request; an aborted question ends with the "cancelled" outcome instead of
// an error. Answers are streamed through stream.Pump so the caller can show
// text as it arrives, and the metadata trailer after the sentinel is turned
// into an Annotation when it carries a usable quote.
//
// Questions never go through the background work queue.
package chat
