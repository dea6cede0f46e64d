// Package events provides the event types published by the generation engine
// and the plumbing that delivers them.
//
// The engine emits an Event after every visible state change: task
// transitions, queue item transitions, node set changes and revealed content.
// An InMemoryEmitter dispatches each event to registered handlers, such as
// the metrics recorder and the Hub that feeds websocket subscribers.
package events
