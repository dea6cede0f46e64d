package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type names an engine event.
type Type string

// Event types published by the engine and the chat session
const (
	TaskUpdated   Type = "task_updated"
	TaskDeleted   Type = "task_deleted"
	ItemEnqueued  Type = "item_enqueued"
	ItemStarted   Type = "item_started"
	ItemCompleted Type = "item_completed"
	ItemFailed    Type = "item_failed"
	QueueDrained  Type = "queue_drained"
	NodesChanged  Type = "nodes_changed"
	ContentDelta  Type = "content_delta"
	ViewChanged   Type = "view_changed"
	ChatCompleted Type = "chat_completed"
)

// Event is one notification about a state change. It carries no reference
// to engine types so that subscribers do not depend on the task package.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type indicates what happened
	Type Type `json:"type"`

	// CourseID is the course the event belongs to, if any
	CourseID string `json:"course_id,omitempty"`

	// Payload contains event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// New creates an Event with the given type, course and payload.
func New(eventType Type, courseID string, payload any) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		CourseID:  courseID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ItemPayload describes a queue item transition.
type ItemPayload struct {
	UUID         string `json:"uuid"`
	Kind         string `json:"kind"`
	TargetNodeID string `json:"target_node_id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
}

// TaskPayload describes a task after a transition.
type TaskPayload struct {
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"current_step,omitempty"`
}

// DeltaPayload carries newly revealed node text.
type DeltaPayload struct {
	NodeID string `json:"node_id"`
	Text   string `json:"text"`
}

// ChatPayload summarizes a finished chat exchange.
type ChatPayload struct {
	Outcome      string `json:"outcome"`
	NodeID       string `json:"node_id,omitempty"`
	AnnotationID string `json:"annotation_id,omitempty"`
	AnswerChars  int    `json:"answer_chars"`
}

// Handler defines an interface for components that can handle events.
type Handler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Emitter defines an interface for components that can emit events.
// This allows the engine to publish events without knowledge of handlers.
type Emitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *Event) error
}
