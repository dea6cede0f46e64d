package api

import (
	"github.com/phrazzld/coursegen/internal/chat"
	"github.com/phrazzld/coursegen/internal/task"
)

// SetViewRequest selects the course the user is looking at. An empty
// course ID clears the view.
type SetViewRequest struct {
	CourseID string `json:"course_id"`
}

// UpdateNodeContentRequest replaces the content of a node with user text.
type UpdateNodeContentRequest struct {
	Content string `json:"content"`
}

// GenerateContentRequest optionally steers a content rewrite.
type GenerateContentRequest struct {
	Requirement string `json:"requirement" validate:"max=2000"`
}

// ExtendNodeRequest asks for more text on a node.
type ExtendNodeRequest struct {
	Requirement string `json:"requirement" validate:"required,max=2000"`
}

// GenerateResponse reports how many items a full-details request scheduled.
type GenerateResponse struct {
	CourseID  string `json:"course_id"`
	Scheduled int    `json:"scheduled"`
}

// EnqueueResponse is returned when a single node is scheduled. Added is
// false when an equivalent item was already pending or running.
type EnqueueResponse struct {
	Item  task.QueueItem `json:"item"`
	Added bool           `json:"added"`
}

// DeleteNodeResponse reports the number of nodes removed with the subtree.
type DeleteNodeResponse struct {
	Removed int `json:"removed"`
}

// QueueResponse lists the queue in scheduling order.
type QueueResponse struct {
	Items      []task.QueueItem `json:"items"`
	Processing bool             `json:"processing"`
}

// CancelResponse reports whether a question was in flight.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// Chat stream message types
const (
	ChatMessageDelta = "delta"
	ChatMessageReply = "reply"
	ChatMessageError = "error"
)

// ChatStreamMessage is one line of a streamed answer. Deltas carry answer
// text; the last line carries the reply or an error.
type ChatStreamMessage struct {
	Type  string      `json:"type"`
	Text  string      `json:"text,omitempty"`
	Reply *chat.Reply `json:"reply,omitempty"`
	Error string      `json:"error,omitempty"`
}
