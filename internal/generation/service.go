package generation

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/phrazzld/coursegen/internal/domain"
)

// Difficulty steers how deep the engine expands a course.
type Difficulty string

// Supported difficulty levels
const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyExpert       Difficulty = "expert"
)

// Valid reports whether d is a known difficulty. The empty value is valid and
// means the service default.
func (d Difficulty) Valid() bool {
	switch d {
	case "", DifficultyBeginner, DifficultyIntermediate, DifficultyExpert:
		return true
	default:
		return false
	}
}

// CourseRequest asks the service for a new course skeleton.
type CourseRequest struct {
	Keyword      string     `json:"keyword" validate:"required"`
	Difficulty   Difficulty `json:"difficulty,omitempty"`
	Style        string     `json:"style,omitempty"`
	Requirements string     `json:"requirements,omitempty"`
}

// Validate checks the request before it is sent.
func (r CourseRequest) Validate() error {
	if strings.TrimSpace(r.Keyword) == "" {
		return fmt.Errorf("%w: keyword is required", ErrInvalidRequest)
	}
	if !r.Difficulty.Valid() {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidRequest, r.Difficulty)
	}
	return nil
}

// CourseSkeleton is the initial outline returned by CreateCourse.
type CourseSkeleton struct {
	CourseID   string        `json:"course_id"`
	CourseName string        `json:"course_name"`
	Nodes      []domain.Node `json:"nodes"`
}

// NodeRequest creates a single node under a parent.
type NodeRequest struct {
	ParentNodeID string `json:"parent_node_id"`
	NodeName     string `json:"node_name"`
	NodeLevel    int    `json:"node_level"`
	NodeContent  string `json:"node_content"`
}

// ContentRequest asks the service to (re)write the content of one node.
type ContentRequest struct {
	NodeID          string `json:"node_id"`
	NodeName        string `json:"node_name"`
	OriginalContent string `json:"original_content"`
	UserRequirement string `json:"user_requirement"`
	CourseContext   string `json:"course_context"`
	PreviousContext string `json:"previous_context"`
}

// ExtendRequest asks the service for text to append to a node.
type ExtendRequest struct {
	NodeID          string `json:"node_id"`
	NodeName        string `json:"node_name"`
	CurrentContent  string `json:"current_content"`
	UserRequirement string `json:"user_requirement"`
}

// ChatMessage is one turn of a Q&A conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AskRequest is a foreground question about a course. NodeContent carries
// the assembled course context the answer should draw on.
type AskRequest struct {
	CourseID    string        `json:"course_id"`
	NodeID      string        `json:"node_id"`
	NodeName    string        `json:"node_name"`
	NodeContent string        `json:"node_content"`
	Question    string        `json:"question"`
	History     []ChatMessage `json:"history"`
	Selection   string        `json:"selection,omitempty"`
	UserNotes   string        `json:"user_notes,omitempty"`
}

// Service is the remote generation service. Stream methods return a body the
// caller must close; closing it aborts the stream.
type Service interface {
	// CreateCourse generates the skeleton of a new course.
	CreateCourse(ctx context.Context, req CourseRequest) (*CourseSkeleton, error)

	// ExpandNode generates the children of node. The returned nodes carry
	// their own IDs and levels.
	ExpandNode(ctx context.Context, courseID string, node domain.Node) ([]domain.Node, error)

	// CreateNode creates a single node with the given name under a parent.
	CreateNode(ctx context.Context, courseID string, req NodeRequest) (*domain.Node, error)

	// StreamNodeContent streams the new content of a node as plain text.
	StreamNodeContent(ctx context.Context, courseID string, req ContentRequest) (io.ReadCloser, error)

	// ExtendNode generates text to append to the content of a node.
	ExtendNode(ctx context.Context, courseID string, req ExtendRequest) (string, error)

	// Ask streams an answer followed by the metadata sentinel and a JSON
	// trailer.
	Ask(ctx context.Context, req AskRequest) (io.ReadCloser, error)
}
