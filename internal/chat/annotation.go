package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/phrazzld/coursegen/internal/stream"
)

// Thresholds below which metadata does not become an annotation.
const (
	minQuoteRunes   = 3
	minNoteRunes    = 8
	summaryMaxRunes = 50
)

// SourceAIChat marks annotations created from chat answers.
const SourceAIChat = "ai_chat"

// Annotation is a note anchored to a quote from the course, produced from
// the metadata of an answer.
type Annotation struct {
	ID         string    `json:"anno_id"`
	CourseID   string    `json:"course_id"`
	NodeID     string    `json:"node_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Summary    string    `json:"anno_summary"`
	Quote      string    `json:"quote"`
	SourceType string    `json:"source_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewAnnotation builds an annotation from an answer and its metadata. It
// returns nil when the quote is shorter than three characters or the note
// text, the summary or else the answer, is shorter than eight.
func NewAnnotation(courseID, fallbackNodeID, question, answer string, meta *stream.Metadata, now time.Time) *Annotation {
	if meta == nil {
		return nil
	}

	quote := strings.TrimSpace(meta.Quote)
	answer = strings.TrimSpace(answer)
	summary := strings.TrimSpace(meta.AnnoSummary)

	note := summary
	if note == "" {
		note = answer
	}
	note = strings.Join(strings.Fields(note), " ")
	if utf8.RuneCountInString(quote) < minQuoteRunes || utf8.RuneCountInString(note) < minNoteRunes {
		return nil
	}

	if summary == "" {
		summary = truncate(answer, summaryMaxRunes)
	}
	nodeID := meta.NodeID
	if nodeID == "" {
		nodeID = fallbackNodeID
	}
	return &Annotation{
		ID:         uuid.NewString(),
		CourseID:   courseID,
		NodeID:     nodeID,
		Question:   question,
		Answer:     answer,
		Summary:    summary,
		Quote:      quote,
		SourceType: SourceAIChat,
		CreatedAt:  now,
	}
}
