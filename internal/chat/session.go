package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/redact"
	"github.com/phrazzld/coursegen/internal/stream"
	"github.com/phrazzld/coursegen/internal/task"
)

// Outcome is how a question ended.
type Outcome string

// Outcome values
const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeCancelled Outcome = "cancelled"
)

// Courses gives read access to course nodes. *task.Engine implements it.
type Courses interface {
	Task(courseID string) (*task.Task, error)
}

// Config bounds the context sent with a question.
type Config struct {
	// NodeContextChars caps the content of each related node
	NodeContextChars int

	// NotesChars caps the user notes
	NotesChars int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{NodeContextChars: 3000, NotesChars: 5000}
}

// Request is one question.
type Request struct {
	CourseID string `json:"course_id" validate:"required"`
	// NodeID is the node being read; the first node is used when empty or
	// unknown
	NodeID    string `json:"node_id"`
	Question  string `json:"question" validate:"required"`
	Selection string `json:"selection,omitempty"`
	UserNotes string `json:"user_notes,omitempty"`
}

// Reply is the final state of a question.
type Reply struct {
	Outcome    Outcome          `json:"outcome"`
	NodeID     string           `json:"node_id"`
	Answer     string           `json:"answer"`
	Metadata   *stream.Metadata `json:"metadata,omitempty"`
	Annotation *Annotation      `json:"annotation,omitempty"`
	// MetadataError is set when the trailer could not be decoded; the
	// answer is still complete
	MetadataError string `json:"metadata_error,omitempty"`
}

// Session is one conversation. It is safe for concurrent use; at most one
// question is in flight at a time.
type Session struct {
	service generation.Service
	courses Courses
	emitter events.Emitter
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	history []generation.ChatMessage
	cancel  context.CancelFunc
	seq     uint64
}

// NewSession creates a Session. emitter may be nil.
func NewSession(
	service generation.Service,
	courses Courses,
	emitter events.Emitter,
	config Config,
	logger *slog.Logger,
) *Session {
	return &Session{
		service: service,
		courses: courses,
		emitter: emitter,
		config:  config,
		logger:  logger.With("component", "chat_session"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ask sends a question and blocks until the answer is complete, the question
// is aborted or ctx ends. onDelta, when not nil, receives answer text as it
// arrives; it never sees the metadata trailer. Asking while another question
// is in flight aborts the earlier one.
func (s *Session) Ask(ctx context.Context, req Request, onDelta func(string) error) (*Reply, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	t, err := s.courses.Task(req.CourseID)
	if err != nil {
		return nil, err
	}
	target, ok := pickTarget(t.Nodes, req.NodeID)
	if !ok {
		return nil, fmt.Errorf("%w: course %s has no nodes", ErrNoTarget, req.CourseID)
	}

	askCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.seq++
	seq := s.seq
	history := append([]generation.ChatMessage(nil), s.history...)
	s.mu.Unlock()
	defer s.release(seq)

	log := s.logger.With("course_id", req.CourseID, "node_id", target.ID)
	log.DebugContext(ctx, "question asked", "question_chars", len(question), "history_len", len(history))

	body, err := s.service.Ask(askCtx, generation.AskRequest{
		CourseID:    req.CourseID,
		NodeID:      target.ID,
		NodeName:    target.Name,
		NodeContent: BuildContext(t.Nodes, target, question, s.config.NodeContextChars),
		Question:    question,
		History:     history,
		Selection:   req.Selection,
		UserNotes:   truncate(req.UserNotes, s.config.NotesChars),
	})
	if err != nil {
		if aborted(ctx, askCtx) {
			return s.cancelled(ctx, req.CourseID, target.ID, ""), nil
		}
		log.WarnContext(ctx, "question failed", "error", redact.Error(err))
		return nil, fmt.Errorf("ask: %w", err)
	}
	defer body.Close()
	stop := context.AfterFunc(askCtx, func() { _ = body.Close() })
	defer stop()

	parser := stream.NewParser()
	err = stream.Pump(askCtx, body, parser, stream.PumpOptions{OnDelta: onDelta})
	if err != nil {
		if aborted(ctx, askCtx) {
			return s.cancelled(ctx, req.CourseID, target.ID, parser.Answer()), nil
		}
		log.WarnContext(ctx, "answer stream failed", "error", redact.Error(err), "bytes", parser.Len())
		return nil, fmt.Errorf("read answer: %w", err)
	}

	res := parser.Result()
	reply := &Reply{
		Outcome:  OutcomeAnswered,
		NodeID:   target.ID,
		Answer:   res.Answer,
		Metadata: res.Metadata,
	}
	if res.MetadataErr != nil {
		// the answer stands on its own
		reply.MetadataError = res.MetadataErr.Error()
		log.WarnContext(ctx, "answer metadata dropped", "error", res.MetadataErr)
	}
	reply.Annotation = NewAnnotation(req.CourseID, target.ID, question, res.Answer, res.Metadata, s.now())

	s.mu.Lock()
	s.history = append(s.history,
		generation.ChatMessage{Role: generation.RoleUser, Content: question},
		generation.ChatMessage{Role: generation.RoleAssistant, Content: res.Answer},
	)
	s.mu.Unlock()

	log.InfoContext(ctx, "question answered",
		"answer_chars", len(res.Answer),
		"annotated", reply.Annotation != nil)
	s.emit(ctx, req.CourseID, reply)
	return reply, nil
}

// aborted reports whether askCtx ended through Cancel or a newer question
// rather than through the caller's ctx.
func aborted(ctx, askCtx context.Context) bool {
	return ctx.Err() == nil && errors.Is(askCtx.Err(), context.Canceled)
}

func (s *Session) cancelled(ctx context.Context, courseID, nodeID, partial string) *Reply {
	s.logger.InfoContext(ctx, "question cancelled", "course_id", courseID, "partial_chars", len(partial))
	reply := &Reply{Outcome: OutcomeCancelled, NodeID: nodeID, Answer: partial}
	s.emit(ctx, courseID, reply)
	return reply
}

// release forgets the cancel func of question seq unless a newer question
// replaced it.
func (s *Session) release(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == seq {
		s.cancel = nil
	}
}

// Cancel aborts the question in flight. It reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// History returns a copy of the completed exchanges.
func (s *Session) History() []generation.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]generation.ChatMessage(nil), s.history...)
}

// Reset aborts any question in flight and clears the history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.history = nil
}

func (s *Session) emit(ctx context.Context, courseID string, reply *Reply) {
	if s.emitter == nil {
		return
	}
	payload := events.ChatPayload{
		Outcome:     string(reply.Outcome),
		NodeID:      reply.NodeID,
		AnswerChars: len(reply.Answer),
	}
	if reply.Annotation != nil {
		payload.AnnotationID = reply.Annotation.ID
	}
	event, err := events.New(events.ChatCompleted, courseID, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build event", "error", err)
		return
	}
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.DebugContext(ctx, "event handler failed", "error", err)
	}
}
