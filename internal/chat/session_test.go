package chat_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/coursegen/internal/chat"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/mocks"
	"github.com/phrazzld/coursegen/internal/stream"
	"github.com/phrazzld/coursegen/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCourses struct {
	nodes []domain.Node
}

func (f *fakeCourses) Task(courseID string) (*task.Task, error) {
	if courseID != "course-1" {
		return nil, task.ErrTaskNotFound
	}
	return &task.Task{ID: courseID, Nodes: domain.CloneNodes(f.nodes)}, nil
}

func courseNodes() []domain.Node {
	return []domain.Node{
		{ID: "c1", ParentID: domain.RootParentID, Name: "Basics", Level: 1},
		{ID: "s1", ParentID: "c1", Name: "Slices", Level: 2, Content: "A slice is a view over an array."},
		{ID: "s2", ParentID: "c1", Name: "Maps", Level: 2, Content: "Maps are hash tables."},
	}
}

type chatEvents struct {
	mu      sync.Mutex
	payload []events.ChatPayload
}

func (c *chatEvents) EmitEvent(_ context.Context, e *events.Event) error {
	var p events.ChatPayload
	if err := e.UnmarshalPayload(&p); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = append(c.payload, p)
	return nil
}

func (c *chatEvents) all() []events.ChatPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.ChatPayload(nil), c.payload...)
}

func newSession(svc generation.Service, emitter events.Emitter) *chat.Session {
	return chat.NewSession(svc, &fakeCourses{nodes: courseNodes()}, emitter, chat.DefaultConfig(), testLogger())
}

func TestAskStreamsAnswerAndAnnotates(t *testing.T) {
	t.Parallel()

	svc := &mocks.MockService{}
	svc.AskFn = func(ctx context.Context, req generation.AskRequest) (io.ReadCloser, error) {
		trailer := stream.Sentinel + `{"quote":"view over an array","anno_summary":"Slices alias arrays","node_id":"s1"}`
		return mocks.NewStream("Slices share ", "their backing array.", trailer), nil
	}
	rec := &chatEvents{}
	s := newSession(svc, rec)

	var streamed strings.Builder
	reply, err := s.Ask(context.Background(), chat.Request{
		CourseID: "course-1",
		NodeID:   "s1",
		Question: "How do Slices relate to Maps?",
	}, func(delta string) error {
		streamed.WriteString(delta)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, chat.OutcomeAnswered, reply.Outcome)
	assert.Equal(t, "Slices share their backing array.", reply.Answer)
	assert.Equal(t, reply.Answer, strings.TrimSpace(streamed.String()))
	assert.NotContains(t, streamed.String(), stream.Sentinel)
	require.NotNil(t, reply.Metadata)
	require.NotNil(t, reply.Annotation)
	assert.Equal(t, "s1", reply.Annotation.NodeID)
	assert.Equal(t, "view over an array", reply.Annotation.Quote)
	assert.Equal(t, "Slices alias arrays", reply.Annotation.Summary)
	assert.Equal(t, chat.SourceAIChat, reply.Annotation.SourceType)

	calls := svc.AskCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "s1", calls[0].NodeID)
	assert.Equal(t, "Slices", calls[0].NodeName)
	assert.Contains(t, calls[0].NodeContent, "Maps are hash tables.", "nodes named in the question are included")
	assert.Empty(t, calls[0].History)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, generation.RoleUser, history[0].Role)
	assert.Equal(t, generation.RoleAssistant, history[1].Role)

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, "answered", got[0].Outcome)
	assert.Equal(t, reply.Annotation.ID, got[0].AnnotationID)

	// the next question carries the history
	_, err = s.Ask(context.Background(), chat.Request{CourseID: "course-1", Question: "And maps?"}, nil)
	require.NoError(t, err)
	calls = svc.AskCalls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].History, 2)
	assert.Equal(t, "c1", calls[1].NodeID, "falls back to the first node")
}

func TestAskHidesSentinelSplitAcrossChunks(t *testing.T) {
	t.Parallel()

	svc := &mocks.MockService{}
	svc.AskFn = func(ctx context.Context, req generation.AskRequest) (io.ReadCloser, error) {
		cut := len(stream.Sentinel) / 2
		return mocks.NewStream(
			"Slices share memory.",
			stream.Sentinel[:cut],
			stream.Sentinel[cut:]+`{"quote":"","anno_summary":"","node_id":""}`,
		), nil
	}
	s := newSession(svc, &chatEvents{})

	var streamed strings.Builder
	reply, err := s.Ask(context.Background(), chat.Request{CourseID: "course-1", Question: "Memory?"},
		func(delta string) error {
			streamed.WriteString(delta)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, "Slices share memory.", reply.Answer)
	assert.Equal(t, "Slices share memory.", streamed.String())
}

func TestAskWithMalformedMetadata(t *testing.T) {
	t.Parallel()

	svc := &mocks.MockService{}
	svc.AskFn = func(ctx context.Context, req generation.AskRequest) (io.ReadCloser, error) {
		return mocks.NewStream("plain answer ", "with ---META", "DATA--- inside?"), nil
	}
	s := newSession(svc, nil)

	reply, err := s.Ask(context.Background(), chat.Request{CourseID: "course-1", Question: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeAnswered, reply.Outcome)
	assert.Nil(t, reply.Metadata)
	assert.Nil(t, reply.Annotation)
	assert.Contains(t, reply.MetadataError, "invalid stream metadata")
	assert.Equal(t, "plain answer with", reply.Answer)
}

func TestAskRejectsBadRequests(t *testing.T) {
	t.Parallel()

	s := newSession(&mocks.MockService{}, nil)
	ctx := context.Background()

	_, err := s.Ask(ctx, chat.Request{CourseID: "course-1", Question: "  "}, nil)
	assert.ErrorIs(t, err, chat.ErrEmptyQuestion)

	_, err = s.Ask(ctx, chat.Request{CourseID: "other", Question: "q"}, nil)
	assert.ErrorIs(t, err, task.ErrTaskNotFound)

	empty := chat.NewSession(&mocks.MockService{}, &fakeCourses{}, nil, chat.DefaultConfig(), testLogger())
	_, err = empty.Ask(ctx, chat.Request{CourseID: "course-1", Question: "q"}, nil)
	assert.ErrorIs(t, err, chat.ErrNoTarget)
}

func TestAskServiceError(t *testing.T) {
	t.Parallel()

	svc := &mocks.MockService{}
	svc.AskFn = func(ctx context.Context, req generation.AskRequest) (io.ReadCloser, error) {
		return nil, generation.ErrRemoteStatus
	}
	s := newSession(svc, nil)

	_, err := s.Ask(context.Background(), chat.Request{CourseID: "course-1", Question: "q"}, nil)
	assert.ErrorIs(t, err, generation.ErrRemoteStatus)
	assert.Empty(t, s.History())
}

// pipeAsks serves every question from a new test-fed pipe.
func pipeAsks(svc *mocks.MockService) <-chan *mocks.PipeStream {
	pipes := make(chan *mocks.PipeStream, 4)
	svc.AskFn = func(ctx context.Context, req generation.AskRequest) (io.ReadCloser, error) {
		p := mocks.NewPipeStream()
		pipes <- p
		return p, nil
	}
	return pipes
}

func TestCancelYieldsCancelledOutcome(t *testing.T) {
	t.Parallel()

	svc := &mocks.MockService{}
	pipes := pipeAsks(svc)
	rec := &chatEvents{}
	s := newSession(svc, rec)

	assert.False(t, s.Cancel(), "nothing in flight")

	type result struct {
		reply *chat.Reply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := s.Ask(context.Background(), chat.Request{CourseID: "course-1", Question: "q"}, nil)
		done <- result{reply, err}
	}()

	p := <-pipes
	require.NoError(t, p.Send("partial "))
	require.Eventually(t, s.Cancel, time.Second, time.Millisecond)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, chat.OutcomeCancelled, r.reply.Outcome)
		assert.Equal(t, "partial ", r.reply.Answer)
	case <-time.After(2 * time.Second):
		t.Fatal("ask did not return after cancel")
	}
	assert.Empty(t, s.History(), "only completed exchanges are kept")
	require.Len(t, rec.all(), 1)
	assert.Equal(t, "cancelled", rec.all()[0].Outcome)
}

func TestNewQuestionAbortsPrevious(t *testing.T) {
	t.Parallel()

	svc := &mocks.MockService{}
	pipes := pipeAsks(svc)
	s := newSession(svc, nil)

	first := make(chan *chat.Reply, 1)
	go func() {
		reply, err := s.Ask(context.Background(), chat.Request{CourseID: "course-1", Question: "first"}, nil)
		assert.NoError(t, err)
		first <- reply
	}()
	<-pipes

	second := make(chan *chat.Reply, 1)
	go func() {
		reply, err := s.Ask(context.Background(), chat.Request{CourseID: "course-1", Question: "second"}, nil)
		assert.NoError(t, err)
		second <- reply
	}()

	select {
	case reply := <-first:
		assert.Equal(t, chat.OutcomeCancelled, reply.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("first question was not aborted")
	}

	p := <-pipes
	go func() {
		_ = p.Send("second answer")
		p.Finish()
	}()
	select {
	case reply := <-second:
		assert.Equal(t, chat.OutcomeAnswered, reply.Outcome)
		assert.Equal(t, "second answer", reply.Answer)
	case <-time.After(2 * time.Second):
		t.Fatal("second question did not finish")
	}

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Content)
}

func TestCallerContextEndIsAnError(t *testing.T) {
	t.Parallel()

	svc := &mocks.MockService{}
	pipes := pipeAsks(svc)
	s := newSession(svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Ask(ctx, chat.Request{CourseID: "course-1", Question: "q"}, nil)
		errc <- err
	}()
	<-pipes
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ask did not return")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := newSession(&mocks.MockService{}, nil)
	_, err := s.Ask(context.Background(), chat.Request{CourseID: "course-1", Question: "q"}, nil)
	require.NoError(t, err)
	require.Len(t, s.History(), 2)

	s.Reset()
	assert.Empty(t, s.History())
}
