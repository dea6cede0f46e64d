package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/coursegen/internal/api"
	"github.com/phrazzld/coursegen/internal/api/shared"
	"github.com/phrazzld/coursegen/internal/chat"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/mocks"
	"github.com/phrazzld/coursegen/internal/observability"
	"github.com/phrazzld/coursegen/internal/store"
	"github.com/phrazzld/coursegen/internal/task"
	"github.com/phrazzld/coursegen/internal/typewriter"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testAPI struct {
	engine  *task.Engine
	service *mocks.MockService
	session *chat.Session
	hub     *events.Hub
	metrics *observability.Metrics
	handler http.Handler
}

// newTestAPI wires a real engine, chat session and hub behind the router.
// The engine loop is not started, so scheduled items stay pending.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := testLogger()

	svc := &mocks.MockService{}
	hub := events.NewHub(logger)
	metrics := observability.NewMetrics("coursegen_test", prometheus.NewRegistry())
	emitter := events.NewInMemoryEmitter(logger)
	emitter.RegisterHandler(hub)
	emitter.RegisterHandler(metrics)

	engine := task.New(svc, store.NewMemorySnapshotStore(), task.Config{
		PreviousContextChars: 300,
		Typewriter:           typewriter.Config{Interval: time.Millisecond, DrainTicks: 4},
	}, logger, task.WithEmitter(emitter))
	t.Cleanup(engine.Close)
	t.Cleanup(hub.Close)

	session := chat.NewSession(svc, engine, emitter, chat.DefaultConfig(), logger)

	return &testAPI{
		engine:  engine,
		service: svc,
		session: session,
		hub:     hub,
		metrics: metrics,
		handler: api.NewRouter(api.RouterConfig{
			Engine:  engine,
			Chat:    session,
			Hub:     hub,
			Metrics: metrics,
			Logger:  logger,
		}),
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func lessonNodes() []domain.Node {
	return []domain.Node{
		{ID: "c1", ParentID: domain.RootParentID, Name: "Basics", Level: 1},
		{ID: "s1", ParentID: "c1", Name: "Types", Level: 2},
		{ID: "t1", ParentID: "s1", Name: "Integers", Level: 3},
		{ID: "t2", ParentID: "s1", Name: "Strings", Level: 3},
	}
}

func (a *testAPI) seedCourse(t *testing.T) {
	t.Helper()
	_, err := a.engine.CreateTask(context.Background(), "course-1", "Go", lessonNodes())
	require.NoError(t, err)
}

func TestStartCourse(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/courses", map[string]string{"keyword": "Go", "difficulty": "expert"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decode[task.Task](t, rec)
	assert.Equal(t, "course-1", got.ID)
	assert.Equal(t, task.StatusRunning, got.Status)
	require.Len(t, a.service.CreateCourseCalls(), 1)
	assert.Equal(t, "Go", a.service.CreateCourseCalls()[0].Keyword)

	queue := decode[api.QueueResponse](t, a.do(t, http.MethodGet, "/api/queue", nil))
	require.NotEmpty(t, queue.Items)
	assert.Equal(t, task.KindStructure, queue.Items[0].Kind)
	assert.False(t, queue.Processing)

	view := decode[task.View](t, a.do(t, http.MethodGet, "/api/view", nil))
	assert.Equal(t, "course-1", view.CourseID)
}

func TestStartCourseValidation(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{name: "missing keyword", body: map[string]string{}, message: "Invalid Keyword: required field"},
		{name: "unknown difficulty", body: map[string]string{"keyword": "Go", "difficulty": "wizard"}, message: "Invalid request"},
		{name: "not json", body: "plain text", message: "Invalid request format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/courses", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[shared.ErrorResponse](t, rec)
			assert.Equal(t, tc.message, resp.Error)
			assert.NotEmpty(t, resp.TraceID)
		})
	}
	assert.Empty(t, a.service.CreateCourseCalls())
}

func TestGetTask(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.seedCourse(t)

	rec := a.do(t, http.MethodGet, "/api/tasks/course-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[task.Task](t, rec)
	assert.Len(t, got.Nodes, 4)

	list := decode[[]task.Task](t, a.do(t, http.MethodGet, "/api/tasks", nil))
	assert.Len(t, list, 1)

	rec = a.do(t, http.MethodGet, "/api/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Course not found", decode[shared.ErrorResponse](t, rec).Error)
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.seedCourse(t)

	rec := a.do(t, http.MethodPost, "/api/tasks/course-1/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, task.StatusPaused, decode[task.Task](t, rec).Status)

	rec = a.do(t, http.MethodPost, "/api/tasks/course-1/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, task.StatusRunning, decode[task.Task](t, rec).Status)
	assert.Len(t, a.engine.Queue(), 2, "resume derives the missing lessons")

	rec = a.do(t, http.MethodPost, "/api/tasks/missing/pause", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateCourse(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.seedCourse(t)

	rec := a.do(t, http.MethodPost, "/api/tasks/course-1/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, api.GenerateResponse{CourseID: "course-1", Scheduled: 2}, decode[api.GenerateResponse](t, rec))

	rec = a.do(t, http.MethodPost, "/api/tasks/course-1/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Zero(t, decode[api.GenerateResponse](t, rec).Scheduled, "nothing new to schedule")
}

func TestGenerateSingleNode(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.seedCourse(t)

	rec := a.do(t, http.MethodPost, "/api/tasks/course-1/nodes/t1/content", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	first := decode[api.EnqueueResponse](t, rec)
	assert.True(t, first.Added)
	assert.Equal(t, task.KindContent, first.Item.Kind)
	assert.Equal(t, "t1", first.Item.TargetNodeID)

	rec = a.do(t, http.MethodPost, "/api/tasks/course-1/nodes/t1/content", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[api.EnqueueResponse](t, rec)
	assert.False(t, again.Added)
	assert.Equal(t, first.Item.UUID, again.Item.UUID)

	rec = a.do(t, http.MethodPost, "/api/tasks/course-1/nodes/s1/subchapters", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, task.KindSubchapter, decode[api.EnqueueResponse](t, rec).Item.Kind)

	rec = a.do(t, http.MethodPost, "/api/tasks/course-1/nodes/nope/content", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Node not found", decode[shared.ErrorResponse](t, rec).Error)
}

func TestGenerateContentCarriesRequirement(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.seedCourse(t)

	rec := a.do(t, http.MethodPost, "/api/tasks/course-1/nodes/t2/content",
		api.GenerateContentRequest{Requirement: "  use byte-level examples "})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "use byte-level examples", decode[api.EnqueueResponse](t, rec).Item.Requirement)

	rec = a.do(t, http.MethodPost, "/api/tasks/course-1/nodes/t1/content", map[string]int{"requirement": 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtendNode(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.seedCourse(t)
	require.NoError(t, a.engine.UpdateNodeContent(context.Background(), "course-1", "t1", "Integers are whole numbers."))

	rec := a.do(t, http.MethodPost, "/api/tasks/course-1/nodes/t1/extend", api.ExtendNodeRequest{Requirement: "add overflow"})
	require.Equal(t, http.StatusOK, rec.Code)
	node := decode[domain.Node](t, rec)
	assert.Equal(t, "Integers are whole numbers.\n\nMore on Integers.", node.Content)
	assert.Equal(t, domain.NodeKindExtend, node.Kind)

	calls := a.service.ExtendCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "add overflow", calls[0].UserRequirement)
	assert.Equal(t, "Integers are whole numbers.", calls[0].CurrentContent)

	rec = a.do(t, http.MethodPost, "/api/tasks/course-1/nodes/t1/extend", api.ExtendNodeRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/tasks/course-1/nodes/nope/extend", api.ExtendNodeRequest{Requirement: "more"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditAndDeleteNodes(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.seedCourse(t)

	rec := a.do(t, http.MethodPut, "/api/tasks/course-1/nodes/t1", api.UpdateNodeContentRequest{Content: "Integers are whole numbers."})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := a.engine.Task("course-1")
	require.NoError(t, err)
	i := domain.FindNode(got.Nodes, "t1")
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, "Integers are whole numbers.", got.Nodes[i].Content)

	rec = a.do(t, http.MethodDelete, "/api/tasks/course-1/nodes/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[api.DeleteNodeResponse](t, rec).Removed)

	rec = a.do(t, http.MethodDelete, "/api/tasks/course-1/nodes/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/tasks/course-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err = a.engine.Task("course-1")
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestRetryItem(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.seedCourse(t)

	rec := a.do(t, http.MethodPost, "/api/queue/nope/retry", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	item, _, err := a.engine.GenerateNodeContent(context.Background(), "course-1", "t1", "")
	require.NoError(t, err)
	rec = a.do(t, http.MethodPost, "/api/queue/"+item.UUID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "pending items cannot be retried")
}

func TestSetView(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.seedCourse(t)

	rec := a.do(t, http.MethodPut, "/api/view", api.SetViewRequest{CourseID: "course-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[task.View](t, rec)
	assert.Equal(t, "course-1", view.CourseID)
	assert.Len(t, view.Nodes, 4)
	require.Len(t, view.Tree, 1)
	assert.Equal(t, "c1", view.Tree[0].ID)
	require.Len(t, view.Tree[0].Children, 1)
	assert.Len(t, view.Tree[0].Children[0].Children, 2)

	rec = a.do(t, http.MethodPut, "/api/view", api.SetViewRequest{CourseID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPut, "/api/view", api.SetViewRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[task.View](t, rec).CourseID)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.seedCourse(t)

	rec := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = a.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coursegen_test_engine_events_total")
}
