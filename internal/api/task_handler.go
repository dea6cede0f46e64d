package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/coursegen/internal/api/shared"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/phrazzld/coursegen/internal/task"
)

// TaskEngine is the part of *task.Engine the HTTP layer drives.
type TaskEngine interface {
	StartCourse(ctx context.Context, req generation.CourseRequest) (*task.Task, error)
	Tasks() []*task.Task
	Task(courseID string) (*task.Task, error)
	Pause(ctx context.Context, courseID string) error
	Resume(ctx context.Context, courseID string) error
	DeleteTask(ctx context.Context, courseID string) error
	GenerateFullDetails(ctx context.Context, courseID string) (int, error)
	GenerateSubchapters(ctx context.Context, courseID, nodeID string) (task.QueueItem, bool, error)
	GenerateNodeContent(ctx context.Context, courseID, nodeID, requirement string) (task.QueueItem, bool, error)
	ExtendNodeContent(ctx context.Context, courseID, nodeID, requirement string) (domain.Node, error)
	DeleteNode(ctx context.Context, courseID, nodeID string) (int, error)
	UpdateNodeContent(ctx context.Context, courseID, nodeID, content string) error
	Queue() []task.QueueItem
	Processing() bool
	Retry(ctx context.Context, itemUUID string) (task.QueueItem, error)
	View() task.View
	SetView(ctx context.Context, courseID string) (task.View, error)
}

// TaskHandler handles course generation requests.
type TaskHandler struct {
	engine TaskEngine
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(engine TaskEngine, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		engine: engine,
		logger: logger.With("component", "task_handler"),
	}
}

func (h *TaskHandler) log(r *http.Request) *slog.Logger {
	return logger.FromContextOrDefault(r.Context(), h.logger)
}

// StartCourse handles POST /api/courses. The outline is created in the
// foreground and the rest of the course is scheduled.
func (h *TaskHandler) StartCourse(w http.ResponseWriter, r *http.Request) {
	var req generation.CourseRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.engine.StartCourse(r.Context(), req)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create course")
		return
	}

	h.log(r).Info("course started",
		"course_id", t.ID,
		"difficulty", string(req.Difficulty),
		"node_count", len(t.Nodes))
	shared.RespondWithJSON(w, r, http.StatusCreated, t)
}

// ListTasks handles GET /api/tasks
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.engine.Tasks())
}

// GetTask handles GET /api/tasks/{courseID}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	params, ok := pathParams(w, r, "courseID")
	if !ok {
		return
	}
	t, err := h.engine.Task(params[0])
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, t)
}

// DeleteTask handles DELETE /api/tasks/{courseID}
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	params, ok := pathParams(w, r, "courseID")
	if !ok {
		return
	}
	if err := h.engine.DeleteTask(r.Context(), params[0]); err != nil {
		HandleAPIError(w, r, err, "Failed to delete course")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}

// PauseTask handles POST /api/tasks/{courseID}/pause
func (h *TaskHandler) PauseTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Pause, "Failed to pause course")
}

// ResumeTask handles POST /api/tasks/{courseID}/resume
func (h *TaskHandler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Resume, "Failed to resume course")
}

func (h *TaskHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	apply func(context.Context, string) error,
	failure string,
) {
	params, ok := pathParams(w, r, "courseID")
	if !ok {
		return
	}
	if err := apply(r.Context(), params[0]); err != nil {
		HandleAPIError(w, r, err, failure)
		return
	}
	t, err := h.engine.Task(params[0])
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, t)
}

// GenerateCourse handles POST /api/tasks/{courseID}/generate, scheduling
// every missing piece of the course.
func (h *TaskHandler) GenerateCourse(w http.ResponseWriter, r *http.Request) {
	params, ok := pathParams(w, r, "courseID")
	if !ok {
		return
	}
	n, err := h.engine.GenerateFullDetails(r.Context(), params[0])
	if err != nil {
		HandleAPIError(w, r, err, "Failed to schedule generation")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, GenerateResponse{CourseID: params[0], Scheduled: n})
}

// GenerateSubchapters handles POST /api/tasks/{courseID}/nodes/{nodeID}/subchapters
func (h *TaskHandler) GenerateSubchapters(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, h.engine.GenerateSubchapters)
}

// GenerateContent handles POST /api/tasks/{courseID}/nodes/{nodeID}/content.
// The body is optional and may carry a rewrite requirement.
func (h *TaskHandler) GenerateContent(w http.ResponseWriter, r *http.Request) {
	var req GenerateContentRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, &req) {
		return
	}
	h.enqueue(w, r, func(ctx context.Context, courseID, nodeID string) (task.QueueItem, bool, error) {
		return h.engine.GenerateNodeContent(ctx, courseID, nodeID, req.Requirement)
	})
}

// ExtendNode handles POST /api/tasks/{courseID}/nodes/{nodeID}/extend. The
// extension is generated in the foreground and returned with the node.
func (h *TaskHandler) ExtendNode(w http.ResponseWriter, r *http.Request) {
	params, ok := pathParams(w, r, "courseID", "nodeID")
	if !ok {
		return
	}
	var req ExtendNodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	node, err := h.engine.ExtendNodeContent(r.Context(), params[0], params[1], req.Requirement)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to extend node")
		return
	}
	h.log(r).Info("node extended", "course_id", params[0], "node_id", node.ID)
	shared.RespondWithJSON(w, r, http.StatusOK, node)
}

func (h *TaskHandler) enqueue(
	w http.ResponseWriter,
	r *http.Request,
	schedule func(context.Context, string, string) (task.QueueItem, bool, error),
) {
	params, ok := pathParams(w, r, "courseID", "nodeID")
	if !ok {
		return
	}
	item, added, err := schedule(r.Context(), params[0], params[1])
	if err != nil {
		HandleAPIError(w, r, err, "Failed to schedule generation")
		return
	}
	status := http.StatusAccepted
	if !added {
		status = http.StatusOK
	}
	shared.RespondWithJSON(w, r, status, EnqueueResponse{Item: item, Added: added})
}

// UpdateNodeContent handles PUT /api/tasks/{courseID}/nodes/{nodeID}
func (h *TaskHandler) UpdateNodeContent(w http.ResponseWriter, r *http.Request) {
	params, ok := pathParams(w, r, "courseID", "nodeID")
	if !ok {
		return
	}
	var req UpdateNodeContentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.engine.UpdateNodeContent(r.Context(), params[0], params[1], req.Content); err != nil {
		HandleAPIError(w, r, err, "Failed to update node")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}

// DeleteNode handles DELETE /api/tasks/{courseID}/nodes/{nodeID}
func (h *TaskHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	params, ok := pathParams(w, r, "courseID", "nodeID")
	if !ok {
		return
	}
	removed, err := h.engine.DeleteNode(r.Context(), params[0], params[1])
	if err != nil {
		HandleAPIError(w, r, err, "Failed to delete node")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, DeleteNodeResponse{Removed: removed})
}

// ListQueue handles GET /api/queue
func (h *TaskHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, QueueResponse{
		Items:      h.engine.Queue(),
		Processing: h.engine.Processing(),
	})
}

// RetryItem handles POST /api/queue/{uuid}/retry
func (h *TaskHandler) RetryItem(w http.ResponseWriter, r *http.Request) {
	params, ok := pathParams(w, r, "uuid")
	if !ok {
		return
	}
	item, err := h.engine.Retry(r.Context(), params[0])
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry item")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, EnqueueResponse{Item: item, Added: true})
}

// GetView handles GET /api/view
func (h *TaskHandler) GetView(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.engine.View())
}

// SetView handles PUT /api/view
func (h *TaskHandler) SetView(w http.ResponseWriter, r *http.Request) {
	var req SetViewRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	v, err := h.engine.SetView(r.Context(), req.CourseID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to change view")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, v)
}
