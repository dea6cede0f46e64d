package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/store"
	"github.com/phrazzld/coursegen/internal/typewriter"
)

// Config holds the tunables of an Engine.
type Config struct {
	// QueueYield is the pause between two items
	QueueYield time.Duration

	// PreviousContextChars bounds the tail of the previous section sent as
	// context with a content request
	PreviousContextChars int

	// Typewriter paces content reveal for the viewed course
	Typewriter typewriter.Config
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		QueueYield:           50 * time.Millisecond,
		PreviousContextChars: 300,
		Typewriter:           typewriter.DefaultConfig(),
	}
}

// Executor performs one queue item.
type Executor func(ctx context.Context, item QueueItem) error

// Option customizes an Engine.
type Option func(*Engine)

// WithExecutor replaces the executor of a kind.
func WithExecutor(kind ItemKind, exec Executor) Option {
	return func(e *Engine) {
		e.executors[kind] = exec
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithEmitter sets where engine events are published.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		e.emitter = emitter
	}
}

// Engine owns the tasks, the work queue and the viewed course. All state is
// guarded by mu; network I/O always happens without it.
type Engine struct {
	service   generation.Service
	snapshots store.SnapshotStore
	emitter   events.Emitter
	config    Config
	logger    *slog.Logger
	now       func() time.Time
	executors map[ItemKind]Executor
	tw        *typewriter.Throttle

	mu         sync.Mutex
	tasks      map[string]*Task
	order      []string
	queue      *queue
	view       viewState
	running    bool
	processing bool
	current    *QueueItem
	// streams cancels the in-flight stream of a course
	streams map[string]context.CancelFunc

	wake      chan struct{}
	persistMu sync.Mutex
}

// New creates an Engine. Call Restore before Run to load persisted state,
// and Close when done.
func New(
	service generation.Service,
	snapshots store.SnapshotStore,
	config Config,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if config.QueueYield < 0 {
		config.QueueYield = 0
	}
	if config.PreviousContextChars < 0 {
		config.PreviousContextChars = 0
	}

	e := &Engine{
		service:   service,
		snapshots: snapshots,
		config:    config,
		logger:    logger.With("component", "generation_engine"),
		now:       func() time.Time { return time.Now().UTC() },
		tasks:     make(map[string]*Task),
		queue:     newQueue(),
		streams:   make(map[string]context.CancelFunc),
		wake:      make(chan struct{}, 1),
	}
	e.executors = map[ItemKind]Executor{
		KindStructure:  e.executeStructure,
		KindContent:    e.executeContent,
		KindSubchapter: e.executeSubchapter,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tw = typewriter.New(typewriter.SinkFunc(e.reveal), e.generatingViewed, config.Typewriter, logger)
	return e
}

// Close stops the typewriter. It does not stop Run; cancel its context.
func (e *Engine) Close() {
	e.tw.Close()
}

// signal wakes the Run loop if it is waiting.
func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) emit(ctx context.Context, eventType events.Type, courseID string, payload any) {
	if e.emitter == nil {
		return
	}
	event, err := events.New(eventType, courseID, payload)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to build event", "event_type", eventType, "error", err)
		return
	}
	if err := e.emitter.EmitEvent(ctx, event); err != nil {
		e.logger.DebugContext(ctx, "event handler failed", "event_type", eventType, "error", err)
	}
}

func taskPayload(t *Task) events.TaskPayload {
	return events.TaskPayload{Status: string(t.Status), Progress: t.Progress, CurrentStep: t.CurrentStep}
}

func itemPayload(item QueueItem) events.ItemPayload {
	return events.ItemPayload{
		UUID:         item.UUID,
		Kind:         string(item.Kind),
		TargetNodeID: item.TargetNodeID,
		Title:        item.Title,
		Status:       string(item.Status),
		ErrorMessage: item.ErrorMessage,
	}
}

func (e *Engine) taskLocked(courseID string) (*Task, error) {
	t, ok := e.tasks[courseID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, courseID)
	}
	return t, nil
}

// CreateTask inserts an idle task for courseID with a deep copy of nodes.
// An existing task for the course is replaced.
func (e *Engine) CreateTask(
	ctx context.Context,
	courseID, name string,
	nodes []domain.Node,
	opts ...TaskOption,
) (*Task, error) {
	if courseID == "" {
		return nil, fmt.Errorf("%w: course id is required", domain.ErrValidation)
	}
	now := e.now()
	t := &Task{
		ID:          courseID,
		DisplayName: name,
		Status:      StatusIdle,
		Nodes:       domain.CloneNodes(nodes),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logf(now, "Task created with %d nodes", len(nodes))

	e.mu.Lock()
	if _, exists := e.tasks[courseID]; !exists {
		e.order = append(e.order, courseID)
	}
	e.tasks[courseID] = t
	if e.view.CourseID == courseID {
		e.resyncViewLocked(t)
	}
	out := t.Clone()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "task created", "course_id", courseID, "node_count", len(nodes))
	e.persist(ctx)
	e.emit(ctx, events.TaskUpdated, courseID, taskPayload(out))
	return out, nil
}

// Pause stops generation for a course. The running stream of the course, if
// any, is cancelled at once; its partial content stays in place.
func (e *Engine) Pause(ctx context.Context, courseID string) error {
	e.mu.Lock()
	t, err := e.taskLocked(courseID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	t.Status = StatusPaused
	t.StopRequested = true
	t.logf(e.now(), "Generation paused")
	if cancel, ok := e.streams[courseID]; ok {
		cancel()
	}
	viewed := e.view.CourseID == courseID
	if viewed {
		e.view.Indicator = IndicatorPaused
	}
	payload := taskPayload(t)
	e.mu.Unlock()

	if viewed {
		// drop text still waiting to be revealed; the resync below shows
		// everything that was delivered
		e.tw.Stop()
		e.mu.Lock()
		if t, ok := e.tasks[courseID]; ok && e.view.CourseID == courseID {
			e.resyncViewLocked(t)
		}
		e.mu.Unlock()
	}

	e.logger.InfoContext(ctx, "generation paused", "course_id", courseID)
	e.persist(ctx)
	e.emit(ctx, events.TaskUpdated, courseID, payload)
	return nil
}

// Resume restarts generation for a course. When the course has no pending
// items left the remaining work is derived again from its nodes. An item
// still unwinding from the pause is queued again once it finishes.
func (e *Engine) Resume(ctx context.Context, courseID string) error {
	e.mu.Lock()
	t, err := e.taskLocked(courseID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	stopped := t.StopRequested
	t.Status = StatusRunning
	t.StopRequested = false
	t.logf(e.now(), "Generation resumed")

	// a running item of the course was cancelled by the pause and is not
	// remaining work
	active := e.queue.activeFor(courseID)
	if stopped && e.current != nil && e.current.CourseID == courseID {
		active--
	}
	var added []QueueItem
	if active == 0 {
		added = e.seedLocked(t)
		t.logf(e.now(), "Derived %d remaining steps", len(added))
	}
	if e.view.CourseID == courseID {
		e.view.Indicator = IndicatorGenerating
	}
	payload := taskPayload(t)
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "generation resumed", "course_id", courseID, "derived_items", len(added))
	e.signal()
	e.persist(ctx)
	e.emit(ctx, events.TaskUpdated, courseID, payload)
	for _, item := range added {
		e.emit(ctx, events.ItemEnqueued, courseID, itemPayload(item))
	}
	return nil
}

// FinalizeIfIdle completes every running task that has no pending or running
// items left.
func (e *Engine) FinalizeIfIdle(ctx context.Context) {
	e.mu.Lock()
	finished := e.finalizeLocked()
	e.mu.Unlock()

	if len(finished) == 0 {
		return
	}
	e.persist(ctx)
	for _, t := range finished {
		e.logger.InfoContext(ctx, "generation completed", "course_id", t.ID)
		e.emit(ctx, events.TaskUpdated, t.ID, taskPayload(t))
	}
}

func (e *Engine) finalizeLocked() []*Task {
	var finished []*Task
	for _, id := range e.order {
		t := e.tasks[id]
		if t.Status != StatusRunning || e.queue.activeFor(id) > 0 {
			continue
		}
		t.Status = StatusCompleted
		t.Progress = 100
		t.CurrentStep = ""
		t.logf(e.now(), "Generation completed")
		if e.view.CourseID == id {
			e.view.Indicator = IndicatorIdle
			e.view.CurrentNodeID = ""
			e.view.CurrentStep = ""
		}
		finished = append(finished, t.Clone())
	}
	return finished
}

// DeleteTask removes a course's task and its queued items. A running item of
// the course is cancelled and fails once its executor notices.
func (e *Engine) DeleteTask(ctx context.Context, courseID string) error {
	e.mu.Lock()
	if _, err := e.taskLocked(courseID); err != nil {
		e.mu.Unlock()
		return err
	}
	delete(e.tasks, courseID)
	for i, id := range e.order {
		if id == courseID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	removed := e.queue.remove(func(item *QueueItem) bool { return item.CourseID == courseID })
	if cancel, ok := e.streams[courseID]; ok {
		cancel()
	}
	viewed := e.view.CourseID == courseID
	if viewed {
		e.view = viewState{epoch: e.view.epoch + 1}
	}
	e.mu.Unlock()

	if viewed {
		e.tw.Stop()
	}
	e.logger.InfoContext(ctx, "task deleted", "course_id", courseID, "removed_items", removed)
	e.persist(ctx)
	e.emit(ctx, events.TaskDeleted, courseID, nil)
	return nil
}

// Task returns a copy of the task of a course.
func (e *Engine) Task(courseID string) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.taskLocked(courseID)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Tasks returns copies of all tasks in creation order.
func (e *Engine) Tasks() []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Task, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.tasks[id].Clone())
	}
	return out
}

// Queue returns copies of all queue items in order.
func (e *Engine) Queue() []QueueItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.list()
}

// Processing reports whether an item is executing.
func (e *Engine) Processing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processing
}

// DeleteNode removes a node and its descendants from a course. Pending items
// that target removed nodes are dropped.
func (e *Engine) DeleteNode(ctx context.Context, courseID, nodeID string) (int, error) {
	e.mu.Lock()
	t, err := e.taskLocked(courseID)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	if _, err := t.node(nodeID); err != nil {
		e.mu.Unlock()
		return 0, err
	}

	gone := map[string]bool{nodeID: true}
	for _, id := range domain.DescendantIDs(t.Nodes, nodeID) {
		gone[id] = true
	}
	var removed int
	t.Nodes, removed = domain.RemoveSubtree(t.Nodes, nodeID)
	dropped := e.queue.remove(func(item *QueueItem) bool {
		return item.CourseID == courseID && item.Status == ItemPending && gone[item.TargetNodeID]
	})
	t.logf(e.now(), "Deleted node %s and %d descendants", nodeID, removed-1)
	if e.view.CourseID == courseID {
		e.mergeViewLocked(t)
	}
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "node deleted",
		"course_id", courseID,
		"node_id", nodeID,
		"removed_nodes", removed,
		"dropped_items", dropped)
	e.persist(ctx)
	e.emit(ctx, events.NodesChanged, courseID, nil)
	return removed, nil
}

// UpdateNodeContent replaces the content of a node with user text.
func (e *Engine) UpdateNodeContent(ctx context.Context, courseID, nodeID, content string) error {
	e.mu.Lock()
	t, err := e.taskLocked(courseID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	n, err := t.node(nodeID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	n.Content = content
	n.Kind = domain.NodeKindCustom
	t.UpdatedAt = e.now()
	if e.view.CourseID == courseID {
		e.setViewContentLocked(nodeID, content)
	}
	e.mu.Unlock()

	e.persist(ctx)
	e.emit(ctx, events.NodesChanged, courseID, nil)
	return nil
}

// EnqueueRequest describes an item to schedule.
type EnqueueRequest struct {
	CourseID     string
	Kind         ItemKind
	TargetNodeID string
	// Title defaults to "<kind>: <node name>"
	Title string
	// Requirement steers a content rewrite; empty means DefaultRequirement
	Requirement string
}

// Enqueue schedules an item and wakes the scheduler. When an equivalent item
// is already pending or running the queue is unchanged and that item is
// returned with added false.
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (QueueItem, bool, error) {
	if !req.Kind.Valid() {
		return QueueItem{}, false, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	e.mu.Lock()
	t, err := e.taskLocked(req.CourseID)
	if err != nil {
		e.mu.Unlock()
		return QueueItem{}, false, err
	}
	n, err := t.node(req.TargetNodeID)
	if err != nil {
		e.mu.Unlock()
		return QueueItem{}, false, err
	}
	if req.Title == "" {
		req.Title = itemTitle(req.Kind, n)
	}
	item, added := e.enqueueLocked(req)
	e.mu.Unlock()

	if added {
		e.signal()
		e.persist(ctx)
		e.emit(ctx, events.ItemEnqueued, item.CourseID, itemPayload(item))
	}
	return item, added, nil
}

// enqueueLocked appends a pending item unless it duplicates an active one.
func (e *Engine) enqueueLocked(req EnqueueRequest) (QueueItem, bool) {
	now := e.now()
	item, added := e.queue.add(&QueueItem{
		UUID:         uuid.NewString(),
		CourseID:     req.CourseID,
		Kind:         req.Kind,
		TargetNodeID: req.TargetNodeID,
		Title:        req.Title,
		Requirement:  req.Requirement,
		Status:       ItemPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	return *item, added
}

func itemTitle(kind ItemKind, n *domain.Node) string {
	switch kind {
	case KindStructure:
		return "Outline: " + n.Name
	case KindSubchapter:
		return "Subchapters: " + n.Name
	default:
		return "Content: " + n.Name
	}
}

// Retry schedules a fresh copy of a failed item. The failed item stays in
// the queue as history.
func (e *Engine) Retry(ctx context.Context, itemUUID string) (QueueItem, error) {
	e.mu.Lock()
	old := e.queue.get(itemUUID)
	if old == nil {
		e.mu.Unlock()
		return QueueItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemUUID)
	}
	if old.Status != ItemError {
		e.mu.Unlock()
		return QueueItem{}, fmt.Errorf("%w: item %s is %s", ErrItemNotRetryable, itemUUID, old.Status)
	}
	t, err := e.taskLocked(old.CourseID)
	if err != nil {
		e.mu.Unlock()
		return QueueItem{}, err
	}
	item, added := e.enqueueLocked(EnqueueRequest{
		CourseID:     old.CourseID,
		Kind:         old.Kind,
		TargetNodeID: old.TargetNodeID,
		Title:        old.Title,
		Requirement:  old.Requirement,
	})
	if t.Status != StatusPaused {
		t.Status = StatusRunning
	}
	t.logf(e.now(), "Retrying: %s", old.Title)
	payload := taskPayload(t)
	e.mu.Unlock()

	e.signal()
	e.persist(ctx)
	e.emit(ctx, events.TaskUpdated, item.CourseID, payload)
	if added {
		e.emit(ctx, events.ItemEnqueued, item.CourseID, itemPayload(item))
	}
	return item, nil
}
