package task

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/generation"
)

// minContentRunes is the length below which a section counts as unwritten.
const minContentRunes = 50

func hasContent(n domain.Node) bool {
	return utf8.RuneCountInString(strings.TrimSpace(n.Content)) >= minContentRunes
}

// seedLocked enqueues the work still missing from a task's nodes, level by
// level in reading order:
//
//   - chapters (level 1) without children are expanded
//   - sections (level 2) without children are expanded, or written directly
//     for beginner and intermediate courses
//   - leaves at level 3 and below with little or no content are written
func (e *Engine) seedLocked(t *Task) []QueueItem {
	ordered := domain.Linearize(t.Nodes)
	maxLevel := 0
	for _, n := range ordered {
		if n.Level > maxLevel {
			maxLevel = n.Level
		}
	}

	var added []QueueItem
	enqueue := func(kind ItemKind, n domain.Node) {
		if item, ok := e.enqueueLocked(EnqueueRequest{
			CourseID:     t.ID,
			Kind:         kind,
			TargetNodeID: n.ID,
			Title:        itemTitle(kind, &n),
		}); ok {
			added = append(added, item)
		}
	}

	for level := 1; level <= maxLevel; level++ {
		for _, n := range ordered {
			if n.Level != level || domain.HasChildren(t.Nodes, n.ID) {
				continue
			}
			switch {
			case level == 1:
				enqueue(KindStructure, n)
			case level == 2 && t.expandsSections():
				enqueue(KindStructure, n)
			case !hasContent(n):
				enqueue(KindContent, n)
			}
		}
	}
	return added
}

// GenerateFullDetails derives all missing structure and content work for a
// course, marks its task running and wakes the scheduler. It returns the
// number of new items.
func (e *Engine) GenerateFullDetails(ctx context.Context, courseID string) (int, error) {
	e.mu.Lock()
	t, err := e.taskLocked(courseID)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	t.Status = StatusRunning
	t.StopRequested = false
	added := e.seedLocked(t)
	t.logf(e.now(), "Generating full details: %d steps queued", len(added))
	if e.view.CourseID == courseID {
		e.view.Indicator = IndicatorGenerating
	}
	payload := taskPayload(t)
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "full generation requested", "course_id", courseID, "items", len(added))
	e.signal()
	e.persist(ctx)
	e.emit(ctx, events.TaskUpdated, courseID, payload)
	for _, item := range added {
		e.emit(ctx, events.ItemEnqueued, courseID, itemPayload(item))
	}
	return len(added), nil
}

// GenerateSubchapters schedules splitting one node into children.
func (e *Engine) GenerateSubchapters(ctx context.Context, courseID, nodeID string) (QueueItem, bool, error) {
	return e.generateOne(ctx, EnqueueRequest{CourseID: courseID, Kind: KindSubchapter, TargetNodeID: nodeID})
}

// GenerateNodeContent schedules (re)writing the content of one node. An
// empty requirement asks for a detailed body.
func (e *Engine) GenerateNodeContent(
	ctx context.Context,
	courseID, nodeID, requirement string,
) (QueueItem, bool, error) {
	return e.generateOne(ctx, EnqueueRequest{
		CourseID:     courseID,
		Kind:         KindContent,
		TargetNodeID: nodeID,
		Requirement:  strings.TrimSpace(requirement),
	})
}

func (e *Engine) generateOne(ctx context.Context, req EnqueueRequest) (QueueItem, bool, error) {
	courseID := req.CourseID
	item, added, err := e.Enqueue(ctx, req)
	if err != nil {
		return QueueItem{}, false, err
	}

	e.mu.Lock()
	if t, ok := e.tasks[courseID]; ok && t.Status != StatusPaused {
		t.Status = StatusRunning
		t.StopRequested = false
		t.UpdatedAt = e.now()
	}
	e.mu.Unlock()
	e.signal()
	return item, added, nil
}

// ExtendNodeContent asks the service for more text on a node and appends it
// below the current content. Like course creation it is a foreground call
// and does not go through the queue.
func (e *Engine) ExtendNodeContent(ctx context.Context, courseID, nodeID, requirement string) (domain.Node, error) {
	e.mu.Lock()
	t, err := e.taskLocked(courseID)
	if err != nil {
		e.mu.Unlock()
		return domain.Node{}, err
	}
	n, err := t.node(nodeID)
	if err != nil {
		e.mu.Unlock()
		return domain.Node{}, err
	}
	req := generation.ExtendRequest{
		NodeID:          n.ID,
		NodeName:        n.Name,
		CurrentContent:  n.Content,
		UserRequirement: strings.TrimSpace(requirement),
	}
	e.mu.Unlock()

	text, err := e.service.ExtendNode(ctx, courseID, req)
	if err != nil {
		return domain.Node{}, fmt.Errorf("extend %q: %w", req.NodeName, err)
	}

	e.mu.Lock()
	t, err = e.taskLocked(courseID)
	if err != nil {
		e.mu.Unlock()
		return domain.Node{}, err
	}
	n, err = t.node(nodeID)
	if err != nil {
		e.mu.Unlock()
		return domain.Node{}, err
	}
	if n.Content == "" {
		n.Content = text
	} else {
		n.Content += "\n\n" + text
	}
	n.Kind = domain.NodeKindExtend
	now := e.now()
	t.UpdatedAt = now
	t.logf(now, "Extended: %s", n.Name)
	if e.view.CourseID == courseID {
		e.setViewContentLocked(n.ID, n.Content)
		if i := domain.FindNode(e.view.Nodes, n.ID); i >= 0 {
			e.view.Nodes[i].Kind = domain.NodeKindExtend
		}
	}
	out := *n
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "node extended",
		"course_id", courseID,
		"node_id", nodeID,
		"appended_chars", len(text))
	e.persist(ctx)
	e.emit(ctx, events.NodesChanged, courseID, nil)
	return out, nil
}

// StartCourse creates a course through the generation service, makes it the
// viewed course and schedules its full generation. The creation call is a
// foreground request and does not go through the queue.
func (e *Engine) StartCourse(ctx context.Context, req generation.CourseRequest) (*Task, error) {
	skel, err := e.service.CreateCourse(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}
	for i := range skel.Nodes {
		if skel.Nodes[i].Kind == "" {
			skel.Nodes[i].Kind = domain.NodeKindOriginal
		}
	}

	if _, err := e.CreateTask(ctx, skel.CourseID, skel.CourseName, skel.Nodes, WithDifficulty(req.Difficulty)); err != nil {
		return nil, err
	}
	if _, err := e.SetView(ctx, skel.CourseID); err != nil {
		return nil, err
	}
	if _, err := e.GenerateFullDetails(ctx, skel.CourseID); err != nil {
		return nil, err
	}
	return e.Task(skel.CourseID)
}
