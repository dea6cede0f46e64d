package task

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/events"
)

// Indicator is the generation state shown for the viewed course.
type Indicator string

// Indicator values
const (
	IndicatorIdle       Indicator = "idle"
	IndicatorGenerating Indicator = "generating"
	IndicatorPaused     Indicator = "paused"
	IndicatorError      Indicator = "error"
)

// View is the user-facing copy of the course being looked at. Its nodes are
// synchronized from the task copy only while the course is viewed, and
// streamed content reaches them through the typewriter.
type View struct {
	CourseID      string        `json:"course_id"`
	Nodes         []domain.Node `json:"nodes"`
	Indicator     Indicator     `json:"indicator"`
	CurrentNodeID string        `json:"current_node_id,omitempty"`
	CurrentStep   string        `json:"current_step,omitempty"`
	// Tree nests Nodes for display. It is filled by Engine.View only.
	Tree []*domain.TreeNode `json:"tree,omitempty"`
}

type viewState struct {
	View
	// epoch changes whenever the nodes are replaced from the task copy, so
	// text queued in the typewriter before that is discarded
	epoch uint64
}

// View returns a deep copy of the view.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.view.View
	v.Nodes = domain.CloneNodes(e.view.Nodes)
	v.Tree = domain.BuildTree(v.Nodes)
	if v.Indicator == "" {
		v.Indicator = IndicatorIdle
	}
	return v
}

// SetView makes courseID the viewed course. An empty courseID clears the
// view.
func (e *Engine) SetView(ctx context.Context, courseID string) (View, error) {
	e.mu.Lock()
	prev := e.view.CourseID
	if courseID != "" {
		if _, err := e.taskLocked(courseID); err != nil {
			e.mu.Unlock()
			return View{}, err
		}
	}
	e.mu.Unlock()

	if prev != courseID {
		e.tw.Stop()
	}

	e.mu.Lock()
	if courseID == "" {
		e.view = viewState{epoch: e.view.epoch + 1}
	} else if t, ok := e.tasks[courseID]; ok {
		e.view.CourseID = courseID
		e.resyncViewLocked(t)
		e.view.Indicator, e.view.CurrentNodeID, e.view.CurrentStep = e.indicatorLocked(t)
	}
	e.mu.Unlock()

	v := e.View()
	e.persist(ctx)
	e.emit(ctx, events.ViewChanged, courseID, nil)
	return v, nil
}

func (e *Engine) indicatorLocked(t *Task) (Indicator, string, string) {
	switch {
	case e.processing && e.current != nil && e.current.CourseID == t.ID:
		return IndicatorGenerating, e.current.TargetNodeID, e.current.Title
	case t.Status == StatusPaused:
		return IndicatorPaused, "", ""
	case t.Status == StatusError:
		return IndicatorError, "", ""
	case t.Status == StatusRunning:
		return IndicatorGenerating, "", t.CurrentStep
	default:
		return IndicatorIdle, "", ""
	}
}

// resyncViewLocked replaces the viewed nodes with a copy of the task's.
func (e *Engine) resyncViewLocked(t *Task) {
	e.view.Nodes = domain.CloneNodes(t.Nodes)
	e.view.epoch++
}

// mergeViewLocked aligns the viewed node set with the task's while keeping
// the content already shown for existing nodes, which may lag behind the
// task copy until the typewriter catches up.
func (e *Engine) mergeViewLocked(t *Task) {
	shown := make(map[string]string, len(e.view.Nodes))
	for _, n := range e.view.Nodes {
		shown[n.ID] = n.Content
	}
	out := domain.CloneNodes(t.Nodes)
	for i := range out {
		if content, ok := shown[out[i].ID]; ok {
			out[i].Content = content
		}
	}
	e.view.Nodes = out
}

func (e *Engine) setViewContentLocked(nodeID, content string) {
	if i := domain.FindNode(e.view.Nodes, nodeID); i >= 0 {
		e.view.Nodes[i].Content = content
	}
}

// typewriterKey tags queued text with the view epoch and course so stale
// text is dropped on reveal.
func typewriterKey(epoch uint64, courseID, nodeID string) string {
	return fmt.Sprintf("%d\x1f%s\x1f%s", epoch, courseID, nodeID)
}

func parseTypewriterKey(key string) (uint64, string, string, bool) {
	parts := strings.SplitN(key, "\x1f", 3)
	if len(parts) != 3 {
		return 0, "", "", false
	}
	epoch, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", "", false
	}
	return epoch, parts[1], parts[2], true
}

// reveal is the typewriter sink. It runs on the typewriter goroutine.
func (e *Engine) reveal(key, text string) {
	epoch, courseID, nodeID, ok := parseTypewriterKey(key)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.view.epoch != epoch || e.view.CourseID != courseID {
		e.mu.Unlock()
		return
	}
	i := domain.FindNode(e.view.Nodes, nodeID)
	if i < 0 {
		e.mu.Unlock()
		return
	}
	e.view.Nodes[i].Content += text
	e.mu.Unlock()

	e.emit(context.Background(), events.ContentDelta, courseID, events.DeltaPayload{NodeID: nodeID, Text: text})
}

// generatingViewed is the typewriter's in-flight probe.
func (e *Engine) generatingViewed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processing && e.current != nil && e.current.CourseID == e.view.CourseID
}
