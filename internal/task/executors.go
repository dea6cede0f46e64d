package task

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/stream"
)

// headerPattern matches a Markdown ATX header line.
var headerPattern = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+?)[ \t#]*$`)

// ParseHeaders returns the titles of the Markdown headers in content, in
// order.
func ParseHeaders(content string) []string {
	var titles []string
	for _, m := range headerPattern.FindAllStringSubmatch(content, -1) {
		if title := strings.TrimSpace(m[1]); title != "" {
			titles = append(titles, title)
		}
	}
	return titles
}

// target looks up the task and node of an item and returns copies.
func (e *Engine) target(item QueueItem) (*Task, domain.Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.taskLocked(item.CourseID)
	if err != nil {
		return nil, domain.Node{}, err
	}
	if t.StopRequested {
		return nil, domain.Node{}, ErrStopRequested
	}
	n, err := t.node(item.TargetNodeID)
	if err != nil {
		return nil, domain.Node{}, err
	}
	return t.Clone(), *n, nil
}

// DefaultRequirement is sent with content items that carry no requirement
// of their own.
const DefaultRequirement = "Write a detailed, textbook-quality body for this section"

// followUp picks the kind of the item queued for a newly attached node.
type followUp func(t *Task, n domain.Node) ItemKind

// outlineFollowUp continues the outline: sections of courses that expand
// them get their own structure pass, everything else is written.
func outlineFollowUp(t *Task, n domain.Node) ItemKind {
	if n.Level == 2 && t.expandsSections() {
		return KindStructure
	}
	return KindContent
}

// contentFollowUp writes every new node.
func contentFollowUp(*Task, domain.Node) ItemKind {
	return KindContent
}

// attach appends new nodes under parentID and enqueues follow-up work for
// each. Nodes whose ID is already present are skipped, and so are nodes that
// fail validation; when nothing valid is left the result is an
// ErrInvalidResponse.
func (e *Engine) attach(
	ctx context.Context,
	courseID, parentID string,
	nodes []domain.Node,
	next followUp,
) (int, error) {
	e.mu.Lock()
	t, err := e.taskLocked(courseID)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	parent, err := t.node(parentID)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	parentLevel := parent.Level

	var added []QueueItem
	var invalid []error
	attached := 0
	for _, n := range nodes {
		if n.ParentID == "" {
			n.ParentID = parentID
		}
		if n.Level == 0 {
			n.Level = parentLevel + 1
		}
		if n.Kind == "" {
			n.Kind = domain.NodeKindOriginal
		}
		if err := n.Validate(); err != nil {
			invalid = append(invalid, fmt.Errorf("node %q: %w", n.ID, err))
			continue
		}
		if domain.FindNode(t.Nodes, n.ID) >= 0 {
			continue
		}
		t.Nodes = append(t.Nodes, n)
		attached++

		kind := next(t, n)
		if item, ok := e.enqueueLocked(EnqueueRequest{
			CourseID:     courseID,
			Kind:         kind,
			TargetNodeID: n.ID,
			Title:        itemTitle(kind, &n),
		}); ok {
			added = append(added, item)
		}
	}
	if len(invalid) > 0 && len(invalid) == len(nodes) {
		e.mu.Unlock()
		return 0, fmt.Errorf("%w: %w", generation.ErrInvalidResponse, errors.Join(invalid...))
	}
	t.logf(e.now(), "Added %d nodes under %s", attached, parentID)
	if e.view.CourseID == courseID {
		e.mergeViewLocked(t)
	}
	e.mu.Unlock()

	for _, err := range invalid {
		e.logger.WarnContext(ctx, "dropped invalid node",
			"course_id", courseID,
			"parent_id", parentID,
			"error", err)
	}
	e.persist(ctx)
	e.emit(ctx, events.NodesChanged, courseID, nil)
	for _, item := range added {
		e.emit(ctx, events.ItemEnqueued, courseID, itemPayload(item))
	}
	return attached, nil
}

// executeStructure expands a node into children.
func (e *Engine) executeStructure(ctx context.Context, item QueueItem) error {
	_, node, err := e.target(item)
	if err != nil {
		return err
	}
	return e.expand(ctx, item.CourseID, node, outlineFollowUp)
}

func (e *Engine) expand(ctx context.Context, courseID string, node domain.Node, next followUp) error {
	children, err := e.service.ExpandNode(ctx, courseID, node)
	if err != nil {
		return fmt.Errorf("expand %q: %w", node.Name, err)
	}
	_, err = e.attach(ctx, courseID, node.ID, children, next)
	return err
}

// executeSubchapter splits a node into children, one per Markdown header of
// its content that is not yet a child. Without such headers the node is
// expanded remotely instead. The new children are always written, never
// outlined further.
func (e *Engine) executeSubchapter(ctx context.Context, item QueueItem) error {
	t, node, err := e.target(item)
	if err != nil {
		return err
	}

	existing := make(map[string]bool)
	for _, child := range domain.ChildrenOf(t.Nodes, node.ID) {
		existing[child.Name] = true
	}
	var titles []string
	for _, h := range ParseHeaders(node.Content) {
		if h == node.Name || existing[h] {
			continue
		}
		existing[h] = true
		titles = append(titles, h)
	}

	if len(titles) == 0 {
		return e.expand(ctx, item.CourseID, node, contentFollowUp)
	}

	// a failed header does not stop the others
	var created []domain.Node
	var failures []error
	for _, title := range titles {
		if e.stopRequested(item.CourseID) {
			failures = append(failures, ErrStopRequested)
			break
		}
		n, err := e.service.CreateNode(ctx, item.CourseID, generation.NodeRequest{
			ParentNodeID: node.ID,
			NodeName:     title,
			NodeLevel:    node.Level + 1,
		})
		if err != nil {
			e.logger.WarnContext(ctx, "subchapter creation failed",
				"course_id", item.CourseID,
				"node_id", node.ID,
				"title", title,
				"error", err)
			failures = append(failures, fmt.Errorf("create subchapter %q: %w", title, err))
			continue
		}
		n.ParentID = node.ID
		created = append(created, *n)
	}

	if len(created) > 0 {
		if _, err := e.attach(ctx, item.CourseID, node.ID, created, contentFollowUp); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// executeContent streams new content for a node. The previous content is
// cleared first; on failure or pause whatever arrived stays in place.
func (e *Engine) executeContent(ctx context.Context, item QueueItem) error {
	req, err := e.beginContent(item)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.streams[item.CourseID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.streams, item.CourseID)
		e.mu.Unlock()
	}()

	body, err := e.service.StreamNodeContent(streamCtx, item.CourseID, req)
	if err != nil {
		return e.contentError(ctx, item, fmt.Errorf("open content stream: %w", err))
	}
	defer body.Close()
	// a blocked read returns once the body is closed
	stop := context.AfterFunc(streamCtx, func() { _ = body.Close() })
	defer stop()

	parser := stream.NewParser(stream.WithoutMetadata())
	err = stream.Pump(streamCtx, body, parser, stream.PumpOptions{
		Stop: func() bool { return e.stopRequested(item.CourseID) },
		OnDelta: func(delta string) error {
			return e.appendContent(item.CourseID, item.TargetNodeID, delta)
		},
	})
	if err != nil {
		return e.contentError(ctx, item, fmt.Errorf("read content stream: %w", err))
	}
	return nil
}

// contentError maps cancellation caused by a pause to ErrStopRequested.
func (e *Engine) contentError(ctx context.Context, item QueueItem, err error) error {
	if errors.Is(err, stream.ErrStopped) {
		return ErrStopRequested
	}
	if ctx.Err() == nil && (errors.Is(err, context.Canceled) || e.stopRequested(item.CourseID)) {
		return ErrStopRequested
	}
	return err
}

// beginContent clears the node and builds the content request.
func (e *Engine) beginContent(item QueueItem) (generation.ContentRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.taskLocked(item.CourseID)
	if err != nil {
		return generation.ContentRequest{}, err
	}
	if t.StopRequested {
		return generation.ContentRequest{}, ErrStopRequested
	}
	n, err := t.node(item.TargetNodeID)
	if err != nil {
		return generation.ContentRequest{}, err
	}

	requirement := item.Requirement
	if requirement == "" {
		requirement = DefaultRequirement
	}
	// the node is cleared before the request, so the rewrite starts blank
	req := generation.ContentRequest{
		NodeID:          n.ID,
		NodeName:        n.Name,
		UserRequirement: requirement,
		CourseContext:   domain.Outline(t.Nodes, 0),
		PreviousContext: tail(previousContent(t.Nodes, n.ID), e.config.PreviousContextChars),
	}

	n.Content = ""
	n.Kind = domain.NodeKindCustom
	if e.view.CourseID == item.CourseID {
		e.setViewContentLocked(n.ID, "")
		if i := domain.FindNode(e.view.Nodes, n.ID); i >= 0 {
			e.view.Nodes[i].Kind = domain.NodeKindCustom
		}
	}
	return req, nil
}

// appendContent adds streamed text to the task node and, when the course is
// viewed, queues it for reveal.
func (e *Engine) appendContent(courseID, nodeID, delta string) error {
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
	n.Content += delta

	key := ""
	if e.view.CourseID == courseID {
		key = typewriterKey(e.view.epoch, courseID, nodeID)
	}
	e.mu.Unlock()

	if key != "" {
		e.tw.Append(key, delta)
	}
	return nil
}

func (e *Engine) stopRequested(courseID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[courseID]
	return ok && t.StopRequested
}

// previousContent returns the content of the node that precedes nodeID in
// reading order.
func previousContent(nodes []domain.Node, nodeID string) string {
	prev := ""
	for _, n := range domain.Linearize(nodes) {
		if n.ID == nodeID {
			return prev
		}
		if strings.TrimSpace(n.Content) != "" {
			prev = n.Content
		}
	}
	return ""
}

// tail returns the last max runes of s.
func tail(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[len(r)-max:])
}
