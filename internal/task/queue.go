package task

import (
	"time"
)

// ItemKind selects the executor that handles a queue item.
type ItemKind string

// Queue item kinds
const (
	KindStructure  ItemKind = "structure"
	KindContent    ItemKind = "content"
	KindSubchapter ItemKind = "subchapter"
)

// Valid reports whether k is a known kind.
func (k ItemKind) Valid() bool {
	switch k {
	case KindStructure, KindContent, KindSubchapter:
		return true
	default:
		return false
	}
}

// ItemStatus is the lifecycle state of a queue item.
type ItemStatus string

// Possible item status values
const (
	ItemPending   ItemStatus = "pending"
	ItemRunning   ItemStatus = "running"
	ItemCompleted ItemStatus = "completed"
	ItemError     ItemStatus = "error"
)

// Terminal reports whether the item has finished.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemError
}

// QueueItem is one scheduled unit of generation work targeting one node.
type QueueItem struct {
	UUID         string     `json:"uuid"`
	CourseID     string     `json:"course_id"`
	Kind         ItemKind   `json:"kind"`
	TargetNodeID string     `json:"target_node_id"`
	Title        string     `json:"title"`
	Requirement  string     `json:"requirement,omitempty"`
	Status       ItemStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type itemKey struct {
	courseID string
	kind     ItemKind
	nodeID   string
}

func (q *QueueItem) key() itemKey {
	return itemKey{courseID: q.CourseID, kind: q.Kind, nodeID: q.TargetNodeID}
}

// queue is the FIFO of all items. active indexes the pending and running
// items by (course, kind, node) so that duplicates are rejected in O(1).
// It is not safe for concurrent use; the engine lock guards it.
type queue struct {
	items  []*QueueItem
	byID   map[string]*QueueItem
	active map[itemKey]*QueueItem
}

func newQueue() *queue {
	return &queue{
		byID:   make(map[string]*QueueItem),
		active: make(map[itemKey]*QueueItem),
	}
}

// add appends item unless an equivalent item is pending or running. It
// returns the item that holds the slot.
func (q *queue) add(item *QueueItem) (*QueueItem, bool) {
	if existing, ok := q.active[item.key()]; ok {
		return existing, false
	}
	q.items = append(q.items, item)
	q.byID[item.UUID] = item
	if !item.Status.Terminal() {
		q.active[item.key()] = item
	}
	return item, true
}

func (q *queue) get(uuid string) *QueueItem {
	return q.byID[uuid]
}

func (q *queue) setStatus(item *QueueItem, status ItemStatus, msg string, at time.Time) {
	item.Status = status
	item.ErrorMessage = msg
	item.UpdatedAt = at
	if status.Terminal() {
		if q.active[item.key()] == item {
			delete(q.active, item.key())
		}
	}
}

// next returns the first pending item accepted by eligible, in insertion
// order.
func (q *queue) next(eligible func(*QueueItem) bool) *QueueItem {
	for _, item := range q.items {
		if item.Status == ItemPending && eligible(item) {
			return item
		}
	}
	return nil
}

// activeFor counts the pending and running items of a course.
func (q *queue) activeFor(courseID string) int {
	n := 0
	for k := range q.active {
		if k.courseID == courseID {
			n++
		}
	}
	return n
}

// counts returns the finished and total item counts of a course.
func (q *queue) counts(courseID string) (finished, total int) {
	for _, item := range q.items {
		if item.CourseID != courseID {
			continue
		}
		total++
		if item.Status.Terminal() {
			finished++
		}
	}
	return finished, total
}

// remove drops every item accepted by drop except a running one and returns
// the number removed.
func (q *queue) remove(drop func(*QueueItem) bool) int {
	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if item.Status != ItemRunning && drop(item) {
			delete(q.byID, item.UUID)
			if q.active[item.key()] == item {
				delete(q.active, item.key())
			}
			removed++
			continue
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	return removed
}

func (q *queue) len() int {
	return len(q.items)
}

// list returns copies of all items in order.
func (q *queue) list() []QueueItem {
	out := make([]QueueItem, len(q.items))
	for i, item := range q.items {
		out[i] = *item
	}
	return out
}

// progress is floor(100 * finished / total), or 0 for a course with no items.
func progress(finished, total int) int {
	if total == 0 {
		return 0
	}
	return 100 * finished / total
}
