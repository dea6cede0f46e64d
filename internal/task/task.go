package task

import (
	"fmt"
	"time"

	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/generation"
)

// Status is the lifecycle state of a Task.
type Status string

// Possible task status values
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// LogEntry is one timestamped line of a task log.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Task is the background generation job of one course. Nodes is the task's
// own copy of the course and the single source of truth while generation is
// in progress.
type Task struct {
	ID          string                `json:"id"`
	DisplayName string                `json:"display_name"`
	Status      Status                `json:"status"`
	Progress    int                   `json:"progress"`
	CurrentStep string                `json:"current_step"`
	Log         []LogEntry            `json:"log"`
	Nodes       []domain.Node         `json:"nodes"`
	Difficulty  generation.Difficulty `json:"difficulty,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`

	// StopRequested is never persisted
	StopRequested bool `json:"-"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Log = append([]LogEntry(nil), t.Log...)
	c.Nodes = domain.CloneNodes(t.Nodes)
	return &c
}

func (t *Task) logf(at time.Time, format string, args ...any) {
	t.Log = append(t.Log, LogEntry{At: at, Message: fmt.Sprintf(format, args...)})
	t.UpdatedAt = at
}

func (t *Task) node(id string) (*domain.Node, error) {
	i := domain.FindNode(t.Nodes, id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s in course %s", ErrNodeNotFound, id, t.ID)
	}
	return &t.Nodes[i], nil
}

// TaskOption customizes a task created by CreateTask.
type TaskOption func(*Task)

// WithDifficulty sets the difficulty that steers structure expansion.
func WithDifficulty(d generation.Difficulty) TaskOption {
	return func(t *Task) {
		t.Difficulty = d
	}
}

// expandsSections reports whether level-2 nodes are expanded into
// sub-sections rather than written directly. Only expert courses, which is
// also the default, go one level deeper.
func (t *Task) expandsSections() bool {
	switch t.Difficulty {
	case generation.DifficultyBeginner, generation.DifficultyIntermediate:
		return false
	default:
		return true
	}
}
