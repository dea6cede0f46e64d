package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/coursegen/internal/store"
)

// SnapshotVersion is the version written by this engine.
const SnapshotVersion = 1

// Snapshot is the persisted state of an engine.
type Snapshot struct {
	Version         int         `json:"version"`
	CurrentCourseID string      `json:"current_course_id,omitempty"`
	Tasks           []*Task     `json:"tasks"`
	Queue           []QueueItem `json:"queue"`
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:         SnapshotVersion,
		CurrentCourseID: e.view.CourseID,
		Tasks:           make([]*Task, 0, len(e.order)),
		Queue:           e.queue.list(),
	}
	for _, id := range e.order {
		snap.Tasks = append(snap.Tasks, e.tasks[id].Clone())
	}
	return snap
}

// persist saves the current state. Saves are serialized so that a later
// state is never overwritten by an earlier one. Failures are logged only.
func (e *Engine) persist(ctx context.Context) {
	if e.snapshots == nil {
		return
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	snap := e.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to encode snapshot", "error", err)
		return
	}
	// a cancelled caller must not lose the save
	if err := e.snapshots.Save(context.WithoutCancel(ctx), data); err != nil {
		e.logger.ErrorContext(ctx, "failed to save snapshot",
			"error", err,
			"bytes", len(data))
	}
}

// Normalize prepares a loaded snapshot for use: unfinished queue items are
// dropped, interrupted tasks become idle with a log entry, and the viewed
// course is forgotten. It returns the number of downgraded tasks.
func Normalize(snap *Snapshot, now time.Time) int {
	kept := snap.Queue[:0]
	for _, item := range snap.Queue {
		if item.Status.Terminal() {
			kept = append(kept, item)
		}
	}
	snap.Queue = kept
	snap.CurrentCourseID = ""

	downgraded := 0
	tasks := snap.Tasks[:0]
	for _, t := range snap.Tasks {
		if t == nil || t.ID == "" {
			continue
		}
		t.StopRequested = false
		if t.Status == StatusRunning || t.Status == StatusPaused {
			prev := t.Status
			t.Status = StatusIdle
			t.CurrentStep = ""
			t.logf(now, "Generation was %s when the engine stopped; resume to continue", prev)
			downgraded++
		}
		tasks = append(tasks, t)
	}
	snap.Tasks = tasks
	return downgraded
}

// Restore loads the persisted state, replacing the engine's. A missing
// snapshot leaves the engine empty. Restore must be called before Run.
func (e *Engine) Restore(ctx context.Context) error {
	if e.snapshots == nil {
		return nil
	}

	data, err := e.snapshots.Load(ctx)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		e.logger.InfoContext(ctx, "no saved engine state")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}
	downgraded := Normalize(&snap, e.now())

	e.mu.Lock()
	e.tasks = make(map[string]*Task, len(snap.Tasks))
	e.order = e.order[:0]
	for _, t := range snap.Tasks {
		if _, dup := e.tasks[t.ID]; !dup {
			e.order = append(e.order, t.ID)
		}
		e.tasks[t.ID] = t
	}
	e.queue = newQueue()
	for i := range snap.Queue {
		item := snap.Queue[i]
		e.queue.add(&item)
	}
	e.view = viewState{epoch: e.view.epoch + 1}
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "engine state restored",
		"tasks", len(snap.Tasks),
		"queue_items", len(snap.Queue),
		"downgraded_tasks", downgraded)
	if downgraded > 0 {
		e.persist(ctx)
	}
	return nil
}
