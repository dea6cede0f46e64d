package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/redact"
)

// Run drains the queue until ctx is cancelled. It processes one item at a
// time in insertion order, skipping items of paused tasks, and waits for new
// work when the queue is empty. After an item whose course was paused the
// loop also waits, until a resume or a new request wakes it.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.logger.InfoContext(ctx, "generation engine started")
	for {
		item, ok := e.claim(ctx)
		if !ok {
			e.drained(ctx)
			select {
			case <-ctx.Done():
				e.logger.InfoContext(ctx, "generation engine stopped")
				return nil
			case <-e.wake:
				continue
			}
		}

		// wake-ups sent before the claim are covered by the next claim
		select {
		case <-e.wake:
		default:
		}
		stopped := e.process(ctx, item)

		if ctx.Err() != nil {
			e.logger.InfoContext(ctx, "generation engine stopped")
			return nil
		}
		if stopped {
			e.FinalizeIfIdle(ctx)
			e.logger.DebugContext(ctx, "scheduler idle after pause", "course_id", item.CourseID)
			select {
			case <-ctx.Done():
				e.logger.InfoContext(ctx, "generation engine stopped")
				return nil
			case <-e.wake:
				continue
			}
		}
		if e.config.QueueYield > 0 {
			select {
			case <-ctx.Done():
				e.logger.InfoContext(ctx, "generation engine stopped")
				return nil
			case <-time.After(e.config.QueueYield):
			}
		}
	}
}

// claim marks the next eligible item running.
func (e *Engine) claim(ctx context.Context) (QueueItem, bool) {
	e.mu.Lock()
	item := e.queue.next(func(item *QueueItem) bool {
		t, ok := e.tasks[item.CourseID]
		if !ok {
			// picked so that it fails loudly
			return true
		}
		return t.Status != StatusPaused && !t.StopRequested
	})
	if item == nil {
		e.mu.Unlock()
		return QueueItem{}, false
	}

	now := e.now()
	e.queue.setStatus(item, ItemRunning, "", now)
	e.processing = true
	e.current = item

	var payload *events.TaskPayload
	if t, ok := e.tasks[item.CourseID]; ok {
		t.Status = StatusRunning
		t.CurrentStep = item.Title
		t.logf(now, "Started: %s", item.Title)
		p := taskPayload(t)
		payload = &p
	}
	if e.view.CourseID == item.CourseID {
		e.view.Indicator = IndicatorGenerating
		e.view.CurrentNodeID = item.TargetNodeID
		e.view.CurrentStep = item.Title
	}
	claimed := *item
	e.mu.Unlock()

	e.logger.DebugContext(ctx, "queue item started",
		"item_uuid", claimed.UUID,
		"course_id", claimed.CourseID,
		"kind", claimed.Kind,
		"node_id", claimed.TargetNodeID)
	e.persist(ctx)
	e.emit(ctx, events.ItemStarted, claimed.CourseID, itemPayload(claimed))
	if payload != nil {
		e.emit(ctx, events.TaskUpdated, claimed.CourseID, *payload)
	}
	return claimed, true
}

// process executes a claimed item and records its outcome. Errors never
// leave this function; they end up on the item and in the task log. It
// reports whether the course of the item is paused.
//
// An item cancelled by a pause that was resumed before the item unwound is
// queued again, since the resume counted it as remaining work.
func (e *Engine) process(ctx context.Context, claimed QueueItem) bool {
	start := time.Now()
	err := e.execute(ctx, claimed)
	elapsed := time.Since(start)

	e.mu.Lock()
	e.processing = false
	e.current = nil

	now := e.now()
	item := e.queue.get(claimed.UUID)
	if item == nil {
		// removed while running
		item = &claimed
	}
	if err == nil {
		e.queue.setStatus(item, ItemCompleted, "", now)
	} else {
		e.queue.setStatus(item, ItemError, itemErrorMessage(err), now)
	}

	var payload *events.TaskPayload
	var requeued []QueueItem
	t, ok := e.tasks[claimed.CourseID]
	stopped := ok && t.StopRequested
	if ok {
		if err == nil {
			t.logf(now, "Completed: %s", claimed.Title)
		} else {
			t.logf(now, "Failed: %s: %s", claimed.Title, item.ErrorMessage)
		}
		if errors.Is(err, ErrStopRequested) && !stopped && t.Status == StatusRunning {
			if _, nodeErr := t.node(claimed.TargetNodeID); nodeErr == nil {
				if again, added := e.enqueueLocked(EnqueueRequest{
					CourseID:     claimed.CourseID,
					Kind:         claimed.Kind,
					TargetNodeID: claimed.TargetNodeID,
					Title:        claimed.Title,
					Requirement:  claimed.Requirement,
				}); added {
					requeued = append(requeued, again)
					t.logf(now, "Requeued after resume: %s", claimed.Title)
				}
			}
		}
		t.Progress = progress(e.queue.counts(claimed.CourseID))
		if stopped {
			t.Status = StatusPaused
		}
		p := taskPayload(t)
		payload = &p
	}
	if e.view.CourseID == claimed.CourseID {
		switch {
		case stopped:
			e.view.Indicator = IndicatorPaused
		case len(requeued) > 0:
			e.view.Indicator = IndicatorGenerating
		case err != nil:
			e.view.Indicator = IndicatorError
		}
		e.view.CurrentNodeID = ""
	}
	done := *item
	e.mu.Unlock()

	if err != nil {
		e.logger.WarnContext(ctx, "queue item failed",
			"item_uuid", done.UUID,
			"course_id", done.CourseID,
			"kind", done.Kind,
			"error", done.ErrorMessage,
			"duration_ms", elapsed.Milliseconds())
	} else {
		e.logger.InfoContext(ctx, "queue item completed",
			"item_uuid", done.UUID,
			"course_id", done.CourseID,
			"kind", done.Kind,
			"duration_ms", elapsed.Milliseconds())
	}

	e.persist(ctx)
	eventType := events.ItemCompleted
	if err != nil {
		eventType = events.ItemFailed
	}
	p := itemPayload(done)
	p.DurationMS = elapsed.Milliseconds()
	e.emit(ctx, eventType, done.CourseID, p)
	for _, again := range requeued {
		e.emit(ctx, events.ItemEnqueued, again.CourseID, itemPayload(again))
	}
	if payload != nil {
		e.emit(ctx, events.TaskUpdated, done.CourseID, *payload)
	}
	return stopped
}

// execute runs the executor of the item kind, converting a panic into an
// error.
func (e *Engine) execute(ctx context.Context, item QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "executor panicked",
				"item_uuid", item.UUID,
				"kind", item.Kind,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, r)
		}
	}()

	exec, ok := e.executors[item.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, item.Kind)
	}
	return exec(ctx, item)
}

func itemErrorMessage(err error) string {
	if errors.Is(err, ErrStopRequested) {
		return ErrStopRequested.Error()
	}
	return redact.Error(err)
}

// drained runs when the queue has no eligible item.
func (e *Engine) drained(ctx context.Context) {
	e.FinalizeIfIdle(ctx)

	e.mu.Lock()
	if e.view.CourseID != "" && e.view.Indicator == IndicatorGenerating {
		if t, ok := e.tasks[e.view.CourseID]; ok && t.Status != StatusRunning {
			e.view.Indicator = IndicatorIdle
			e.view.CurrentStep = ""
		}
	}
	pending := e.queue.len()
	e.mu.Unlock()

	e.persist(ctx)
	e.emit(ctx, events.QueueDrained, "", map[string]int{"items": pending})
}
