package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryEmitter fans events out to its handlers synchronously, in
// registration order. The engine emits from its own goroutine, so handlers
// must not block; the Hub drops rather than waits.
type InMemoryEmitter struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger
}

var _ Emitter = (*InMemoryEmitter)(nil)

// NewInMemoryEmitter creates an emitter with no handlers.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	return &InMemoryEmitter{logger: logger.With("component", "event_emitter")}
}

// RegisterHandler appends handler to the delivery list.
func (e *InMemoryEmitter) RegisterHandler(handler Handler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, handler)
	n := len(e.handlers)
	e.mu.Unlock()

	e.logger.Debug("registered event handler", "handler_type", fmt.Sprintf("%T", handler), "handler_count", n)
}

// EmitEvent delivers event to every handler. A failing handler does not stop
// delivery to the rest; all failures are joined into the returned error.
func (e *InMemoryEmitter) EmitEvent(ctx context.Context, event *Event) error {
	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.WarnContext(ctx, "event handler failed",
				"handler_type", fmt.Sprintf("%T", handler),
				"event_type", event.Type,
				"course_id", event.CourseID,
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
