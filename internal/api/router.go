package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apiMiddleware "github.com/phrazzld/coursegen/internal/api/middleware"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/observability"
)

// RouterConfig holds what the router needs. Hub and Metrics may be nil, in
// which case /api/events and /metrics are not mounted.
type RouterConfig struct {
	Engine         TaskEngine
	Chat           ChatSession
	Hub            *events.Hub
	Metrics        *observability.Metrics
	Logger         *slog.Logger
	AllowAnyOrigin bool
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(cfg.Logger))

	tasks := NewTaskHandler(cfg.Engine, cfg.Logger)
	chatHandler := NewChatHandler(cfg.Chat, cfg.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/courses", tasks.StartCourse)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", tasks.ListTasks)
			r.Route("/{courseID}", func(r chi.Router) {
				r.Get("/", tasks.GetTask)
				r.Delete("/", tasks.DeleteTask)
				r.Post("/pause", tasks.PauseTask)
				r.Post("/resume", tasks.ResumeTask)
				r.Post("/generate", tasks.GenerateCourse)

				r.Route("/nodes/{nodeID}", func(r chi.Router) {
					r.Put("/", tasks.UpdateNodeContent)
					r.Delete("/", tasks.DeleteNode)
					r.Post("/subchapters", tasks.GenerateSubchapters)
					r.Post("/content", tasks.GenerateContent)
					r.Post("/extend", tasks.ExtendNode)
				})
			})
		})

		r.Get("/queue", tasks.ListQueue)
		r.Post("/queue/{uuid}/retry", tasks.RetryItem)

		r.Get("/view", tasks.GetView)
		r.Put("/view", tasks.SetView)

		r.Post("/chat/ask", chatHandler.Ask)
		r.Post("/chat/cancel", chatHandler.Cancel)
		r.Get("/chat/history", chatHandler.History)
		r.Delete("/chat/history", chatHandler.Reset)

		if cfg.Hub != nil {
			r.Get("/events", NewEventsHandler(cfg.Hub, cfg.Metrics, cfg.AllowAnyOrigin, cfg.Logger).Stream)
		}
	})

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			cfg.Logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
