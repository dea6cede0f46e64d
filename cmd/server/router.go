package main

import (
	"net/http"

	"github.com/phrazzld/coursegen/internal/api"
)

// setupRouter builds the HTTP handler over the application components.
func (app *application) setupRouter() http.Handler {
	return api.NewRouter(api.RouterConfig{
		Engine:         app.engine,
		Chat:           app.chat,
		Hub:            app.hub,
		Metrics:        app.metrics,
		Logger:         app.logger,
		AllowAnyOrigin: app.config.Server.AllowAnyOrigin,
	})
}
