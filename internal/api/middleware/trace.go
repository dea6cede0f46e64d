// Package middleware holds HTTP middleware shared by the API routes.
package middleware

import (
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/phrazzld/coursegen/internal/api/shared"
	"github.com/phrazzld/coursegen/internal/platform/logger"
)

// TraceHeader carries the trace ID in requests and responses.
const TraceHeader = "X-Trace-ID"

// NewTraceMiddleware returns middleware that gives every request a trace ID
// and a request-scoped logger carrying it. A well-formed ID sent in
// TraceHeader is kept; otherwise a new one is generated. The ID is echoed
// in the response header.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if incoming := r.Header.Get(TraceHeader); validTraceID(incoming) {
				ctx = shared.WithTraceID(ctx, incoming)
			} else {
				ctx = shared.SetTraceID(ctx)
			}
			traceID := shared.GetTraceID(ctx)

			log := base.With(slog.String("trace_id", traceID))
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			w.Header().Set(TraceHeader, traceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validTraceID(id string) bool {
	if len(id) != 2*shared.TraceIDLength {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
