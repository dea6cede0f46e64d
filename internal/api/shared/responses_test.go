package shared

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/coursegen/internal/platform/logger"
)

// newLoggedRequest returns a request whose context carries a buffered test
// logger and the given trace ID.
func newLoggedRequest(t *testing.T, method, path, traceID string) (*http.Request, *logger.TestLogBuffer) {
	t.Helper()
	l, buf := logger.GetTestLogger(t)
	req := httptest.NewRequest(method, path, nil)
	ctx := logger.WithLogger(req.Context(), l)
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	return req.WithContext(ctx), buf
}

func TestRespondWithJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data interface{}
		want string
	}{
		{"struct", struct {
			CourseID  string `json:"course_id"`
			Scheduled int    `json:"scheduled"`
		}{"course-1", 3}, `{"course_id":"course-1","scheduled":3}`},
		{"empty map", map[string]interface{}{}, `{}`},
		{"nil", nil, `null`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req, _ := newLoggedRequest(t, http.MethodGet, "/api/tasks", "")
			w := httptest.NewRecorder()

			RespondWithJSON(w, req, http.StatusOK, tc.data)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tc.want, w.Body.String())
		})
	}
}

func TestRespondWithJSONEncodingError(t *testing.T) {
	t.Parallel()
	req, buf := newLoggedRequest(t, http.MethodGet, "/api/queue", "")
	w := httptest.NewRecorder()

	RespondWithJSON(w, req, http.StatusOK, map[string]interface{}{"bad": make(chan int)})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, buf.String(), "failed to encode JSON response")
}

func TestRespondWithJSONNoContent(t *testing.T) {
	t.Parallel()
	req, _ := newLoggedRequest(t, http.MethodDelete, "/api/chat/history", "")
	w := httptest.NewRecorder()

	RespondWithJSON(w, req, http.StatusNoContent, map[string]string{"ignored": "yes"})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Empty(t, w.Header().Get("Content-Type"))
}

func TestRespondWithError(t *testing.T) {
	t.Parallel()

	t.Run("with trace id", func(t *testing.T) {
		t.Parallel()
		req, _ := newLoggedRequest(t, http.MethodPost, "/api/courses", "trace-123")
		w := httptest.NewRecorder()

		RespondWithError(w, req, http.StatusBadRequest, "Invalid request")

		require.Equal(t, http.StatusBadRequest, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Invalid request", resp.Error)
		assert.Equal(t, "trace-123", resp.TraceID)
	})

	t.Run("without trace id", func(t *testing.T) {
		t.Parallel()
		req, _ := newLoggedRequest(t, http.MethodGet, "/api/tasks/missing", "")
		w := httptest.NewRecorder()

		RespondWithError(w, req, http.StatusNotFound, "Course not found")

		assert.NotContains(t, w.Body.String(), "trace_id")
	})
}

func TestRespondWithErrorAndLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		elevated bool
		want     string
	}{
		{"internal error", http.StatusInternalServerError, false, "ERROR"},
		{"internal error stays ERROR when elevated", http.StatusInternalServerError, true, "ERROR"},
		{"upstream failure elevated", http.StatusBadGateway, true, "WARN"},
		{"upstream failure", http.StatusBadGateway, false, "ERROR"},
		{"client error", http.StatusBadRequest, false, "DEBUG"},
		{"client error elevated", http.StatusConflict, true, "WARN"},
		{"rate limited", http.StatusTooManyRequests, false, "WARN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req, buf := newLoggedRequest(t, http.MethodPost, "/api/chat/ask", "trace-abc")
			w := httptest.NewRecorder()

			var opts []ResponseOption
			if tc.elevated {
				opts = append(opts, WithElevatedLogLevel())
			}
			RespondWithErrorAndLog(w, req, tc.status, "Generation service unavailable",
				errors.New("dial postgres://app:hunter2@db:5432/app"), opts...)

			require.Equal(t, tc.status, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "Generation service unavailable", resp.Error)
			assert.Equal(t, "trace-abc", resp.TraceID)

			entries, err := buf.GetLogEntries()
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, tc.want, entries[0]["level"])
			assert.Equal(t, "trace-abc", entries[0]["trace_id"])
			assert.Equal(t, "*errors.errorString", entries[0]["error_type"])
			assert.NotContains(t, buf.String(), "hunter2")
		})
	}
}
