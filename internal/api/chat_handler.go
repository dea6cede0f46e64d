package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/coursegen/internal/api/shared"
	"github.com/phrazzld/coursegen/internal/chat"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/platform/logger"
)

// ChatSession is the part of *chat.Session the HTTP layer drives.
type ChatSession interface {
	Ask(ctx context.Context, req chat.Request, onDelta func(string) error) (*chat.Reply, error)
	Cancel() bool
	History() []generation.ChatMessage
	Reset()
}

// NDJSONContentType is the media type of streamed answers.
const NDJSONContentType = "application/x-ndjson"

// ChatHandler handles questions about a course.
type ChatHandler struct {
	session ChatSession
	logger  *slog.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(session ChatSession, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		session: session,
		logger:  logger.With("component", "chat_handler"),
	}
}

// wantsStream reports whether the client asked for a streamed answer, either
// with an Accept header or with ?stream=true.
func wantsStream(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), NDJSONContentType) {
		return true
	}
	v := r.URL.Query().Get("stream")
	return v == "1" || strings.EqualFold(v, "true")
}

// Ask handles POST /api/chat/ask. By default the reply is returned as one
// JSON document once the answer is complete. Streaming clients receive one
// JSON line per delta followed by a final reply or error line.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if !wantsStream(r) {
		reply, err := h.session.Ask(r.Context(), req, nil)
		if err != nil {
			HandleAPIError(w, r, err, "Failed to answer question")
			return
		}
		shared.RespondWithJSON(w, r, http.StatusOK, reply)
		return
	}

	h.askStreaming(w, r, req)
}

func (h *ChatHandler) askStreaming(w http.ResponseWriter, r *http.Request, req chat.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	started := false

	write := func(msg ChatStreamMessage) error {
		if !started {
			w.Header().Set("Content-Type", NDJSONContentType)
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(msg); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}

	reply, err := h.session.Ask(r.Context(), req, func(delta string) error {
		return write(ChatStreamMessage{Type: ChatMessageDelta, Text: delta})
	})
	if err != nil {
		if !started {
			// nothing sent yet, a plain error response still fits
			HandleAPIError(w, r, err, "Failed to answer question")
			return
		}
		log.Warn("streamed answer failed", "error", err)
		_ = write(ChatStreamMessage{Type: ChatMessageError, Error: GetSafeErrorMessage(err)})
		return
	}
	if err := write(ChatStreamMessage{Type: ChatMessageReply, Reply: reply}); err != nil {
		log.Debug("client went away before the reply", "error", err)
	}
}

// Cancel handles POST /api/chat/cancel
func (h *ChatHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, CancelResponse{Cancelled: h.session.Cancel()})
}

// History handles GET /api/chat/history
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	history := h.session.History()
	if history == nil {
		history = []generation.ChatMessage{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, history)
}

// Reset handles DELETE /api/chat/history
func (h *ChatHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.session.Reset()
	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}
