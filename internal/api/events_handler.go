package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/observability"
	"github.com/phrazzld/coursegen/internal/platform/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 4 << 10
)

// EventsHandler streams engine events to websocket clients.
type EventsHandler struct {
	hub      *events.Hub
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates a new EventsHandler. metrics may be nil. Unless
// allowAnyOrigin is set, browser connections must come from the same host.
func NewEventsHandler(
	hub *events.Hub,
	metrics *observability.Metrics,
	allowAnyOrigin bool,
	logger *slog.Logger,
) *EventsHandler {
	return &EventsHandler{
		hub:     hub,
		metrics: metrics,
		logger:  logger.With("component", "events_handler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// Stream handles GET /api/events. Every event published on the hub is sent
// as one JSON text message; ?course_id= limits the stream to one course plus
// events that belong to no course. Client messages are read and discarded.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	courseFilter := r.URL.Query().Get("course_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the response
		log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub, unsubscribe := h.hub.Subscribe(events.DefaultSubscriberBuffer)
	defer unsubscribe()

	if h.metrics != nil {
		h.metrics.WSClients.Inc()
		defer h.metrics.WSClients.Dec()
	}
	log.Info("event stream connected", "course_filter", courseFilter)

	// Websocket requests are hijacked; the request context is not cancelled
	// when the peer goes away, so the read loop cancels ctx instead.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		h.writeLoop(ctx, conn, sub, courseFilter, log)
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	go func() {
		<-ctx.Done()
		// unblocks ReadMessage when the writer stops first
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if h.metrics != nil {
			h.metrics.WSMessages.WithLabelValues("inbound").Inc()
		}
	}

	cancel()
	<-writerDone
	log.Info("event stream disconnected")
}

func (h *EventsHandler) writeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	sub <-chan *events.Event,
	courseFilter string,
	log *slog.Logger,
) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case event, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if courseFilter != "" && event.CourseID != "" && event.CourseID != courseFilter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug("event write failed", "error", err)
				return
			}
			if h.metrics != nil {
				h.metrics.WSMessages.WithLabelValues("outbound").Inc()
			}
		}
	}
}
