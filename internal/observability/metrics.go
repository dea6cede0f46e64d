package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/coursegen/internal/events"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Events         *prometheus.CounterVec
	ItemsEnqueued  *prometheus.CounterVec
	ItemsFinished  *prometheus.CounterVec
	ItemDuration   *prometheus.HistogramVec
	ItemInFlight   prometheus.Gauge
	TaskStatus     *prometheus.CounterVec
	ChatQuestions  *prometheus.CounterVec
	WSClients      prometheus.Gauge
	WSMessages     *prometheus.CounterVec
	SnapshotErrors prometheus.Counter

	gatherer prometheus.Gatherer
}

var _ events.Handler = (*Metrics)(nil)

// NewMetrics creates the instruments on reg. A nil reg uses the default
// registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Metrics{
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_events_total",
			Help:      "Engine and chat events by type.",
		}, []string{"type"}),
		ItemsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_items_enqueued_total",
			Help:      "Queue items added by kind.",
		}, []string{"kind"}),
		ItemsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_items_finished_total",
			Help:      "Queue items finished by kind and status.",
		}, []string{"kind", "status"}),
		ItemDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_item_duration_ms",
			Help:      "Execution time of queue items in milliseconds.",
			Buckets:   []float64{100, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		}, []string{"kind"}),
		ItemInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_item_in_flight",
			Help:      "1 while a queue item is executing.",
		}),
		TaskStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_status_updates_total",
			Help:      "Task updates by resulting status.",
		}, []string{"status"}),
		ChatQuestions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_questions_total",
			Help:      "Chat questions by outcome.",
		}, []string{"outcome"}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected event stream clients.",
		}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction.",
		}, []string{"direction"}),
		SnapshotErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_errors_total",
			Help:      "Failed snapshot loads and saves.",
		}),
		gatherer: gatherer,
	}
}

// HandleEvent implements events.Handler. Malformed payloads are counted by
// type only.
func (m *Metrics) HandleEvent(_ context.Context, event *events.Event) error {
	m.Events.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case events.ItemEnqueued:
		var p events.ItemPayload
		if event.UnmarshalPayload(&p) == nil {
			m.ItemsEnqueued.WithLabelValues(p.Kind).Inc()
		}
	case events.ItemStarted:
		m.ItemInFlight.Set(1)
	case events.ItemCompleted, events.ItemFailed:
		m.ItemInFlight.Set(0)
		var p events.ItemPayload
		if event.UnmarshalPayload(&p) == nil {
			m.ItemsFinished.WithLabelValues(p.Kind, p.Status).Inc()
			m.ItemDuration.WithLabelValues(p.Kind).Observe(float64(p.DurationMS))
		}
	case events.TaskUpdated:
		var p events.TaskPayload
		if event.UnmarshalPayload(&p) == nil {
			m.TaskStatus.WithLabelValues(p.Status).Inc()
		}
	case events.ChatCompleted:
		var p events.ChatPayload
		if event.UnmarshalPayload(&p) == nil {
			m.ChatQuestions.WithLabelValues(p.Outcome).Inc()
		}
	}
	return nil
}

// Handler serves the registry the instruments were created on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
