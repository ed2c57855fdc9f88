// Пакет metrics содержит метрики Prometheus сервиса сообщений.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration: длительность HTTP-запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal: число HTTP-запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesSent: попытки отправки по результату
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_messages_sent_total",
			Help: "Direct message send attempts by result",
		},
		[]string{"result"},
	)

	// EventsPublished: доставки событий по соединениям
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Realtime events per connection by result",
		},
		[]string{"type", "result"},
	)

	// ConnectionsActive: открытые websocket-соединения
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Number of open realtime connections",
		},
	)

	// RoomsActive: комнаты, в которых есть хотя бы одно соединение
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_rooms_active",
			Help: "Number of user rooms with joined connections",
		},
	)
)

// RecordRequest записывает метрики HTTP-запроса
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordSend записывает результат попытки отправки
func RecordSend(result string) {
	MessagesSent.WithLabelValues(result).Inc()
}

// RecordPublish записывает доставленные и отброшенные события
func RecordPublish(eventType string, delivered, dropped int) {
	if delivered > 0 {
		EventsPublished.WithLabelValues(eventType, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		EventsPublished.WithLabelValues(eventType, "dropped").Add(float64(dropped))
	}
}
