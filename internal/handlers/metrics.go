package handlers

import (
	"net/http"

	"github.com/tariel-x/tutorlive/internal/presence"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry
	online   *prometheus.GaugeVec
	events   *prometheus.CounterVec
	badges   *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tutorlive",
			Name:      "online_connections",
			Help:      "Identities currently registered in the presence registry.",
		}, []string{"role"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorlive",
			Name:      "events_total",
			Help:      "Inbound websocket events by outcome.",
		}, []string{"event", "outcome"}),
		badges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorlive",
			Name:      "badges_total",
			Help:      "newBadge notifications by delivery path.",
		}, []string{"delivery"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.online,
		m.events,
		m.badges,
	)
	return m
}

func (m *metrics) observePresence(registry *presence.Registry) {
	for _, role := range presence.Roles {
		m.online.WithLabelValues(role.String()).Set(float64(registry.Count(role)))
	}
}

// MetricsHandler serves the Prometheus exposition of this Handlers instance.
func (h *Handlers) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{})
}
