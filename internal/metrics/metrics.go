// Package metrics exposes Prometheus counters for the sandbox components.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sandbox counters on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	consumed        *prometheus.CounterVec
	acked           *prometheus.CounterVec
	claimed         *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	repositoryOps   *prometheus.CounterVec
}

// New creates and registers the counters under namespace.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "entries_consumed_total",
			Help:      "Stream entries delivered to this consumer.",
		}, []string{"stream"}),
		acked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "entries_acked_total",
			Help:      "Stream entries acknowledged.",
		}, []string{"stream"}),
		claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "entries_claimed_total",
			Help:      "Pending entries claimed from inactive consumers.",
		}, []string{"stream"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "handler_failures_total",
			Help:      "Stream entries the handler failed to process.",
		}, []string{"stream"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "notifications_total",
			Help:      "Pub/sub messages delivered to listeners.",
		}, []string{"channel"}),
		repositoryOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "operations_total",
			Help:      "Entity repository calls by operation.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(m.consumed, m.acked, m.claimed, m.handlerFailures, m.notifications, m.repositoryOps)
	return m
}

func (m *Metrics) Consumed(stream string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.consumed.WithLabelValues(stream).Add(float64(n))
}

func (m *Metrics) Acked(stream string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.acked.WithLabelValues(stream).Add(float64(n))
}

func (m *Metrics) Claimed(stream string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.claimed.WithLabelValues(stream).Add(float64(n))
}

func (m *Metrics) HandlerFailed(stream string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(stream).Inc()
}

func (m *Metrics) Notified(channel string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel).Inc()
}

func (m *Metrics) RepositoryOp(op string) {
	if m == nil {
		return
	}
	m.repositoryOps.WithLabelValues(op).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
