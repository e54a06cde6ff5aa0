// Package metrics owns the Prometheus collectors exported on /metrics.
//
// All methods are safe on a nil *Metrics so callers that run without a
// registry (tests, the stress tool) need no guard.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dukkani"

type Metrics struct {
	registry *prometheus.Registry

	ordersCreated    prometheus.Counter
	ordersDeleted    prometheus.Counter
	stockRejections  prometheus.Counter
	rateLimited      *prometheus.CounterVec
	telegramUpdates  *prometheus.CounterVec
	telegramFailures prometheus.Counter
	requestDuration  *prometheus.HistogramVec
}

// New registers every collector on a private registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders committed.",
		}),
		ordersDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_deleted_total",
			Help:      "Orders deleted with stock restored.",
		}),
		stockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_stock_rejections_total",
			Help:      "Orders rejected for insufficient stock.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejections_total",
			Help:      "Requests rejected by a rate limit preset.",
		}, []string{"preset"}),
		telegramUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_updates_total",
			Help:      "Telegram webhook updates by kind.",
		}, []string{"kind"}),
		telegramFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_send_failures_total",
			Help:      "Failed Bot API calls.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersCreated,
		m.ordersDeleted,
		m.stockRejections,
		m.rateLimited,
		m.telegramUpdates,
		m.telegramFailures,
		m.requestDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderCreated() {
	if m != nil {
		m.ordersCreated.Inc()
	}
}

func (m *Metrics) OrderDeleted() {
	if m != nil {
		m.ordersDeleted.Inc()
	}
}

func (m *Metrics) StockRejected() {
	if m != nil {
		m.stockRejections.Inc()
	}
}

func (m *Metrics) RateLimited(preset string) {
	if m != nil {
		m.rateLimited.WithLabelValues(preset).Inc()
	}
}

func (m *Metrics) TelegramUpdate(kind string) {
	if m != nil {
		m.telegramUpdates.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) TelegramSendFailed() {
	if m != nil {
		m.telegramFailures.Inc()
	}
}

func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	if m != nil {
		m.requestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(elapsed.Seconds())
	}
}
