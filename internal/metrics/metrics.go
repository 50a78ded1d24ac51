package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Requests      *prometheus.CounterVec
	LatencyMS     *prometheus.HistogramVec
	Checkouts     *prometheus.CounterVec
	Confirmations *prometheus.CounterVec
	Overrides     prometheus.Counter
	Expired       prometheus.Counter
	Notifications *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New builds the collectors and registers them with reg. Passing a
// *prometheus.Registry keeps tests isolated from the default registry.
func New(service string, reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heirloom",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "heirloom",
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route", "method"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heirloom",
			Subsystem: service,
			Name:      "checkout_submissions_total",
			Help:      "Checkout submissions by payment method and outcome.",
		}, []string{"method", "outcome"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heirloom",
			Subsystem: service,
			Name:      "payment_confirmations_total",
			Help:      "Card payment confirmations by outcome.",
		}, []string{"outcome"}),
		Overrides: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "heirloom",
			Subsystem: service,
			Name:      "admin_overrides_total",
			Help:      "Administrative status overrides.",
		}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "heirloom",
			Subsystem: service,
			Name:      "orders_expired_total",
			Help:      "Pending orders cancelled by the expiry sweep.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heirloom",
			Subsystem: service,
			Name:      "notifications_total",
			Help:      "Buyer notifications by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.Checkouts, m.Confirmations, m.Overrides, m.Expired, m.Notifications)
	return m
}

func (m *Metrics) Checkout(method, outcome string) {
	if m != nil {
		m.Checkouts.WithLabelValues(method, outcome).Inc()
	}
}

func (m *Metrics) Confirmation(outcome string) {
	if m != nil {
		m.Confirmations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Override() {
	if m != nil {
		m.Overrides.Inc()
	}
}

func (m *Metrics) Expire(n int) {
	if m != nil {
		m.Expired.Add(float64(n))
	}
}

func (m *Metrics) Notification(eventType, outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(eventType, outcome).Inc()
	}
}

func (m *Metrics) Request(route, method, status string, ms float64) {
	if m != nil {
		m.Requests.WithLabelValues(route, method, status).Inc()
		m.LatencyMS.WithLabelValues(route, method).Observe(ms)
	}
}

// Handler serves the registry this Metrics was built with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
