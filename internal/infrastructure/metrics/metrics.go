// Package metrics exposes Prometheus counters for delivery, validation,
// sessions, sweeps and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trinck"

type Registry struct {
	gatherer prometheus.Gatherer

	DeliveryAttempts    *prometheus.CounterVec
	DeliveryDuration    *prometheus.HistogramVec
	SendsTotal          *prometheus.CounterVec
	ValidationsTotal    *prometheus.CounterVec
	SessionEventsTotal  *prometheus.CounterVec
	SweepRemovedTotal   *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewRegistry registers all collectors on a fresh registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		gatherer: reg,
		DeliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Delivery channel attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent in each delivery channel.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"channel"}),
		SendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_sends_total",
			Help:      "Verification send requests by resulting status.",
		}, []string{"status"}),
		ValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_validations_total",
			Help:      "Code validations by result.",
		}, []string{"result"}),
		SessionEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events.",
		}, []string{"event"}),
		SweepRemovedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_removed_total",
			Help:      "Entries removed by background sweeps.",
		}, []string{"task"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		r.DeliveryAttempts, r.DeliveryDuration, r.SendsTotal, r.ValidationsTotal,
		r.SessionEventsTotal, r.SweepRemovedTotal, r.HTTPRequestsTotal, r.HTTPRequestDuration,
	)
	return r
}

func (r *Registry) ObserveAttempt(channel, outcome string, elapsed time.Duration) {
	r.DeliveryAttempts.WithLabelValues(channel, outcome).Inc()
	r.DeliveryDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

func (r *Registry) ObserveSend(status string) {
	r.SendsTotal.WithLabelValues(status).Inc()
}

// ObserveValidation counts a validation; an empty reason means success.
func (r *Registry) ObserveValidation(reason string) {
	if reason == "" {
		reason = "VERIFIED"
	}
	r.ValidationsTotal.WithLabelValues(reason).Inc()
}

func (r *Registry) ObserveSession(event string) {
	r.SessionEventsTotal.WithLabelValues(event).Inc()
}

func (r *Registry) ObserveSweep(task string, removed int) {
	r.SweepRemovedTotal.WithLabelValues(task).Add(float64(removed))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by the chi route pattern.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rc := chi.RouteContext(req.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.HTTPRequestsTotal.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
		r.HTTPRequestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}
