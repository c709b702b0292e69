package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the authentication flows. All methods are nil-safe so callers never
// have to guard against a disabled metrics pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	logins          prometheus.Counter
	registrations   prometheus.Counter
	refreshes       prometheus.Counter
	revocations     prometheus.Counter
	emailsSent      prometheus.Counter
	emailsFailed    prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	logins := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Total successful logins",
	})

	registrations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_registrations_total",
		Help: "Total successful registrations",
	})

	refreshes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_refreshes_total",
		Help: "Total successful token refreshes",
	})

	revocations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_revocations_total",
		Help: "Total session revocations (logout and password change)",
	})

	emailsSent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_emails_sent_total",
		Help: "Total notification emails delivered",
	})

	emailsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_emails_failed_total",
		Help: "Total notification emails that failed to deliver",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, logins, registrations, refreshes, revocations, emailsSent, emailsFailed, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		logins:          logins,
		registrations:   registrations,
		refreshes:       refreshes,
		revocations:     revocations,
		emailsSent:      emailsSent,
		emailsFailed:    emailsFailed,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records per-route request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// CountLogin increments the successful login counter.
func (m *MetricsService) CountLogin() {
	if m == nil {
		return
	}
	m.logins.Inc()
}

// CountRegistration increments the registration counter.
func (m *MetricsService) CountRegistration() {
	if m == nil {
		return
	}
	m.registrations.Inc()
}

// CountRefresh increments the token refresh counter.
func (m *MetricsService) CountRefresh() {
	if m == nil {
		return
	}
	m.refreshes.Inc()
}

// CountRevocation increments the session revocation counter.
func (m *MetricsService) CountRevocation() {
	if m == nil {
		return
	}
	m.revocations.Inc()
}

// CountEmail records a notification delivery attempt.
func (m *MetricsService) CountEmail(delivered bool) {
	if m == nil {
		return
	}
	if delivered {
		m.emailsSent.Inc()
	} else {
		m.emailsFailed.Inc()
	}
}
