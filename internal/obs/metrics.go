package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Password logins by outcome.",
		},
		[]string{"outcome"},
	)

	tokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_verifications_total",
			Help: "Access token verifications by outcome.",
		},
		[]string{"outcome"},
	)

	bankidPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bankid_polls_total",
			Help: "BankID collect polls by resulting status.",
		},
		[]string{"status"},
	)

	bankidOrders = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bankid_orders_initiated_total",
		Help: "BankID authentication orders initiated.",
	})
)

// Init registers metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginsTotal, tokenVerifications, bankidPolls, bankidOrders,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin records a password login attempt outcome ("success",
// "failure" or "error").
func ObserveLogin(outcome string) {
	loginsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTokenVerification records an access token verification outcome.
func ObserveTokenVerification(outcome string) {
	tokenVerifications.WithLabelValues(outcome).Inc()
}

// ObserveBankIDPoll records the status returned by a collect poll.
func ObserveBankIDPoll(status string) {
	bankidPolls.WithLabelValues(status).Inc()
}

// ObserveBankIDOrder records a newly initiated order.
func ObserveBankIDOrder() {
	bankidOrders.Inc()
}

// Instrument wraps a handler with RPS, latency and in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
