package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "diligence",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diligence",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diligence",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	requestsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diligence",
			Subsystem: "workflow",
			Name:      "requests_issued_total",
			Help:      "Total number of requests issued to recipients.",
		},
		[]string{"issuer_org"},
	)

	submissionsSealed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diligence",
			Subsystem: "workflow",
			Name:      "submissions_sealed_total",
			Help:      "Total number of workspaces sealed into submissions.",
		},
		[]string{"outcome"},
	)

	sealDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "diligence",
			Subsystem: "workflow",
			Name:      "seal_duration_seconds",
			Help:      "Duration of the submission sealing path.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	deadlineReminders = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "diligence",
			Subsystem: "workflow",
			Name:      "deadline_reminders_total",
			Help:      "Total number of deadline reminders dispatched.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		requestsIssued,
		submissionsSealed,
		sealDuration,
		deadlineReminders,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordRequestIssued counts an issued request per issuer org.
func RecordRequestIssued(issuerOrg string) {
	if issuerOrg == "" {
		issuerOrg = "unknown"
	}
	requestsIssued.WithLabelValues(issuerOrg).Inc()
}

// RecordSeal records one pass through the sealing path.
func RecordSeal(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	submissionsSealed.WithLabelValues(outcome).Inc()
	sealDuration.Observe(duration.Seconds())
}

// RecordDeadlineReminder counts a dispatched deadline reminder.
func RecordDeadlineReminder() {
	deadlineReminders.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses IDs out of request paths so metric
// cardinality stays bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i%2 == 1 {
			out = append(out, ":id")
			continue
		}
		out = append(out, p)
	}
	return "/" + strings.Join(out, "/")
}
