// Package metrics exposes Prometheus counters, gauges, and histograms
// for the executor loop and HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests to the agent's own surface.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentloom_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentloom_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RoundsTotal counts completed executor rounds.
	RoundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentloom_rounds_total",
			Help: "Total number of executor rounds completed",
		},
	)

	// QueueDepth tracks the number of pending inbound messages.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentloom_queue_depth",
			Help: "Number of messages currently pending in the inbound queue",
		},
	)

	// BackgroundJobsRunning tracks live background bash jobs.
	BackgroundJobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentloom_background_jobs_running",
			Help: "Number of running background jobs",
		},
	)

	// ToolCalls tracks tool invocations by name and outcome.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentloom_tool_calls_total",
			Help: "Total number of tool calls dispatched",
		},
		[]string{"tool", "status"},
	)

	// CompactionsTotal counts memory-manager compaction runs.
	CompactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentloom_compactions_total",
			Help: "Total number of context compactions",
		},
		[]string{"status"},
	)

	// ErrorStateTotal counts entries into the error/repair state, by source.
	ErrorStateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentloom_error_state_total",
			Help: "Total number of times the executor entered the error state",
		},
		[]string{"source"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request count and latency for every HTTP surface handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

func normalizePath(path string) string {
	switch path {
	case "/message", "/status", "/outbox", "/history", "/repair-signal", "/schedules", "/metrics":
		return path
	default:
		if len(path) > 8 && path[:8] == "/outbox/" {
			return "/outbox/:id"
		}
		if len(path) > 9 && path[:9] == "/history/" {
			return "/history/:round"
		}
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordToolCall records one tool invocation's outcome.
func RecordToolCall(tool, status string) {
	ToolCalls.WithLabelValues(tool, status).Inc()
}

// RecordCompaction records a compaction attempt's outcome.
func RecordCompaction(status string) {
	CompactionsTotal.WithLabelValues(status).Inc()
}

// RecordErrorState records an entry into the error state.
func RecordErrorState(source string) {
	ErrorStateTotal.WithLabelValues(source).Inc()
}
