package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/corpus-qa/internal/core/domain"
)

// HTTPServerMetrics owns the process registry: HTTP traffic plus retrieval pipeline
// measurements. It implements ports.RetrievalObserver.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	stageDuration     *prometheus.HistogramVec
	fallbacksTotal    *prometheus.CounterVec
	selectionsTotal   *prometheus.CounterVec
	selectedPassages  *prometheus.HistogramVec
	promptTokens      *prometheus.HistogramVec
	conversationTrims *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corpusqa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "corpusqa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corpusqa",
			Subsystem: "retrieval",
			Name:      "stage_duration_seconds",
			Help:      "Retrieval pipeline stage duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"service", "stage"},
	)
	fallbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusqa",
			Subsystem: "retrieval",
			Name:      "fallbacks_total",
			Help:      "Total degraded retrieval paths by fallback.",
		},
		[]string{"service", "fallback"},
	)
	selectionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusqa",
			Subsystem: "retrieval",
			Name:      "selections_total",
			Help:      "Total successful retrievals by selection mode and filter mode.",
		},
		[]string{"service", "mode", "filter_mode"},
	)
	selectedPassages := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corpusqa",
			Subsystem: "retrieval",
			Name:      "selected_passages",
			Help:      "Distribution of passages returned per retrieval.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
		},
		[]string{"service", "mode"},
	)
	promptTokens := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corpusqa",
			Subsystem: "conversation",
			Name:      "prompt_tokens",
			Help:      "Estimated prompt tokens per answered turn.",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 12),
		},
		[]string{"service", "model"},
	)
	conversationTrims := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpusqa",
			Subsystem: "conversation",
			Name:      "trimmed_total",
			Help:      "Total turns and passages dropped to fit the context window.",
		},
		[]string{"service", "kind"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		stageDuration,
		fallbacksTotal,
		selectionsTotal,
		selectedPassages,
		promptTokens,
		conversationTrims,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		service:           service,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		stageDuration:     stageDuration,
		fallbacksTotal:    fallbacksTotal,
		selectionsTotal:   selectionsTotal,
		selectedPassages:  selectedPassages,
		promptTokens:      promptTokens,
		conversationTrims: conversationTrims,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		// the mux fills Pattern on match; raw paths would explode label cardinality
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) ObserveStage(stage string, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(m.service, stage).Observe(elapsed.Seconds())
}

func (m *HTTPServerMetrics) ObserveFallback(fallback string) {
	if fallback == "" {
		fallback = "unknown"
	}
	m.fallbacksTotal.WithLabelValues(m.service, fallback).Inc()
}

func (m *HTTPServerMetrics) ObserveSelection(mode domain.SelectionMode, filterMode domain.FilterMode, passages int) {
	m.selectionsTotal.WithLabelValues(m.service, string(mode), string(filterMode)).Inc()
	m.selectedPassages.WithLabelValues(m.service, string(mode)).Observe(float64(passages))
}

func (m *HTTPServerMetrics) ObservePlan(model string, plan domain.ConversationPlan) {
	if model == "" {
		model = "unknown"
	}
	m.promptTokens.WithLabelValues(m.service, model).Observe(float64(plan.EstimatedTokens))
	if plan.DroppedTurns > 0 {
		m.conversationTrims.WithLabelValues(m.service, "turns").Add(float64(plan.DroppedTurns))
	}
	if plan.DroppedPassages > 0 {
		m.conversationTrims.WithLabelValues(m.service, "passages").Add(float64(plan.DroppedPassages))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
