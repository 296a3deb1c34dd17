// Package metrics provides Prometheus metrics for the risk decision service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskauth"

// Decision metrics
var (
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of login risk decisions",
		},
		[]string{"decision", "regime"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating a login attempt, including the identity lock",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	AnomalyError = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "anomaly_error",
			Help:      "Reconstruction error of scored login attempts",
			Buckets:   []float64{0.05, 0.101, 0.15, 0.2, 0.28, 0.35, 0.5, 0.75, 1},
		},
	)

	ContextChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_changes_total",
			Help:      "Contextual changes detected against the previous login",
		},
		[]string{"change"},
	)

	EngineErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Evaluation errors by stage",
		},
		[]string{"stage"}, // lock, history_read, history_write, scorer, audit, publish
	)
)

// HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Engine error stages
const (
	StageLock         = "lock"
	StageHistoryRead  = "history_read"
	StageHistoryWrite = "history_write"
	StageScorer       = "scorer"
	StageAudit        = "audit"
	StagePublish      = "publish"
	StageChallenge    = "challenge"
)

// Recorder is the metrics sink used by the evaluation engine
type Recorder struct{}

// NewRecorder returns a Recorder backed by the default registry
func NewRecorder() *Recorder {
	return &Recorder{}
}

// ObserveDecision records one finished evaluation
func (Recorder) ObserveDecision(decision, regime string, changes []string, anomalyError float64, scored bool, elapsed time.Duration) {
	DecisionsTotal.WithLabelValues(decision, regime).Inc()
	EvaluationDuration.Observe(elapsed.Seconds())
	if scored {
		AnomalyError.Observe(anomalyError)
	}
	for _, c := range changes {
		ContextChangesTotal.WithLabelValues(c).Inc()
	}
}

// ObserveError counts a failure in the given stage
func (Recorder) ObserveError(stage string) {
	EngineErrorsTotal.WithLabelValues(stage).Inc()
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
