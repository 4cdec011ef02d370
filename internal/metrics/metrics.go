// Package metrics объявляет Prometheus-метрики API и воркфлоу.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracker_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// MailsDispatched количество отправленных писем по результату (sent, failed).
	MailsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_mails_dispatched_total",
			Help: "Emails handed to the SMTP transport, by outcome",
		},
		[]string{"outcome"},
	)

	// WorkflowExecutions количество исполнений воркфлоу по итоговому статусу запуска.
	WorkflowExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_workflow_executions_total",
			Help: "Workflow callback executions, by resulting run status",
		},
		[]string{"status"},
	)

	// WorkflowDeliveries количество доставок воркфлоу раннером по результату.
	WorkflowDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_workflow_deliveries_total",
			Help: "Workflow deliveries performed by the runner, by outcome",
		},
		[]string{"outcome"},
	)

	// DelayedRuns число запусков в очереди отложенных на момент последнего опроса.
	DelayedRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_workflow_delayed_runs",
			Help: "Suspended workflow runs waiting in the delay queue",
		},
	)

	// CallbackBreakerState состояние предохранителя вызовов API (0=closed, 1=half-open, 2=open).
	CallbackBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracker_workflow_callback_breaker_state",
			Help: "Current state of the workflow callback circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// HTTP собирает счетчик и длительность запросов с шаблоном маршрута chi в метке path.
func HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
