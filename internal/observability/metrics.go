package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "docflow"

// Metrics stores Prometheus collectors used by the API, worker and scheduler.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	batchesTotal            *prometheus.CounterVec
	filesProcessedTotal     *prometheus.CounterVec
	fileProcessDuration     prometheus.Histogram
	workerInflight          *prometheus.GaugeVec
	webhookDeliveriesTotal  *prometheus.CounterVec
	webhookDispatchDuration prometheus.Histogram
	webhookRetryScheduled   prometheus.Counter
	retrySweepClaimedTotal  prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batches_total",
				Help:      "Total number of batch lifecycle transitions grouped by event (created, completed, cancelled).",
			},
			[]string{"event"},
		),
		filesProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "files_processed_total",
				Help:      "Total number of files that reached a terminal status.",
			},
			[]string{"status"},
		),
		fileProcessDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "file_process_duration_seconds",
				Help:      "Document processor call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker operations grouped by queue.",
			},
			[]string{"queue"},
		),
		webhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_deliveries_total",
				Help:      "Total number of webhook dispatch outcomes grouped by result (success, retry, failed).",
			},
			[]string{"result"},
		),
		webhookDispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_dispatch_duration_seconds",
				Help:      "Outbound webhook call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		webhookRetryScheduled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_retry_scheduled_total",
				Help:      "Total number of webhook deliveries scheduled for another attempt.",
			},
		),
		retrySweepClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retry_sweep_claimed_total",
				Help:      "Total number of due deliveries claimed by retry sweeps.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesTotal,
		m.filesProcessedTotal,
		m.fileProcessDuration,
		m.workerInflight,
		m.webhookDeliveriesTotal,
		m.webhookDispatchDuration,
		m.webhookRetryScheduled,
		m.retrySweepClaimedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchCreated() {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues("created").Inc()
}

func (m *Metrics) IncBatchCompleted() {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues("completed").Inc()
}

func (m *Metrics) IncBatchCancelled() {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues("cancelled").Inc()
}

func (m *Metrics) IncFileProcessed(status string) {
	if m == nil {
		return
	}
	m.filesProcessedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveFileProcessDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.fileProcessDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncWorkerInFlight(queue string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(queue)).Inc()
}

func (m *Metrics) DecWorkerInFlight(queue string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(queue)).Dec()
}

func (m *Metrics) IncWebhookDelivery(result string) {
	if m == nil {
		return
	}
	m.webhookDeliveriesTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveWebhookDispatchDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.webhookDispatchDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncWebhookRetryScheduled() {
	if m == nil {
		return
	}
	m.webhookRetryScheduled.Inc()
}

func (m *Metrics) AddRetrySweepClaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.retrySweepClaimedTotal.Add(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func nonNegativeSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}
