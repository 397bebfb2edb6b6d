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

const metricsNamespace = "billing_dispatch"

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDuration        *prometheus.HistogramVec
	webhookDeliveriesTotal     *prometheus.CounterVec
	webhookDeliveryDuration    *prometheus.HistogramVec
	webhookRetriesTotal        *prometheus.CounterVec
	endpointsDeactivatedTotal  prometheus.Counter
	notificationsCreatedTotal  *prometheus.CounterVec
	channelSendsTotal          *prometheus.CounterVec
	channelSendDuration        *prometheus.HistogramVec
	dispatchWorkerInflight     prometheus.Gauge
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
		webhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_deliveries_total",
				Help:      "Total number of webhook delivery attempts by terminal outcome.",
			},
			[]string{"outcome"},
		),
		webhookDeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_delivery_duration_seconds",
				Help:      "Outbound webhook POST duration in seconds by outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"outcome"},
		),
		webhookRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "webhook_retries_total",
				Help:      "Total number of webhook delivery retries by trigger.",
			},
			[]string{"trigger"},
		),
		endpointsDeactivatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "endpoints_deactivated_total",
				Help:      "Total number of webhook endpoints deactivated by the health check.",
			},
		),
		notificationsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_created_total",
				Help:      "Total number of notifications created by type.",
			},
			[]string{"type"},
		),
		channelSendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "channel_sends_total",
				Help:      "Total number of external channel sends by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		),
		channelSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "channel_send_duration_seconds",
				Help:      "External channel send duration in seconds by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		dispatchWorkerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_worker_inflight",
				Help:      "Current number of dispatch messages being processed.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.webhookDeliveriesTotal,
		m.webhookDeliveryDuration,
		m.webhookRetriesTotal,
		m.endpointsDeactivatedTotal,
		m.notificationsCreatedTotal,
		m.channelSendsTotal,
		m.channelSendDuration,
		m.dispatchWorkerInflight,
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

func (m *Metrics) IncWebhookDelivery(outcome string) {
	if m == nil {
		return
	}
	m.webhookDeliveriesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveWebhookDeliveryDuration(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.webhookDeliveryDuration.WithLabelValues(normalizeLabel(outcome)).Observe(seconds)
}

func (m *Metrics) IncWebhookRetry(trigger string) {
	if m == nil {
		return
	}
	m.webhookRetriesTotal.WithLabelValues(normalizeLabel(trigger)).Inc()
}

func (m *Metrics) IncEndpointDeactivated() {
	if m == nil {
		return
	}
	m.endpointsDeactivatedTotal.Inc()
}

func (m *Metrics) IncNotificationCreated(notificationType string) {
	if m == nil {
		return
	}
	m.notificationsCreatedTotal.WithLabelValues(normalizeLabel(notificationType)).Inc()
}

func (m *Metrics) IncChannelSend(channel string, outcome string) {
	if m == nil {
		return
	}
	m.channelSendsTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveChannelSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.channelSendDuration.WithLabelValues(normalizeLabel(channel)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.dispatchWorkerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.dispatchWorkerInflight.Dec()
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
