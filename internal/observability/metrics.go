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

// Metrics stores Prometheus collectors used by the API, the poller and delivery workers.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	messagesSentTotal   *prometheus.CounterVec
	messagesFailedTotal *prometheus.CounterVec
	messageSendDuration *prometheus.HistogramVec
	workerInflight      *prometheus.GaugeVec
	pollerTicksTotal    *prometheus.CounterVec
	robotReady          *prometheus.GaugeVec
}

const namespace = "whatsapp_dispatch"

// Poller tick results.
const (
	TickCompleted = "completed"
	TickSkipped   = "skipped"
	TickError     = "error"
)

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		messagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of WhatsApp messages acknowledged by the gateway.",
			},
			[]string{"robot"},
		),
		messagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_failed_total",
				Help:      "Total number of WhatsApp messages that ended in failed state.",
			},
			[]string{"robot", "reason"},
		),
		messageSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_send_duration_seconds",
				Help:      "Duration of a delivery attempt in seconds grouped by robot.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"robot"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_inflight",
				Help:      "Current number of in-flight delivery attempts grouped by robot.",
			},
			[]string{"robot"},
		),
		pollerTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poller_ticks_total",
				Help:      "Total number of queue poller ticks by result.",
			},
			[]string{"result"},
		),
		robotReady: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "robot_ready",
				Help:      "1 while the robot session is ready to send, 0 otherwise.",
			},
			[]string{"robot"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.messagesSentTotal,
		m.messagesFailedTotal,
		m.messageSendDuration,
		m.workerInflight,
		m.pollerTicksTotal,
		m.robotReady,
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

func (m *Metrics) IncMessageSent(robot int) {
	if m == nil {
		return
	}
	m.messagesSentTotal.WithLabelValues(robotLabel(robot)).Inc()
}

func (m *Metrics) IncMessageFailed(robot int, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.messagesFailedTotal.WithLabelValues(robotLabel(robot), reasonLabel).Inc()
}

func (m *Metrics) ObserveMessageSendDuration(robot int, duration time.Duration) {
	if m == nil {
		return
	}
	m.messageSendDuration.WithLabelValues(robotLabel(robot)).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncWorkerInFlight(robot int) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(robotLabel(robot)).Inc()
}

func (m *Metrics) DecWorkerInFlight(robot int) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(robotLabel(robot)).Dec()
}

func (m *Metrics) IncPollerTick(result string) {
	if m == nil {
		return
	}
	m.pollerTicksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetRobotReady(robot int, ready bool) {
	if m == nil {
		return
	}
	value := 0.0
	if ready {
		value = 1
	}
	m.robotReady.WithLabelValues(robotLabel(robot)).Set(value)
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

func robotLabel(robot int) string {
	if robot < 1 {
		return "unknown"
	}
	return strconv.Itoa(robot)
}
