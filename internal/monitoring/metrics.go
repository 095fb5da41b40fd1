package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 网关指标
	GatewayConnections prometheus.Gauge
	InboundMessages    *prometheus.CounterVec
	InboundThrottled   prometheus.Counter

	// 投递指标
	NoticesDelivered     prometheus.Counter
	NoticesUndeliverable prometheus.Counter

	// 业务指标
	UsersRegistered  prometheus.Counter
	AddressesCreated prometheus.Counter
	AddressesSwept   *prometheus.CounterVec

	// 清理任务指标
	SweepDuration *prometheus.HistogramVec
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "songrelay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "songrelay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		GatewayConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "songrelay_gateway_connections",
				Help: "Number of open gateway connections",
			},
		),

		InboundMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "songrelay_gateway_inbound_messages_total",
				Help: "Total number of inbound gateway messages",
			},
			[]string{"type"},
		),

		InboundThrottled: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "songrelay_gateway_inbound_throttled_total",
				Help: "Inbound messages dropped by per-client flood control",
			},
		),

		NoticesDelivered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "songrelay_notices_delivered_total",
				Help: "Notices successfully delivered to a chat",
			},
		),

		NoticesUndeliverable: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "songrelay_notices_undeliverable_total",
				Help: "Notices dropped because no chat member was reachable",
			},
		),

		UsersRegistered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "songrelay_users_registered_total",
				Help: "Total number of registered users",
			},
		),

		AddressesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "songrelay_addresses_created_total",
				Help: "Total number of address codes created",
			},
		),

		AddressesSwept: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "songrelay_addresses_swept_total",
				Help: "Address codes handled by the cleanup sweeps",
			},
			[]string{"sweep"},
		),

		SweepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "songrelay_sweep_duration_seconds",
				Help:    "Duration of cleanup sweep runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sweep"},
		),
	}
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware 记录 HTTP 请求指标的 gin 中间件。
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}

		m.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}
