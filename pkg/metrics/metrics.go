package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标管理器
type Metrics struct {
	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 业务指标
	alertsCreatedTotal    prometheus.Counter
	alertsDedupedTotal    prometheus.Counter
	responderUpdatesTotal *prometheus.CounterVec
	pushMessagesTotal     *prometheus.CounterVec
	pollRequestsTotal     *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// NewMetrics 返回指标管理器单例。
// 指标注册到默认registry，重复注册会panic，故全局只初始化一次
func NewMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		alertsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sos_alerts_created_total",
			Help: "Total number of alerts created",
		}),
		alertsDedupedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sos_alerts_deduped_total",
			Help: "Total number of alert creations answered from the dedup window",
		}),
		responderUpdatesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_responder_updates_total",
			Help: "Total number of responder status updates applied",
		}, []string{"status"}),
		pushMessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_push_messages_total",
			Help: "Total number of messages delivered over the push channel",
		}, []string{"type"}),
		pollRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sos_poll_requests_total",
			Help: "Total number of poll requests served",
		}, []string{"stream"}),
	}
}

// AlertCreated 记录一次告警创建
func (m *Metrics) AlertCreated() { m.alertsCreatedTotal.Inc() }

// AlertDeduped 记录一次指纹去重命中
func (m *Metrics) AlertDeduped() { m.alertsDedupedTotal.Inc() }

// ResponderUpdate 记录一次响应者状态更新
func (m *Metrics) ResponderUpdate(status string) {
	m.responderUpdatesTotal.WithLabelValues(status).Inc()
}

// PushMessage 记录一次推送投递
func (m *Metrics) PushMessage(msgType string) {
	m.pushMessagesTotal.WithLabelValues(msgType).Inc()
}

// PollRequest 记录一次轮询请求
func (m *Metrics) PollRequest(stream string) {
	m.pollRequestsTotal.WithLabelValues(stream).Inc()
}

// Middleware HTTP指标中间件
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(
			c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler 暴露 /metrics 端点
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
