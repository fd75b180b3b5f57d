package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrorCodeKey 是 gin.Context 中业务错误码的键，由错误响应写入方设置。
const ErrorCodeKey = "errcode"

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP 请求耗时分布（秒）。",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	requestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "当前正在处理的 HTTP 请求数量。",
		},
	)

	// apiErrors 按业务错误码统计（4003 越权、4022 超限等），比状态码更细。
	apiErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "按业务错误码统计的错误响应数。",
		},
		[]string{"path", "code"},
	)
)

// GinMiddleware 采集请求耗时与错误码。
// 未匹配路由的请求统一记为 "unmatched"，避免按原始路径产生大量标签。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestsInFlight.Inc()
		defer requestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		requestDuration.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())

		if code := c.GetInt(ErrorCodeKey); code != 0 {
			apiErrors.WithLabelValues(path, strconv.Itoa(code)).Inc()
		}
	}
}
