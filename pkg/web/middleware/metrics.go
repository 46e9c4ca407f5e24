package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 接口监控中间件，指标注册到 registerer
func Metrics(registerer prometheus.Registerer) gin.HandlerFunc {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "realtime",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"path", "method", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "realtime",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
	registerer.MustRegister(requests, duration)

	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath() // 路由定义的路径而非实际请求路径
		if path == "" {
			path = "unknown"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		requests.WithLabelValues(path, c.Request.Method, status).Inc()
		duration.WithLabelValues(path, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
