package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// Logger 访问日志，quiet 中的路径只在失败时记录
//
// 只记录路径，不记录 query，WebSocket 握手的凭证可能在 query 中。
func Logger(l logger.Logger, quiet ...string) gin.HandlerFunc {
	l = l.Named("web.access")
	skip := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		ctx := c.Request.Context()
		fields := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"ip", c.ClientIP(),
			"latency", time.Since(start),
			"bytes", c.Writer.Size(),
		}
		if id := c.GetHeader(requestIDHeader); id != "" {
			fields = append(fields, "request_id", id)
		}

		switch {
		case len(c.Errors) > 0:
			l.ErrorContext(ctx, "http request failed", append(fields, "errors", c.Errors.String())...)
		case status >= 500:
			l.ErrorContext(ctx, "http request", fields...)
		case status >= 400:
			l.WarnContext(ctx, "http request", fields...)
		default:
			if _, ok := skip[path]; ok {
				return
			}
			l.DebugContext(ctx, "http request", append(fields, "user_agent", c.Request.UserAgent())...)
		}
	}
}
