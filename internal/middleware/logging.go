package middleware

import (
	"bytes"
	"io"
	"time"

	"toad-architect-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// maxLoggedBody 是请求/响应体写入日志的最大字节数。
const maxLoggedBody = 2048

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - w.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		w.body.Write(b[:room])
	}
	return w.ResponseWriter.Write(b)
}

func truncateBody(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "...(truncated)"
	}
	return string(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// 必须注册在 CorrelationID 之后，以便使用带关联 ID 的 logger。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		// WebSocket 升级请求没有可记录的请求体，响应会被接管
		isUpgrade := c.GetHeader("Upgrade") != ""

		var requestBody []byte
		if c.Request.Body != nil && !isUpgrade {
			requestBody, _ = io.ReadAll(c.Request.Body)
			// 将读取的请求体重新设置回 c.Request.Body，以便后续处理函数可以正常读取
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		blw := &bodyLogWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		if !isUpgrade {
			c.Writer = blw
		}

		c.Next()

		logger := log.FromContext(c.Request.Context(), nil).Sugar()
		fields := []interface{}{
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		}
		if id := c.Param("sessionId"); id != "" {
			fields = append(fields, "sessionId", id)
		}
		if !isUpgrade {
			fields = append(fields,
				"requestBody", truncateBody(requestBody),
				"responseBody", blw.body.String(),
			)
		}
		logger.Infow("HTTP Request Log", fields...)
	}
}
