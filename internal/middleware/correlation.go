// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"

	"toad-architect-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CorrelationHeader 是请求和响应中携带关联 ID 的头。
const CorrelationHeader = "X-Correlation-Id"

const (
	correlationKey   = "correlationId"
	maxCorrelationID = 128
)

// CorrelationID 复用请求头中的关联 ID，缺失时生成一个新的 UUID。
// 关联 ID 会写回响应头，并连同带有该字段的 logger 放入请求的 context。
func CorrelationID(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if id == "" || len(id) > maxCorrelationID {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(CorrelationHeader, id)

		ctx := log.WithCorrelationID(c.Request.Context(), id)
		ctx = log.WithContext(ctx, logger.With(zap.String("correlationId", id)))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetCorrelationID 返回当前请求的关联 ID。
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

// ErrorBody 是所有错误响应的统一格式。
type ErrorBody struct {
	Error         string      `json:"error"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
}

// AbortWithError 中止请求并返回统一格式的错误体。
func AbortWithError(c *gin.Context, status int, label, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{
		Error:         label,
		Message:       message,
		CorrelationID: GetCorrelationID(c),
	})
}

// NotFound 为未注册的路由返回统一格式的 404。
func NotFound() gin.HandlerFunc {
	return func(c *gin.Context) {
		AbortWithError(c, http.StatusNotFound, "Not found", "Route "+c.Request.Method+" "+c.Request.URL.Path+" not found")
	}
}
