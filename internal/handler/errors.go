// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strings"

	"toad-architect-go/internal/middleware"
	"toad-architect-go/internal/service"
	"toad-architect-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxCustomInstructions = 2000
	maxContentLength      = 5000
)

// errorResponse 将业务错误映射为统一格式的 HTTP 响应。label 用于兜底的 500 错误。
func errorResponse(err error, label string) (int, middleware.ErrorBody) {
	var (
		throttled   *service.ThrottledError
		providerErr *service.ProviderError
	)
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, middleware.ErrorBody{Error: "Session not found", Message: "The requested session does not exist"}
	case errors.Is(err, service.ErrSessionBusy):
		return http.StatusConflict, middleware.ErrorBody{Error: "Session busy", Message: "Another message is still being processed for this session. Please retry shortly."}
	case errors.Is(err, service.ErrSearchDisabled):
		return http.StatusNotFound, middleware.ErrorBody{Error: "Search not enabled", Message: "Message search is not enabled on this server"}
	case errors.As(err, &throttled):
		return http.StatusTooManyRequests, middleware.ErrorBody{Error: "Rate limit exceeded", Message: throttled.Message}
	case errors.As(err, &providerErr):
		return http.StatusInternalServerError, middleware.ErrorBody{Error: label, Message: providerErr.UserMessage()}
	default:
		return http.StatusInternalServerError, middleware.ErrorBody{Error: label, Message: "Internal server error"}
	}
}

// respondError 记录错误并返回统一格式的错误体，不会暴露内部错误细节。
func respondError(c *gin.Context, err error, label string) {
	status, body := errorResponse(err, label)
	body.CorrelationID = middleware.GetCorrelationID(c)

	logger := log.FromContext(c.Request.Context(), nil)
	if status >= http.StatusInternalServerError {
		logger.Error(label, zap.String("sessionId", c.Param("sessionId")), zap.Error(err))
	} else {
		logger.Warn(body.Error, zap.String("sessionId", c.Param("sessionId")), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

// respondValidation 返回 400 及具体的校验失败原因。
func respondValidation(c *gin.Context, details ...string) {
	log.FromContext(c.Request.Context(), nil).Warn("Validation error",
		zap.Strings("errors", details),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
	)
	c.AbortWithStatusJSON(http.StatusBadRequest, middleware.ErrorBody{
		Error:         "Validation failed",
		Message:       "Invalid input data",
		CorrelationID: middleware.GetCorrelationID(c),
		Details:       details,
	})
}

// isUUIDv4 只接受标准 36 字符格式的 v4 UUID。
func isUUIDv4(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	return err == nil && id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// sessionIDParam 校验路径参数中的会话 ID，失败时已写入响应。
func sessionIDParam(c *gin.Context) (string, bool) {
	id := c.Param("sessionId")
	if !isUUIDv4(id) {
		respondValidation(c, "Session ID must be a valid UUID")
		return "", false
	}
	return id, true
}

// normalizeContent 去掉首尾空白并校验消息长度（按字符计）。
func normalizeContent(raw string) (string, bool) {
	content := strings.TrimSpace(raw)
	n := len([]rune(content))
	return content, n >= 1 && n <= maxContentLength
}
