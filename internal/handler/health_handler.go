package handler

import (
	"net/http"
	"time"

	"toad-architect-go/internal/middleware"
	"toad-architect-go/internal/service"

	"github.com/gin-gonic/gin"
)

// HealthHandler 暴露依赖健康检查。
type HealthHandler struct {
	healthService service.HealthService
	now           func() time.Time
}

// NewHealthHandler 创建一个新的 HealthHandler。
func NewHealthHandler(healthService service.HealthService) *HealthHandler {
	return &HealthHandler{healthService: healthService, now: time.Now}
}

// Check 在所有依赖可用时返回 200，否则返回 503。
func (h *HealthHandler) Check(c *gin.Context) {
	report := h.healthService.Check(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":        report.Status,
		"timestamp":     h.now().UTC().Format(time.RFC3339Nano),
		"correlationId": middleware.GetCorrelationID(c),
		"services":      report.Services,
	})
}
