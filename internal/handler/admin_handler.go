package handler

import (
	"errors"
	"io"
	"net/http"

	"toad-architect-go/internal/service"
	"toad-architect-go/pkg/log"
	"toad-architect-go/pkg/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler 负责处理运维相关的 API 请求，需要管理员 token。
type AdminHandler struct {
	sessionService service.SessionService
	statsService   service.StatsService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(sessionService service.SessionService, statsService service.StatsService) *AdminHandler {
	return &AdminHandler{
		sessionService: sessionService,
		statsService:   statsService,
	}
}

// CleanupRequest 定义了清理 API 的请求体，Days 省略时使用配置的保留天数。
type CleanupRequest struct {
	Days int `json:"days" binding:"omitempty,min=1,max=3650"`
}

// Cleanup 删除超过保留期的会话，返回删除数量。
func (h *AdminHandler) Cleanup(c *gin.Context) {
	var req CleanupRequest
	// 请求体可以省略
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondValidation(c, "days must be an integer between 1 and 3650")
		return
	}

	logger := log.FromContext(c.Request.Context(), nil)
	if claimsValue, ok := c.Get("claims"); ok {
		if claims, ok := claimsValue.(*token.CustomClaims); ok {
			logger = logger.With(zap.String("admin", claims.Subject))
		}
	}

	deleted, err := h.sessionService.CleanupOldSessions(c.Request.Context(), req.Days)
	if err != nil {
		respondError(c, err, "Failed to clean up sessions")
		return
	}
	logger.Info("手动清理过期会话完成", zap.Int("deletedCount", deleted), zap.Int("days", req.Days))
	c.JSON(http.StatusOK, gin.H{"deletedCount": deleted})
}

// Stats 返回会话事件计数。
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.statsService.GetStats(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}
