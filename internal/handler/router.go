package handler

import (
	"toad-architect-go/internal/middleware"
	"toad-architect-go/internal/service"
	"toad-architect-go/pkg/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterDeps 汇总了路由需要的服务。JWTManager 为空时不注册管理接口。
type RouterDeps struct {
	Sessions   service.SessionService
	Chat       service.ChatService
	Health     service.HealthService
	Stats      service.StatsService
	JWTManager *token.JWTManager
	Logger     *zap.Logger
}

// NewRouter 创建路由引擎并注册全部路由。
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 关联 ID 必须在日志中间件之前，日志才能带上它
	r.Use(middleware.CorrelationID(deps.Logger), middleware.RequestLogger(), gin.Recovery())
	r.NoRoute(middleware.NotFound())

	healthHandler := NewHealthHandler(deps.Health)
	sessionHandler := NewSessionHandler(deps.Sessions)
	chatHandler := NewChatHandler(deps.Chat, deps.Sessions)

	r.GET("/health", healthHandler.Check)

	api := r.Group("/api")
	{
		api.GET("/health", healthHandler.Check)

		sessions := api.Group("/sessions")
		{
			sessions.POST("", sessionHandler.CreateSession)
			sessions.GET("/:sessionId", sessionHandler.GetSession)
			sessions.DELETE("/:sessionId", sessionHandler.DeleteSession)
			sessions.POST("/:sessionId/messages", sessionHandler.SendMessage)
			sessions.GET("/:sessionId/export", sessionHandler.ExportSession)
			sessions.POST("/:sessionId/summarize", sessionHandler.SummarizeSession)
			sessions.GET("/:sessionId/search", sessionHandler.SearchMessages)
			sessions.GET("/:sessionId/stream", chatHandler.Handle)
		}

		if deps.JWTManager != nil {
			adminHandler := NewAdminHandler(deps.Sessions, deps.Stats)
			admin := api.Group("/admin")
			admin.Use(middleware.AdminAuth(deps.JWTManager))
			{
				admin.POST("/cleanup", adminHandler.Cleanup)
				admin.GET("/stats", adminHandler.Stats)
			}
		}
	}
	return r
}
