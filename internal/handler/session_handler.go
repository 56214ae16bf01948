package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"toad-architect-go/internal/service"
	"toad-architect-go/pkg/log"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultSearchSize = 10
	maxSearchSize     = 50
)

// SessionHandler 负责处理会话相关的 API 请求。
type SessionHandler struct {
	sessionService service.SessionService
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// CreateSessionRequest 定义了创建会话 API 的请求体结构。
type CreateSessionRequest struct {
	CustomInstructions *string `json:"customInstructions"`
}

// SendMessageRequest 定义了发送消息 API 的请求体结构。
type SendMessageRequest struct {
	Content *string `json:"content" binding:"required"`
}

// CreateSession 处理创建新会话的请求。请求体可以为空。
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondValidation(c, "Custom instructions must be a string with maximum 2000 characters")
		return
	}
	if req.CustomInstructions != nil {
		ci := strings.TrimSpace(*req.CustomInstructions)
		if len([]rune(ci)) > maxCustomInstructions {
			respondValidation(c, "Custom instructions must be a string with maximum 2000 characters")
			return
		}
		req.CustomInstructions = &ci
	}

	session, err := h.sessionService.Create(c.Request.Context(), req.CustomInstructions)
	if err != nil {
		respondError(c, err, "Failed to create session")
		return
	}
	c.JSON(http.StatusCreated, session)
}

// GetSession 返回完整的会话记录。
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	session, err := h.sessionService.Get(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err, "Failed to get session")
		return
	}
	c.JSON(http.StatusOK, session)
}

// DeleteSession 显式删除会话。
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.sessionService.Delete(c.Request.Context(), sessionID); err != nil {
		respondError(c, err, "Failed to delete session")
		return
	}
	c.Status(http.StatusNoContent)
}

// SendMessage 处理一轮对话，返回助手消息和完整历史。
func (h *SessionHandler) SendMessage(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "Message content must be between 1 and 5000 characters")
		return
	}
	content, valid := normalizeContent(*req.Content)
	if !valid {
		respondValidation(c, "Message content must be between 1 and 5000 characters")
		return
	}

	result, err := h.sessionService.SendMessage(c.Request.Context(), sessionID, content)
	if err != nil {
		respondError(c, err, "Failed to send message")
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExportSession 以附件形式下载会话文档，format=html 时返回 HTML。
func (h *SessionHandler) ExportSession(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	format, err := service.ParseExportFormat(c.Query("format"))
	if err != nil {
		respondValidation(c, "Export format must be markdown or html")
		return
	}

	doc, err := h.sessionService.Export(c.Request.Context(), sessionID, format)
	if err != nil {
		respondError(c, err, "Failed to export session")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.Filename))
	c.Data(http.StatusOK, doc.ContentType, doc.Body)
}

// SummarizeSession 使用模型生成摘要，不修改会话。
func (h *SessionHandler) SummarizeSession(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	summary, err := h.sessionService.SummarizeConversation(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err, "Failed to summarize session")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// SearchMessages 在会话内全文检索消息。
func (h *SessionHandler) SearchMessages(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		respondValidation(c, "Query parameter q is required")
		return
	}
	size := defaultSearchSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchSize {
			respondValidation(c, fmt.Sprintf("size must be between 1 and %d", maxSearchSize))
			return
		}
		size = n
	}

	hits, err := h.sessionService.SearchMessages(c.Request.Context(), sessionID, query, size)
	if err != nil {
		respondError(c, err, "Failed to search messages")
		return
	}
	log.FromContext(c.Request.Context(), nil).Debug("消息检索完成", zap.Int("hits", len(hits)))
	c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "query": query, "results": hits})
}
