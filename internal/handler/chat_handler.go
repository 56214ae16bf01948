package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"toad-architect-go/internal/service"
	"toad-architect-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理 WebSocket 流式对话连接。
type ChatHandler struct {
	chatService    service.ChatService
	sessionService service.SessionService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, sessionService service.SessionService) *ChatHandler {
	return &ChatHandler{
		chatService:    chatService,
		sessionService: sessionService,
	}
}

// streamRequest 是客户端发送的一条消息。
type streamRequest struct {
	Content string `json:"content"`
}

// streamError 是下发给客户端的错误帧。
type streamError struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handle 处理一个传入的 WebSocket 连接。每条客户端消息对应一轮对话。
func (h *ChatHandler) Handle(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	// 升级前确认会话存在，这样客户端能拿到普通的 404
	if _, err := h.sessionService.Get(c.Request.Context(), sessionID); err != nil {
		respondError(c, err, "Failed to get session")
		return
	}

	ctx := c.Request.Context()
	logger := log.FromContext(ctx, nil).With(zap.String("sessionId", sessionID))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("WebSocket 升级失败", zap.Error(err))
		return
	}
	defer conn.Close()

	logger.Info("WebSocket 连接已建立")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("从 WebSocket 读取消息失败", zap.Error(err))
			}
			break
		}

		var req streamRequest
		if err := json.Unmarshal(message, &req); err != nil {
			writeStreamError(conn, "Validation failed", "Message must be a JSON object with a content field")
			continue
		}
		content, valid := normalizeContent(req.Content)
		if !valid {
			writeStreamError(conn, "Validation failed", "Message content must be between 1 and 5000 characters")
			continue
		}

		if _, err := h.chatService.StreamResponse(ctx, sessionID, content, conn); err != nil {
			_, body := errorResponse(err, "Failed to send message")
			logger.Error("处理流式响应失败", zap.Error(err))
			writeStreamError(conn, body.Error, body.Message)
			// 会话已不存在时没有继续的必要
			if errors.Is(err, service.ErrSessionNotFound) {
				break
			}
		}
	}
}

func writeStreamError(conn *websocket.Conn, label, message string) {
	b, _ := json.Marshal(streamError{Type: "error", Error: label, Message: message})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
