package service

import (
	"context"
	"encoding/json"
	"time"

	"toad-architect-go/pkg/llm"

	"github.com/gorilla/websocket"
)

// ChatService 通过 WebSocket 流式完成一轮对话。
type ChatService interface {
	StreamResponse(ctx context.Context, sessionID, content string, ws llm.MessageWriter) (*SendMessageResult, error)
}

type chatService struct {
	sessions SessionService
	now      func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(sessions SessionService) ChatService {
	return &chatService{sessions: sessions, now: time.Now}
}

// StreamResponse 将模型分块包装为 {"chunk":"..."} 下发，结束后发送 completion 通知。
// 失败时不发送 completion，由调用方决定如何回报错误。
func (s *chatService) StreamResponse(ctx context.Context, sessionID, content string, ws llm.MessageWriter) (*SendMessageResult, error) {
	interceptor := &wsWriterInterceptor{conn: ws}
	result, err := s.sessions.StreamMessage(ctx, sessionID, content, interceptor)
	if err != nil {
		return nil, err
	}
	s.sendCompletion(ws, result)
	return result, nil
}

// wsWriterInterceptor 把原始文本分块包装为 JSON 帧。
type wsWriterInterceptor struct {
	conn llm.MessageWriter
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func (s *chatService) sendCompletion(ws llm.MessageWriter, result *SendMessageResult) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"sessionId": result.SessionID,
		"message":   result.Message,
		"timestamp": s.now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
