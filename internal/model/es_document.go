package model

import "time"

// MessageDocument 定义了存储在 Elasticsearch 中的消息文档结构。
type MessageDocument struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageSearchHit 是返回给前端的单条搜索结果。
type MessageSearchHit struct {
	MessageID string    `json:"messageId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
}
