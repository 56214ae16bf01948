// Package model 包含了应用的数据模型定义。
package model

import "time"

// Role 表示消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// 会话阶段的取值范围。
const (
	MinPhase = 1
	MaxPhase = 5
)

// Message 是会话历史中的单条消息，创建后不再修改。
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
}

// ConversationSummary 是根据历史整体重新计算出的摘要。
type ConversationSummary struct {
	KeyPoints    []string  `json:"keyPoints"`
	CurrentPhase int       `json:"currentPhase"`
	NextSteps    []string  `json:"nextSteps"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Session 是唯一持久化的实体，以 SessionID 为主键。
type Session struct {
	SessionID           string               `json:"sessionId"`
	CreatedAt           time.Time            `json:"createdAt"`
	LastAccessed        time.Time            `json:"lastAccessed"`
	CurrentPhase        int                  `json:"currentPhase"`
	CustomInstructions  *string              `json:"customInstructions,omitempty"`
	ConversationHistory []Message            `json:"conversationHistory"`
	Summary             *ConversationSummary `json:"summary,omitempty"`
}

// Instructions 返回自定义指令，未设置时为空字符串。
func (s *Session) Instructions() string {
	if s.CustomInstructions == nil {
		return ""
	}
	return *s.CustomInstructions
}
