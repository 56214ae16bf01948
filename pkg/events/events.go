// Package events defines the session lifecycle events that are sent to Kafka.
package events

import "time"

// EventType 标识事件种类。
type EventType string

const (
	SessionCreated  EventType = "session.created"
	MessageAppended EventType = "message.appended"
	SessionDeleted  EventType = "session.deleted"
)

// 删除原因
const (
	ReasonExplicit = "explicit"
	ReasonExpired  = "expired"
)

// SessionEvent represents one change to a session.
type SessionEvent struct {
	Type          EventType `json:"type"`
	SessionID     string    `json:"session_id"`
	Role          string    `json:"role,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
