package service

import (
	"context"

	"toad-architect-go/internal/model"
	"toad-architect-go/pkg/events"
)

// EventPublisher 发布会话生命周期事件。
type EventPublisher interface {
	Publish(ctx context.Context, event events.SessionEvent) error
}

// MessageIndexer 为消息建立全文索引并支持检索。
type MessageIndexer interface {
	IndexMessage(ctx context.Context, sessionID string, msg model.Message) error
	SearchMessages(ctx context.Context, sessionID, query string, size int) ([]model.MessageSearchHit, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// SessionArchiver 在清理前保存会话的导出文档。
type SessionArchiver interface {
	Archive(ctx context.Context, objectName, contentType string, body []byte) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, events.SessionEvent) error { return nil }

// localPublisher 在未启用 Kafka 时把事件直接交给 StatsService。
type localPublisher struct {
	stats StatsService
}

// NewLocalPublisher 返回一个同步处理事件的 EventPublisher。
func NewLocalPublisher(stats StatsService) EventPublisher {
	return &localPublisher{stats: stats}
}

func (p *localPublisher) Publish(ctx context.Context, event events.SessionEvent) error {
	return p.stats.Process(ctx, event)
}
