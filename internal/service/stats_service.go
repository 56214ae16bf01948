package service

import (
	"context"
	"fmt"

	"toad-architect-go/internal/repository"
	"toad-architect-go/pkg/events"

	"go.uber.org/zap"
)

// 计数器名称
const (
	CounterSessionsCreated   = "sessions_created"
	CounterMessagesUser      = "messages_user"
	CounterMessagesAssistant = "messages_assistant"
	CounterSessionsDeleted   = "sessions_deleted"
	CounterSessionsExpired   = "sessions_expired"
)

// StatsService 消费会话事件并维护计数器。
type StatsService interface {
	// Process 处理一条事件，可作为 Kafka 消费者的处理函数。
	Process(ctx context.Context, event events.SessionEvent) error
	GetStats(ctx context.Context) (map[string]int64, error)
}

type statsService struct {
	statsRepo repository.StatsRepository
	logger    *zap.Logger
}

// NewStatsService 创建一个新的 StatsService 实例。
func NewStatsService(statsRepo repository.StatsRepository, logger *zap.Logger) StatsService {
	return &statsService{statsRepo: statsRepo, logger: logger}
}

func (s *statsService) Process(ctx context.Context, event events.SessionEvent) error {
	counter := counterFor(event)
	if counter == "" {
		s.logger.Debug("忽略未知事件", zap.String("type", string(event.Type)))
		return nil
	}
	if err := s.statsRepo.Increment(ctx, counter, 1); err != nil {
		return fmt.Errorf("failed to record %s event: %w", event.Type, err)
	}
	return nil
}

func (s *statsService) GetStats(ctx context.Context) (map[string]int64, error) {
	stats, err := s.statsRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{
		CounterSessionsCreated, CounterMessagesUser, CounterMessagesAssistant,
		CounterSessionsDeleted, CounterSessionsExpired,
	} {
		if _, ok := stats[name]; !ok {
			stats[name] = 0
		}
	}
	return stats, nil
}

func counterFor(event events.SessionEvent) string {
	switch event.Type {
	case events.SessionCreated:
		return CounterSessionsCreated
	case events.MessageAppended:
		if event.Role == "assistant" {
			return CounterMessagesAssistant
		}
		return CounterMessagesUser
	case events.SessionDeleted:
		if event.Reason == events.ReasonExpired {
			return CounterSessionsExpired
		}
		return CounterSessionsDeleted
	default:
		return ""
	}
}
