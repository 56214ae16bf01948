package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"toad-architect-go/internal/config"
	"toad-architect-go/internal/model"
	"toad-architect-go/internal/repository"
	"toad-architect-go/pkg/events"
	"toad-architect-go/pkg/llm"
	"toad-architect-go/pkg/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SendMessageResult 是一轮对话的结果。
type SendMessageResult struct {
	SessionID           string          `json:"sessionId"`
	Message             model.Message   `json:"message"`
	ConversationHistory []model.Message `json:"conversationHistory"`
}

// SessionService 定义了会话生命周期相关的业务操作。
type SessionService interface {
	Create(ctx context.Context, customInstructions *string) (*model.Session, error)
	Get(ctx context.Context, sessionID string) (*model.Session, error)
	Delete(ctx context.Context, sessionID string) error
	SendMessage(ctx context.Context, sessionID, content string) (*SendMessageResult, error)
	// StreamMessage 与 SendMessage 相同，但把模型回复的分块实时写入 writer。
	StreamMessage(ctx context.Context, sessionID, content string, writer llm.MessageWriter) (*SendMessageResult, error)
	SummarizeConversation(ctx context.Context, sessionID string) (*model.ConversationSummary, error)
	Export(ctx context.Context, sessionID string, format ExportFormat) (*ExportDocument, error)
	SearchMessages(ctx context.Context, sessionID, query string, size int) ([]model.MessageSearchHit, error)
	CleanupOldSessions(ctx context.Context, retentionDays int) (int, error)
}

// SessionOption 用于替换 sessionService 的可选依赖。
type SessionOption func(*sessionService)

// WithEventPublisher 设置事件发布器。
func WithEventPublisher(p EventPublisher) SessionOption {
	return func(s *sessionService) { s.publisher = p }
}

// WithMessageIndexer 启用消息索引与检索。
func WithMessageIndexer(idx MessageIndexer) SessionOption {
	return func(s *sessionService) { s.indexer = idx }
}

// WithArchiver 启用清理前归档。
func WithArchiver(a SessionArchiver) SessionOption {
	return func(s *sessionService) { s.archiver = a }
}

// WithClock 替换时间来源，测试中使用。
func WithClock(now func() time.Time) SessionOption {
	return func(s *sessionService) { s.now = now }
}

// WithHistorySummarizer 替换历史长度触发的摘要器。
func WithHistorySummarizer(sum Summarizer) SessionOption {
	return func(s *sessionService) { s.historySummarizer = sum }
}

// WithContextSummarizer 替换上下文裁剪时使用的摘要器。
func WithContextSummarizer(sum Summarizer) SessionOption {
	return func(s *sessionService) { s.contextSummarizer = sum }
}

type sessionService struct {
	repo              repository.SessionRepository
	locker            repository.SessionLocker
	llmClient         llm.Client
	cfg               config.SessionConfig
	retentionDays     int
	systemPrompt      string
	historySummarizer Summarizer
	contextSummarizer Summarizer
	publisher         EventPublisher
	indexer           MessageIndexer
	archiver          SessionArchiver
	logger            *zap.Logger
	now               func() time.Time
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(
	repo repository.SessionRepository,
	locker repository.SessionLocker,
	llmClient llm.Client,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...SessionOption,
) SessionService {
	s := &sessionService{
		repo:          repo,
		locker:        locker,
		llmClient:     llmClient,
		cfg:           cfg.Session,
		retentionDays: cfg.Cleanup.RetentionDays,
		systemPrompt:  cfg.LLM.Prompt.System,
		publisher:     noopPublisher{},
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.systemPrompt == "" {
		s.systemPrompt = DefaultSystemPrompt
	}
	if s.historySummarizer == nil {
		s.historySummarizer = NewHeuristicSummarizer(s.now)
	}
	if s.contextSummarizer == nil {
		s.contextSummarizer = NewCompletionSummarizer(llmClient, cfg.LLM.Prompt.Summarization, logger, s.now)
	}
	return s
}

func (s *sessionService) ctxLogger(ctx context.Context) *zap.Logger {
	return log.FromContext(ctx, s.logger)
}

// Create 分配新的会话 ID 并持久化一个空会话。
func (s *sessionService) Create(ctx context.Context, customInstructions *string) (*model.Session, error) {
	now := s.now().UTC()
	if customInstructions != nil && *customInstructions == "" {
		customInstructions = nil
	}
	session := &model.Session{
		SessionID:           uuid.NewString(),
		CreatedAt:           now,
		LastAccessed:        now,
		CurrentPhase:        model.MinPhase,
		CustomInstructions:  customInstructions,
		ConversationHistory: []model.Message{},
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, &StoreError{Op: "create", Err: err}
	}

	s.ctxLogger(ctx).Info("会话已创建", zap.String("sessionId", session.SessionID))
	s.publish(ctx, events.SessionEvent{Type: events.SessionCreated, SessionID: session.SessionID})
	return session, nil
}

// Get 只读取，不更新 lastAccessed。
func (s *sessionService) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, storeErr("get", err)
	}
	return session, nil
}

// Delete 显式删除会话。与 runTurn 共用会话锁，进行中的一轮对话结束后才会删除。
func (s *sessionService) Delete(ctx context.Context, sessionID string) error {
	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return storeErr("delete", err)
	}
	s.ctxLogger(ctx).Info("会话已删除", zap.String("sessionId", sessionID))
	s.afterDelete(ctx, sessionID, events.ReasonExplicit)
	return nil
}

func (s *sessionService) SendMessage(ctx context.Context, sessionID, content string) (*SendMessageResult, error) {
	return s.runTurn(ctx, sessionID, content, nil)
}

func (s *sessionService) StreamMessage(ctx context.Context, sessionID, content string, writer llm.MessageWriter) (*SendMessageResult, error) {
	if writer == nil {
		return nil, errors.New("stream writer is required")
	}
	return s.runTurn(ctx, sessionID, content, writer)
}

// runTurn 在会话锁内完成一轮对话：持久化用户消息、调用模型、持久化助手消息。
func (s *sessionService) runTurn(ctx context.Context, sessionID, content string, writer llm.MessageWriter) (*SendMessageResult, error) {
	logger := s.ctxLogger(ctx).With(zap.String("sessionId", sessionID))

	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, storeErr("get", err)
	}

	userMsg := s.newMessage(model.RoleUser, content)
	if err := s.appendMessage(ctx, session, userMsg); err != nil {
		return nil, err
	}
	logger.Info("用户消息已保存", zap.Int("contentLength", len(content)))

	start := s.now()
	messages := s.composeMessages(ctx, session)
	var reply string
	if writer != nil {
		reply, err = s.llmClient.StreamChatMessages(ctx, messages, nil, writer)
	} else {
		reply, err = s.llmClient.Complete(ctx, messages, nil)
	}
	if err != nil {
		logger.Error("模型调用失败", zap.Error(err), zap.Duration("duration", s.now().Sub(start)))
		return nil, classifyProviderError(err)
	}
	logger.Info("模型回复完成",
		zap.Int("responseLength", len(reply)),
		zap.Duration("duration", s.now().Sub(start)),
	)

	assistantMsg := s.newMessage(model.RoleAssistant, reply)
	if err := s.appendMessage(ctx, session, assistantMsg); err != nil {
		return nil, err
	}

	return &SendMessageResult{
		SessionID:           sessionID,
		Message:             assistantMsg,
		ConversationHistory: session.ConversationHistory,
	}, nil
}

// lock 获取会话锁，等待超时映射为 ErrSessionBusy。
func (s *sessionService) lock(ctx context.Context, sessionID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrLockTimeout) {
			return nil, ErrSessionBusy
		}
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &StoreError{Op: "lock", Err: err}
	}
	return unlock, nil
}

func (s *sessionService) newMessage(role model.Role, content string) model.Message {
	return model.Message{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC(),
		Role:      role,
		Content:   content,
	}
}

// appendMessage 追加消息并持久化；历史超过阈值时重新计算摘要。
// 调用方必须持有会话锁。成功后 session 反映持久化后的状态。
func (s *sessionService) appendMessage(ctx context.Context, session *model.Session, msg model.Message) error {
	history := make([]model.Message, len(session.ConversationHistory), len(session.ConversationHistory)+1)
	copy(history, session.ConversationHistory)
	history = append(history, msg)

	update := repository.SessionUpdate{
		LastAccessed:        s.now().UTC(),
		ConversationHistory: history,
	}
	phase := session.CurrentPhase
	if len(history) > s.cfg.SummaryThreshold {
		summary, err := s.historySummarizer.Summarize(ctx, history)
		if err != nil {
			return fmt.Errorf("failed to summarize history: %w", err)
		}
		update.Summary = summary
		// 阶段只升不降
		if summary.CurrentPhase > phase {
			phase = summary.CurrentPhase
			update.CurrentPhase = &phase
		}
	}

	if err := s.repo.Update(ctx, session.SessionID, update); err != nil {
		return storeErr("update", err)
	}

	session.ConversationHistory = history
	session.LastAccessed = update.LastAccessed
	session.CurrentPhase = phase
	if update.Summary != nil {
		session.Summary = update.Summary
	}

	s.publish(ctx, events.SessionEvent{Type: events.MessageAppended, SessionID: session.SessionID, Role: string(msg.Role)})
	s.index(ctx, session.SessionID, msg)
	return nil
}

// composeMessages 组装发送给模型的消息列表，超过窗口上限时用摘要替换较早的历史。
func (s *sessionService) composeMessages(ctx context.Context, session *model.Session) []llm.Message {
	history := session.ConversationHistory
	system := llm.Message{Role: llm.RoleSystem, Content: buildSystemPrompt(s.systemPrompt, session.Instructions())}

	if len(history)+1 <= s.cfg.ContextWindowMax {
		msgs := make([]llm.Message, 0, len(history)+1)
		msgs = append(msgs, system)
		return append(msgs, toLLMMessages(history)...)
	}

	summary, err := s.contextSummarizer.Summarize(ctx, history)
	if err != nil {
		s.ctxLogger(ctx).Warn("上下文摘要失败，仅保留最近消息", zap.Error(err))
		summary = nil
	}

	keep := s.cfg.ContextWindowKeep
	if keep > len(history) {
		keep = len(history)
	}
	tail := history[len(history)-keep:]

	msgs := make([]llm.Message, 0, keep+2)
	msgs = append(msgs, system)
	if summary != nil {
		encoded, _ := json.Marshal(summary)
		msgs = append(msgs, llm.Message{
			Role:    llm.RoleSystem,
			Content: fmt.Sprintf("Previous conversation summary: %s\n\nContinue the conversation based on this context.", encoded),
		})
	}
	return append(msgs, toLLMMessages(tail)...)
}

func toLLMMessages(history []model.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// SummarizeConversation 使用模型生成摘要，结果不落库。
func (s *sessionService) SummarizeConversation(ctx context.Context, sessionID string) (*model.ConversationSummary, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.contextSummarizer.Summarize(ctx, session.ConversationHistory)
}

// Export 渲染会话，不修改任何字段。
func (s *sessionService) Export(ctx context.Context, sessionID string, format ExportFormat) (*ExportDocument, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	doc, err := buildExport(session, format)
	if err != nil {
		return nil, err
	}
	s.ctxLogger(ctx).Info("会话已导出", zap.String("sessionId", sessionID), zap.String("format", string(format)))
	return doc, nil
}

// SearchMessages 在会话内检索消息。
func (s *sessionService) SearchMessages(ctx context.Context, sessionID, query string, size int) ([]model.MessageSearchHit, error) {
	if s.indexer == nil {
		return nil, ErrSearchDisabled
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	hits, err := s.indexer.SearchMessages(ctx, sessionID, query, size)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return hits, nil
}

const archivePrefix = "sessions/"

// CleanupOldSessions 删除 lastAccessed 早于保留期的会话，返回成功删除的数量。
// 单条失败只记录日志并跳过。retentionDays <= 0 时使用配置的默认值。
func (s *sessionService) CleanupOldSessions(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = s.retentionDays
	}
	logger := s.ctxLogger(ctx).With(zap.Int("retentionDays", retentionDays))
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)

	expired, err := s.repo.FindOlderThan(ctx, cutoff)
	if err != nil {
		return 0, &StoreError{Op: "find expired", Err: err}
	}
	logger.Info("开始清理过期会话", zap.Time("cutoff", cutoff), zap.Int("candidates", len(expired)))

	deleted := 0
	for i := range expired {
		session := &expired[i]
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if s.archiver != nil {
			doc, err := buildExport(session, ExportMarkdown)
			if err == nil {
				err = s.archiver.Archive(ctx, archivePrefix+doc.Filename, doc.ContentType, doc.Body)
			}
			if err != nil {
				logger.Error("归档会话失败，跳过删除", zap.String("sessionId", session.SessionID), zap.Error(err))
				continue
			}
		}
		if err := s.repo.Delete(ctx, session.SessionID); err != nil {
			logger.Error("删除过期会话失败", zap.String("sessionId", session.SessionID), zap.Error(err))
			continue
		}
		deleted++
		s.afterDelete(ctx, session.SessionID, events.ReasonExpired)
	}

	logger.Info("过期会话清理完成", zap.Int("deletedCount", deleted))
	return deleted, nil
}

func (s *sessionService) afterDelete(ctx context.Context, sessionID, reason string) {
	s.publish(ctx, events.SessionEvent{Type: events.SessionDeleted, SessionID: sessionID, Reason: reason})
	if s.indexer != nil {
		if err := s.indexer.DeleteSession(context.WithoutCancel(ctx), sessionID); err != nil {
			s.ctxLogger(ctx).Warn("删除会话索引失败", zap.String("sessionId", sessionID), zap.Error(err))
		}
	}
}

// publish 尽力发布事件，失败只记录日志。
func (s *sessionService) publish(ctx context.Context, event events.SessionEvent) {
	event.CorrelationID = log.CorrelationID(ctx)
	event.OccurredAt = s.now().UTC()
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.ctxLogger(ctx).Warn("发布会话事件失败",
			zap.String("type", string(event.Type)),
			zap.String("sessionId", event.SessionID),
			zap.Error(err),
		)
	}
}

func (s *sessionService) index(ctx context.Context, sessionID string, msg model.Message) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexMessage(context.WithoutCancel(ctx), sessionID, msg); err != nil {
		s.ctxLogger(ctx).Warn("消息索引失败", zap.String("sessionId", sessionID), zap.String("messageId", msg.ID), zap.Error(err))
	}
}
