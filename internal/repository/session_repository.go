// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"toad-architect-go/internal/model"

	"gorm.io/gorm"
)

// ErrSessionNotFound 表示会话不存在。
var ErrSessionNotFound = errors.New("session not found")

// SessionUpdate 描述一次部分更新。nil 字段保持不变，LastAccessed 总是写入。
type SessionUpdate struct {
	LastAccessed        time.Time
	CurrentPhase        *int
	CustomInstructions  *string
	ConversationHistory []model.Message
	Summary             *model.ConversationSummary
}

// SessionRepository 定义了会话记录的持久化操作。
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	GetByID(ctx context.Context, sessionID string) (*model.Session, error)
	Update(ctx context.Context, sessionID string, update SessionUpdate) error
	Delete(ctx context.Context, sessionID string) error
	FindOlderThan(ctx context.Context, cutoff time.Time) ([]model.Session, error)
	Ping(ctx context.Context) error
}

// sessionRecord 对应 sessions 表。历史和摘要以 JSON 文本存储。
type sessionRecord struct {
	SessionID           string    `gorm:"column:session_id;type:varchar(36);primaryKey"`
	CreatedAt           time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	LastAccessed        time.Time `gorm:"column:last_accessed;not null;index"`
	CurrentPhase        int       `gorm:"column:current_phase;not null;default:1"`
	CustomInstructions  *string   `gorm:"column:custom_instructions;type:text"`
	ConversationHistory string    `gorm:"column:conversation_history;type:longtext"`
	Summary             *string   `gorm:"column:summary;type:text"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (sessionRecord) TableName() string {
	return "sessions"
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Migrate 创建或更新 sessions 表结构。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&sessionRecord{})
}

// Create 在数据库中创建一条新的会话记录。主键冲突时返回错误。
func (r *sessionRepository) Create(ctx context.Context, session *model.Session) error {
	rec, err := toRecord(session)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID 根据会话 ID 查询会话；不存在时返回 ErrSessionNotFound。
func (r *sessionRepository) GetByID(ctx context.Context, sessionID string) (*model.Session, error) {
	var rec sessionRecord
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return fromRecord(&rec)
}

// Update 对会话执行部分更新；记录不存在时返回 ErrSessionNotFound。
func (r *sessionRepository) Update(ctx context.Context, sessionID string, update SessionUpdate) error {
	fields := map[string]interface{}{
		"last_accessed": update.LastAccessed,
	}
	if update.CurrentPhase != nil {
		fields["current_phase"] = *update.CurrentPhase
	}
	if update.CustomInstructions != nil {
		fields["custom_instructions"] = *update.CustomInstructions
	}
	if update.ConversationHistory != nil {
		data, err := json.Marshal(update.ConversationHistory)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation history: %w", err)
		}
		fields["conversation_history"] = string(data)
	}
	if update.Summary != nil {
		data, err := json.Marshal(update.Summary)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation summary: %w", err)
		}
		fields["summary"] = string(data)
	}

	res := r.db.WithContext(ctx).Model(&sessionRecord{}).Where("session_id = ?", sessionID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL 在值未变化时也会返回 0，需要确认记录是否真的不存在
		var count int64
		if err := r.db.WithContext(ctx).Model(&sessionRecord{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		if count == 0 {
			return ErrSessionNotFound
		}
	}
	return nil
}

// Delete 删除一条会话记录；记录不存在时返回 ErrSessionNotFound。
func (r *sessionRepository) Delete(ctx context.Context, sessionID string) error {
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&sessionRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// FindOlderThan 返回 last_accessed 严格早于 cutoff 的所有会话。
func (r *sessionRepository) FindOlderThan(ctx context.Context, cutoff time.Time) ([]model.Session, error) {
	var recs []sessionRecord
	err := r.db.WithContext(ctx).Where("last_accessed < ?", cutoff).Order("last_accessed").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query old sessions: %w", err)
	}
	sessions := make([]model.Session, 0, len(recs))
	for i := range recs {
		s, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

// Ping 检查数据库连接是否可用。
func (r *sessionRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func toRecord(s *model.Session) (*sessionRecord, error) {
	history := s.ConversationHistory
	if history == nil {
		history = []model.Message{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	rec := &sessionRecord{
		SessionID:           s.SessionID,
		CreatedAt:           s.CreatedAt,
		LastAccessed:        s.LastAccessed,
		CurrentPhase:        s.CurrentPhase,
		CustomInstructions:  s.CustomInstructions,
		ConversationHistory: string(historyJSON),
	}
	if s.Summary != nil {
		summaryJSON, err := json.Marshal(s.Summary)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conversation summary: %w", err)
		}
		str := string(summaryJSON)
		rec.Summary = &str
	}
	return rec, nil
}

func fromRecord(rec *sessionRecord) (*model.Session, error) {
	s := &model.Session{
		SessionID:           rec.SessionID,
		CreatedAt:           rec.CreatedAt,
		LastAccessed:        rec.LastAccessed,
		CurrentPhase:        rec.CurrentPhase,
		CustomInstructions:  rec.CustomInstructions,
		ConversationHistory: []model.Message{},
	}
	if rec.ConversationHistory != "" {
		if err := json.Unmarshal([]byte(rec.ConversationHistory), &s.ConversationHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation history of %s: %w", rec.SessionID, err)
		}
		if s.ConversationHistory == nil {
			s.ConversationHistory = []model.Message{}
		}
	}
	if rec.Summary != nil && *rec.Summary != "" {
		var summary model.ConversationSummary
		if err := json.Unmarshal([]byte(*rec.Summary), &summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation summary of %s: %w", rec.SessionID, err)
		}
		s.Summary = &summary
	}
	return s, nil
}
