package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"toad-architect-go/internal/model"
	"toad-architect-go/pkg/database"

	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenGorm("sqlite", filepath.Join(t.TempDir(), "toad.db"), nil)
	if err != nil {
		t.Fatalf("OpenGorm failed: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newSession(id string, at time.Time) *model.Session {
	return &model.Session{
		SessionID:           id,
		CreatedAt:           at,
		LastAccessed:        at,
		CurrentPhase:        1,
		ConversationHistory: []model.Message{},
	}
}

func TestSessionRepositoryCreateAndGet(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	instructions := "prefer serverless"
	s := newSession("0b6f3b8e-2f0c-4c57-9a43-6a1f7d2f0a11", now)
	s.CustomInstructions = &instructions
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.GetByID(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.CurrentPhase != 1 {
		t.Fatalf("expected phase 1, got %d", got.CurrentPhase)
	}
	if got.Instructions() != instructions {
		t.Fatalf("unexpected instructions %q", got.Instructions())
	}
	if len(got.ConversationHistory) != 0 {
		t.Fatalf("expected empty history, got %d", len(got.ConversationHistory))
	}
	if got.ConversationHistory == nil {
		t.Fatal("history should be an empty slice, not nil")
	}
	if !got.CreatedAt.Equal(got.LastAccessed) {
		t.Fatalf("createdAt %v != lastAccessed %v", got.CreatedAt, got.LastAccessed)
	}
	if got.Summary != nil {
		t.Fatal("expected no summary")
	}
}

func TestSessionRepositoryCreateDuplicateKey(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()
	s := newSession("dup", time.Now().UTC())
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, s); err == nil {
		t.Fatal("expected primary key collision error")
	}
}

func TestSessionRepositoryGetMissing(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRepositoryPartialUpdate(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Hour)
	s := newSession("upd", start)
	if err := repo.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	later := start.Add(30 * time.Minute)
	history := []model.Message{{ID: "m1", Timestamp: later, Role: model.RoleUser, Content: "hello"}}
	if err := repo.Update(ctx, s.SessionID, SessionUpdate{LastAccessed: later, ConversationHistory: history}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := repo.GetByID(ctx, s.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ConversationHistory) != 1 || got.ConversationHistory[0].Content != "hello" {
		t.Fatalf("unexpected history: %+v", got.ConversationHistory)
	}
	if !got.LastAccessed.Equal(later) {
		t.Fatalf("expected lastAccessed %v, got %v", later, got.LastAccessed)
	}
	if !got.CreatedAt.Equal(start) {
		t.Fatal("createdAt must not change on update")
	}
	if got.Summary != nil {
		t.Fatal("summary must stay untouched when not part of the update")
	}

	phase := 3
	summary := &model.ConversationSummary{KeyPoints: []string{"a..."}, CurrentPhase: 3, NextSteps: []string{"next"}, LastUpdated: later}
	if err := repo.Update(ctx, s.SessionID, SessionUpdate{LastAccessed: later, CurrentPhase: &phase, Summary: summary}); err != nil {
		t.Fatal(err)
	}
	got, err = repo.GetByID(ctx, s.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentPhase != 3 || got.Summary == nil || got.Summary.CurrentPhase != 3 {
		t.Fatalf("unexpected phase/summary: %d %+v", got.CurrentPhase, got.Summary)
	}
	if len(got.ConversationHistory) != 1 {
		t.Fatal("history must stay untouched when not part of the update")
	}
}

func TestSessionRepositoryFindOlderThanAndDelete(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	old := newSession("old", now.Add(-31*24*time.Hour))
	recent := newSession("recent", now.Add(-29*24*time.Hour))
	for _, s := range []*model.Session{old, recent} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	found, err := repo.FindOlderThan(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("FindOlderThan failed: %v", err)
	}
	if len(found) != 1 || found[0].SessionID != "old" {
		t.Fatalf("expected only the old session, got %+v", found)
	}

	if err := repo.Delete(ctx, "old"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second delete, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "recent"); err != nil {
		t.Fatalf("recent session should remain: %v", err)
	}
}

func TestSessionRepositoryPing(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestSessionRepositoryUpdateMissing(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	err := repo.Update(ctx, "gone", SessionUpdate{LastAccessed: now, ConversationHistory: []model.Message{}})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	// 写入与现有值相同的数据不能被误判为不存在
	s := newSession("same", now)
	if err := repo.Create(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := repo.Update(ctx, s.SessionID, SessionUpdate{LastAccessed: now}); err != nil {
		t.Fatalf("Update with unchanged values failed: %v", err)
	}
}
