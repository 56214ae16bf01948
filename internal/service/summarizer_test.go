package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"toad-architect-go/internal/model"

	"go.uber.org/zap/zaptest"
)

func msgs(contents ...string) []model.Message {
	out := make([]model.Message, 0, len(contents))
	for i, c := range contents {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		out = append(out, model.Message{Role: role, Content: c})
	}
	return out
}

func TestInferPhase(t *testing.T) {
	tests := []struct {
		name    string
		history []model.Message
		want    int
	}{
		{"empty", nil, 1},
		{"options", msgs("Let's look at each Architectural Option"), 2},
		{"cost beats milestone", msgs("cost estimate first", "then the milestone plan"), 2},
		{"trade-off", msgs("hello", "build the trade-off table"), 3},
		{"scoring beats planning", msgs("scoring", "planning"), 3},
		{"milestone", msgs("a", "b", "next milestone"), 5},
		{"only last three count", msgs("cost estimate", "a", "b", "c"), 1},
		{"default", msgs("hello there"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferPhase(tt.history); got != tt.want {
				t.Fatalf("InferPhase() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHeuristicSummarizer(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := NewHeuristicSummarizer(func() time.Time { return now })

	long := strings.Repeat("é", 150)
	history := msgs("u1", "a1", "u2", "a2", "u3", "a3", "u4", "a4", "u5", "a5", long, "let's do the milestone planning")

	summary, err := s.Summarize(context.Background(), history)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"u2...", "u3...", "u4...", "u5...", strings.Repeat("é", 100) + "..."}
	if len(summary.KeyPoints) != len(want) {
		t.Fatalf("keyPoints = %v", summary.KeyPoints)
	}
	for i := range want {
		if summary.KeyPoints[i] != want[i] {
			t.Fatalf("keyPoints[%d] = %q, want %q", i, summary.KeyPoints[i], want[i])
		}
	}
	if summary.CurrentPhase != 5 {
		t.Fatalf("expected phase 5, got %d", summary.CurrentPhase)
	}
	if !summary.LastUpdated.Equal(now) {
		t.Fatalf("unexpected lastUpdated %v", summary.LastUpdated)
	}
}

func TestCompletionSummarizer(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tests := []struct {
		name      string
		reply     string
		err       error
		wantPhase int
		wantKey   string
	}{
		{"valid json", `{"keyPoints":["use kafka"],"currentPhase":3,"nextSteps":["score"]}`, nil, 3, "use kafka"},
		{"fenced json", "```json\n{\"keyPoints\":[\"fenced\"],\"currentPhase\":2}\n```", nil, 2, "fenced"},
		{"out of range phase", `{"keyPoints":["x"],"currentPhase":9}`, nil, 1, "x"},
		{"not json", "I cannot summarize", nil, 1, "Conversation in progress"},
		{"provider error", "", errors.New("boom"), 1, "Conversation in progress"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLLM{reply: tt.reply, err: tt.err}
			s := NewCompletionSummarizer(fake, "", zaptest.NewLogger(t), clock)

			summary, err := s.Summarize(context.Background(), msgs("hello", "hi"))
			if err != nil {
				t.Fatalf("Summarize should never fail: %v", err)
			}
			if summary.CurrentPhase != tt.wantPhase {
				t.Fatalf("phase = %d, want %d", summary.CurrentPhase, tt.wantPhase)
			}
			if len(summary.KeyPoints) == 0 || summary.KeyPoints[0] != tt.wantKey {
				t.Fatalf("keyPoints = %v", summary.KeyPoints)
			}
			if summary.NextSteps == nil {
				t.Fatal("nextSteps must not be nil")
			}

			call := fake.lastCall()
			if len(call) != 2 || call[0].Content != DefaultSummarizationPrompt {
				t.Fatalf("unexpected summarization request: %+v", call)
			}
			if !strings.Contains(call[1].Content, "user: hello\n\nassistant: hi") {
				t.Fatalf("conversation text not formatted: %q", call[1].Content)
			}
		})
	}
}

func TestSummarizeConversationIsNotPersisted(t *testing.T) {
	fake := &fakeLLM{reply: `{"keyPoints":["k"],"currentPhase":4,"nextSteps":[]}`}
	svc, _ := newTestService(t, fake)
	session, _ := svc.Create(context.Background(), nil)

	summary, err := svc.SummarizeConversation(context.Background(), session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if summary.CurrentPhase != 4 {
		t.Fatalf("unexpected phase %d", summary.CurrentPhase)
	}
	stored, _ := svc.Get(context.Background(), session.SessionID)
	if stored.Summary != nil || stored.CurrentPhase != 1 {
		t.Fatal("provider summary must not be written to the session")
	}
}
