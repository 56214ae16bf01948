package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"toad-architect-go/internal/model"
	"toad-architect-go/pkg/llm"
	"toad-architect-go/pkg/log"

	"go.uber.org/zap"
)

// Summarizer 根据完整的会话历史计算摘要。
type Summarizer interface {
	Summarize(ctx context.Context, history []model.Message) (*model.ConversationSummary, error)
}

const (
	keyPointCount      = 5
	keyPointMaxRunes   = 100
	phaseWindow        = 3
	defaultNextStep    = "Continue architectural discussion"
	ellipsis           = "..."
	summaryMaxTokens   = 1000
	summaryTemperature = 0.3
)

// phaseRule 按顺序匹配，第一条命中的规则生效。
type phaseRule struct {
	phase    int
	keywords []string
}

var phaseRules = []phaseRule{
	{phase: 2, keywords: []string{"architectural option", "cost estimate"}},
	{phase: 3, keywords: []string{"trade-off", "scoring"}},
	{phase: 5, keywords: []string{"milestone", "planning"}},
}

// InferPhase 根据最近 3 条消息（任意角色）的内容推断所处阶段。
func InferPhase(history []model.Message) int {
	start := len(history) - phaseWindow
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, phaseWindow)
	for _, msg := range history[start:] {
		parts = append(parts, msg.Content)
	}
	text := strings.ToLower(strings.Join(parts, " "))

	for _, rule := range phaseRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.phase
			}
		}
	}
	return model.MinPhase
}

// HeuristicSummarizer 不调用模型，只根据历史文本生成摘要。
type HeuristicSummarizer struct {
	now func() time.Time
}

// NewHeuristicSummarizer 创建本地摘要器；now 为 nil 时使用 time.Now。
func NewHeuristicSummarizer(now func() time.Time) *HeuristicSummarizer {
	if now == nil {
		now = time.Now
	}
	return &HeuristicSummarizer{now: now}
}

// Summarize 取最近 5 条用户消息作为要点，并推断阶段。
func (s *HeuristicSummarizer) Summarize(_ context.Context, history []model.Message) (*model.ConversationSummary, error) {
	var userMsgs []model.Message
	for _, msg := range history {
		if msg.Role == model.RoleUser {
			userMsgs = append(userMsgs, msg)
		}
	}
	if len(userMsgs) > keyPointCount {
		userMsgs = userMsgs[len(userMsgs)-keyPointCount:]
	}

	keyPoints := make([]string, 0, len(userMsgs))
	for _, msg := range userMsgs {
		keyPoints = append(keyPoints, truncate(msg.Content, keyPointMaxRunes)+ellipsis)
	}

	return &model.ConversationSummary{
		KeyPoints:    keyPoints,
		CurrentPhase: InferPhase(history),
		NextSteps:    []string{defaultNextStep},
		LastUpdated:  s.now().UTC(),
	}, nil
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}

// CompletionSummarizer 调用模型生成 JSON 格式的摘要，失败时返回固定的兜底摘要。
type CompletionSummarizer struct {
	client llm.Client
	prompt string
	logger *zap.Logger
	now    func() time.Time
}

// NewCompletionSummarizer 创建基于模型的摘要器。prompt 为空时使用默认提示词。
func NewCompletionSummarizer(client llm.Client, prompt string, logger *zap.Logger, now func() time.Time) *CompletionSummarizer {
	if prompt == "" {
		prompt = DefaultSummarizationPrompt
	}
	if now == nil {
		now = time.Now
	}
	return &CompletionSummarizer{client: client, prompt: prompt, logger: logger, now: now}
}

type completionSummary struct {
	KeyPoints    []string `json:"keyPoints"`
	CurrentPhase int      `json:"currentPhase"`
	NextSteps    []string `json:"nextSteps"`
	LastUpdated  string   `json:"lastUpdated"`
}

// Summarize 永远不会返回错误，模型失败或输出无法解析时返回兜底摘要。
func (s *CompletionSummarizer) Summarize(ctx context.Context, history []model.Message) (*model.ConversationSummary, error) {
	logger := log.FromContext(ctx, s.logger)

	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}

	temperature := summaryTemperature
	maxTokens := summaryMaxTokens
	reply, err := s.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: s.prompt},
		{Role: llm.RoleUser, Content: "Please summarize this conversation:\n\n" + strings.Join(lines, "\n\n")},
	}, &llm.GenerationParams{Temperature: &temperature, MaxTokens: &maxTokens})
	if err != nil {
		logger.Error("生成会话摘要失败", zap.Error(err))
		return s.fallback(), nil
	}

	var parsed completionSummary
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &parsed); err != nil {
		logger.Error("解析会话摘要失败", zap.Error(err), zap.Int("replyLength", len(reply)))
		return s.fallback(), nil
	}

	summary := &model.ConversationSummary{
		KeyPoints:    parsed.KeyPoints,
		CurrentPhase: parsed.CurrentPhase,
		NextSteps:    parsed.NextSteps,
		LastUpdated:  s.now().UTC(),
	}
	if summary.KeyPoints == nil {
		summary.KeyPoints = []string{}
	}
	if summary.NextSteps == nil {
		summary.NextSteps = []string{}
	}
	if summary.CurrentPhase < model.MinPhase || summary.CurrentPhase > model.MaxPhase {
		summary.CurrentPhase = model.MinPhase
	}
	if parsed.LastUpdated != "" {
		if ts, err := time.Parse(time.RFC3339Nano, parsed.LastUpdated); err == nil {
			summary.LastUpdated = ts.UTC()
		}
	}
	return summary, nil
}

func (s *CompletionSummarizer) fallback() *model.ConversationSummary {
	return &model.ConversationSummary{
		KeyPoints:    []string{"Conversation in progress"},
		CurrentPhase: model.MinPhase,
		NextSteps:    []string{"Continue discussion"},
		LastUpdated:  s.now().UTC(),
	}
}

// stripCodeFence 去掉模型有时包裹在 JSON 外层的 ``` 代码块标记。
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
