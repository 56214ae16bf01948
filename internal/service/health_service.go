package service

import (
	"context"
	"time"

	"toad-architect-go/internal/repository"
	"toad-architect-go/pkg/llm"
	"toad-architect-go/pkg/log"

	"go.uber.org/zap"
)

// 依赖状态
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	DepConnected    = "connected"
	DepError        = "error"
)

const healthProbeTimeout = 5 * time.Second

// HealthReport 描述存储与模型服务的可用性。
type HealthReport struct {
	Status   string         `json:"status"`
	Services HealthServices `json:"services"`
}

// HealthServices 是各依赖的状态。
type HealthServices struct {
	Database           string `json:"database"`
	CompletionProvider string `json:"completionProvider"`
}

// Healthy 当所有依赖都可用时返回 true。
func (r *HealthReport) Healthy() bool {
	return r.Status == StatusHealthy
}

// HealthService 检查依赖的连通性。
type HealthService interface {
	Check(ctx context.Context) *HealthReport
}

type healthService struct {
	repo      repository.SessionRepository
	llmClient llm.Client
	logger    *zap.Logger
}

// NewHealthService 创建一个新的 HealthService 实例。
func NewHealthService(repo repository.SessionRepository, llmClient llm.Client, logger *zap.Logger) HealthService {
	return &healthService{repo: repo, llmClient: llmClient, logger: logger}
}

func (s *healthService) Check(ctx context.Context) *HealthReport {
	logger := log.FromContext(ctx, s.logger)
	report := &HealthReport{
		Status:   StatusHealthy,
		Services: HealthServices{Database: DepConnected, CompletionProvider: DepConnected},
	}

	dbCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	if err := s.repo.Ping(dbCtx); err != nil {
		logger.Error("数据库健康检查失败", zap.Error(err))
		report.Services.Database = DepError
		report.Status = StatusUnhealthy
	}

	llmCtx, cancelLLM := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancelLLM()
	if err := s.llmClient.ValidateCredentials(llmCtx); err != nil {
		logger.Error("模型服务健康检查失败", zap.Error(err))
		report.Services.CompletionProvider = DepError
		report.Status = StatusUnhealthy
	}
	return report
}
