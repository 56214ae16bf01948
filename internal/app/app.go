// Package app 根据配置装配各个组件，供 server 与 cleanup 两个入口共用。
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"toad-architect-go/internal/config"
	"toad-architect-go/internal/repository"
	"toad-architect-go/internal/service"
	"toad-architect-go/pkg/database"
	"toad-architect-go/pkg/es"
	"toad-architect-go/pkg/kafka"
	"toad-architect-go/pkg/llm"
	"toad-architect-go/pkg/storage"
	"toad-architect-go/pkg/token"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App 持有装配完成的服务以及需要在退出时释放的资源。
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Sessions   service.SessionService
	Chat       service.ChatService
	Health     service.HealthService
	Stats      service.StatsService
	JWTManager *token.JWTManager

	db       *gorm.DB
	rdb      *redis.Client
	producer *kafka.Producer
}

// New 依次初始化数据库、Redis、Kafka、Elasticsearch 和 MinIO，然后组装服务。
// Redis 未配置时使用进程内的锁和计数器；Kafka 未启用时事件直接在进程内计数。
// Kafka 消费者由 server 自行创建，cleanup 只负责发送事件。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	// 1. 数据库
	db, err := database.OpenGorm(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := repository.Migrate(db); err != nil {
		a.Close()
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	sessionRepo := repository.NewSessionRepository(db)

	// 2. Redis：会话锁与统计计数
	lockTTL := time.Duration(cfg.Session.LockTTLSeconds) * time.Second
	lockWait := time.Duration(cfg.Session.LockWaitSeconds) * time.Second
	var (
		locker    repository.SessionLocker
		statsRepo repository.StatsRepository
	)
	if cfg.Database.Redis.Addr != "" {
		rdb, err := database.OpenRedis(ctx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.rdb = rdb
		locker = repository.NewRedisSessionLocker(rdb, lockTTL, lockWait)
		statsRepo = repository.NewStatsRepository(rdb)
	} else {
		logger.Warn("未配置 Redis，使用进程内会话锁和统计")
		locker = repository.NewLocalSessionLocker(lockWait)
		statsRepo = repository.NewMemoryStatsRepository()
	}
	a.Stats = service.NewStatsService(statsRepo, logger)

	// 3. 可选组件
	opts := []service.SessionOption{}
	if cfg.Kafka.Enabled {
		a.producer = kafka.NewProducer(cfg.Kafka, logger)
		opts = append(opts, service.WithEventPublisher(a.producer))
	} else {
		opts = append(opts, service.WithEventPublisher(service.NewLocalPublisher(a.Stats)))
	}

	if cfg.Elasticsearch.Enabled {
		index, err := es.NewMessageIndex(cfg.Elasticsearch, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := index.EnsureIndex(ctx); err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, service.WithMessageIndexer(index))
	}

	if cfg.MinIO.Enabled && cfg.Cleanup.Archive {
		store, err := storage.NewArchiveStore(ctx, cfg.MinIO, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, service.WithArchiver(store))
	}

	// 4. 服务
	llmClient := llm.NewClient(cfg.LLM)
	a.Sessions = service.NewSessionService(sessionRepo, locker, llmClient, cfg, logger, opts...)
	a.Chat = service.NewChatService(a.Sessions)
	a.Health = service.NewHealthService(sessionRepo, llmClient, logger)
	if cfg.JWT.Secret != "" {
		a.JWTManager = token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AdminTokenExpireHours)
	} else {
		logger.Warn("未配置 jwt.secret，管理接口已禁用")
	}
	return a, nil
}

// Close 释放连接，可以重复调用。
func (a *App) Close() {
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
		a.producer = nil
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
		a.rdb = nil
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
		a.db = nil
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("关闭资源时出错", zap.Error(err))
	}
}
