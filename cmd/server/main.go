// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toad-architect-go/internal/app"
	"toad-architect-go/internal/config"
	"toad-architect-go/internal/handler"
	"toad-architect-go/pkg/kafka"
	"toad-architect-go/pkg/log"

	"github.com/gin-gonic/gin"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	logger, err := log.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }() // 确保在程序退出时刷新所有缓冲的日志条目
	logger.Info("日志记录器初始化成功")

	if err := run(cfg, logger); err != nil {
		logger.Error("服务异常退出", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化存储与服务
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	// 4. 启动后台 Kafka 消费者，统计会话事件
	consumerDone := make(chan struct{})
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, logger)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx, application.Stats); err != nil {
				logger.Error("Kafka 消费者退出", zap.Error(err))
			}
		}()
	} else {
		close(consumerDone)
	}

	// 5. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.RouterDeps{
		Sessions:   application.Sessions,
		Chat:       application.Chat,
		Health:     application.Health,
		Stats:      application.Stats,
		JWTManager: application.JWTManager,
		Logger:     logger,
	})

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("服务启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP 服务监听失败: %w", err)
		}
	case <-ctx.Done():
		logger.Info("接收到停机信号，正在关闭服务...")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP 服务器关闭失败: %w", err)
	}
	<-consumerDone

	logger.Info("服务已优雅关闭")
	return nil
}
