// Package main 执行一次过期会话清理，适合由 cron 定时调用。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"toad-architect-go/internal/app"
	"toad-architect-go/internal/config"
	"toad-architect-go/pkg/log"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	days := flag.Int("days", 0, "删除最后访问时间早于该天数的会话，0 表示使用 cleanup.retention_days")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *days < 0 {
		fmt.Fprintln(os.Stderr, "--days 不能为负数")
		os.Exit(2)
	}

	logger, err := log.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("初始化失败", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	defer application.Close()

	deleted, err := application.Sessions.CleanupOldSessions(ctx, *days)
	if err != nil {
		logger.Error("清理过期会话失败", zap.Error(err))
		application.Close()
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("清理完成", zap.Int("deletedCount", deleted))
	fmt.Printf("Cleaned up %d old sessions\n", deleted)
}
