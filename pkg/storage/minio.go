// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"

	"toad-architect-go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ArchiveStore 将会话导出文档保存到 MinIO 存储桶。
type ArchiveStore struct {
	client     *minio.Client
	bucketName string
	logger     *zap.Logger
}

// NewArchiveStore 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewArchiveStore(ctx context.Context, cfg config.MinIOConfig, logger *zap.Logger) (*ArchiveStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	logger.Info("MinIO 客户端初始化成功", zap.String("endpoint", cfg.Endpoint))

	store := &ArchiveStore{client: client, bucketName: cfg.BucketName, logger: logger}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// ensureBucket 检查存储桶是否存在，如果不存在则创建
func (s *ArchiveStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucketName, err)
	}
	if exists {
		s.logger.Info("存储桶已存在", zap.String("bucket", s.bucketName))
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucketName, err)
	}
	s.logger.Info("存储桶创建成功", zap.String("bucket", s.bucketName))
	return nil
}

// Archive 上传一个对象，同名对象会被覆盖。
func (s *ArchiveStore) Archive(ctx context.Context, objectName, contentType string, body []byte) error {
	_, err := s.client.PutObject(ctx, s.bucketName, objectName, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	s.logger.Info("会话已归档", zap.String("object", objectName), zap.Int("size", len(body)))
	return nil
}
