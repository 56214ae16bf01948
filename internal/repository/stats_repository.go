package repository

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"
)

const statsKey = "toad:stats"

// StatsRepository 在 Redis 哈希中维护会话相关的计数器。
type StatsRepository interface {
	Increment(ctx context.Context, counter string, delta int64) error
	GetAll(ctx context.Context) (map[string]int64, error)
}

type redisStatsRepository struct {
	redisClient *redis.Client
}

// NewStatsRepository 创建一个新的 StatsRepository 实例。
func NewStatsRepository(redisClient *redis.Client) StatsRepository {
	return &redisStatsRepository{redisClient: redisClient}
}

// Increment 将指定计数器增加 delta。
func (r *redisStatsRepository) Increment(ctx context.Context, counter string, delta int64) error {
	if err := r.redisClient.HIncrBy(ctx, statsKey, counter, delta).Err(); err != nil {
		return fmt.Errorf("failed to increment counter %s: %w", counter, err)
	}
	return nil
}

// GetAll 返回所有计数器的当前值。
func (r *redisStatsRepository) GetAll(ctx context.Context) (map[string]int64, error) {
	raw, err := r.redisClient.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}
	result := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		result[k] = n
	}
	return result, nil
}

type memoryStatsRepository struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryStatsRepository 创建进程内的计数器，未配置 Redis 时使用。
func NewMemoryStatsRepository() StatsRepository {
	return &memoryStatsRepository{counters: make(map[string]int64)}
}

func (r *memoryStatsRepository) Increment(_ context.Context, counter string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[counter] += delta
	return nil
}

func (r *memoryStatsRepository) GetAll(context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		result[k] = v
	}
	return result, nil
}
