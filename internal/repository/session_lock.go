package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockTimeout 表示在等待时间内未能获得会话锁。
var ErrLockTimeout = errors.New("timed out waiting for session lock")

// SessionLocker 为同一会话的读-改-写提供互斥。
// Lock 成功后返回的 unlock 函数必须被调用且只调用一次。
type SessionLocker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}

// 释放锁时只删除自己持有的 token，避免误删他人在 TTL 过期后重新获得的锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisSessionLocker struct {
	rdb       *redis.Client
	ttl       time.Duration
	wait      time.Duration
	retryStep time.Duration
}

// NewRedisSessionLocker 创建一个基于 Redis SET NX 的分布式会话锁。
// ttl 是锁的最长持有时间，wait 是获取锁的最长等待时间。
func NewRedisSessionLocker(rdb *redis.Client, ttl, wait time.Duration) SessionLocker {
	return &redisSessionLocker{rdb: rdb, ttl: ttl, wait: wait, retryStep: 50 * time.Millisecond}
}

func (l *redisSessionLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := fmt.Sprintf("session:%s:lock", sessionID)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		ok, err := l.rdb.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire session lock: %w", err)
		}
		if ok {
			return func() {
				// 使用后台上下文，请求被取消时也要释放锁
				_ = releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrLockTimeout
		case <-time.After(l.retryStep):
		}
	}
}

type localLockEntry struct {
	ch   chan struct{}
	refs int
}

type localSessionLocker struct {
	mu      sync.Mutex
	entries map[string]*localLockEntry
	wait    time.Duration
}

// NewLocalSessionLocker 创建一个进程内的会话锁，用于未配置 Redis 的单实例部署。
func NewLocalSessionLocker(wait time.Duration) SessionLocker {
	return &localSessionLocker{entries: make(map[string]*localLockEntry), wait: wait}
}

func (l *localSessionLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[sessionID]
	if !ok {
		entry = &localLockEntry{ch: make(chan struct{}, 1)}
		l.entries[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case entry.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.ch
				l.release(sessionID, entry)
			})
		}, nil
	case <-ctx.Done():
		l.release(sessionID, entry)
		return nil, ctx.Err()
	case <-timer.C:
		l.release(sessionID, entry)
		return nil, ErrLockTimeout
	}
}

func (l *localSessionLocker) release(sessionID string, entry *localLockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, sessionID)
	}
}
