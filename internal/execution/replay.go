package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ethereum/go-ethereum/common"
)

// ReplaySet 记录在有效期内见过的操作哈希。Remember 返回 true 表示
// 首次出现，false 表示命中重放。
type ReplaySet interface {
	Remember(ctx context.Context, opHash common.Hash, ttl time.Duration) (bool, error)
	Close() error
}

// MemoryReplaySet 是进程内实现，过期条目在写入时摊销清理，
// 不做阻塞式全量扫描。
type MemoryReplaySet struct {
	mu      sync.Mutex
	seen    map[common.Hash]time.Time
	ops     int
	now     func() time.Time
	sweepAt int
}

var _ ReplaySet = (*MemoryReplaySet)(nil)

// NewMemoryReplaySet 创建内存重放集合。
func NewMemoryReplaySet() *MemoryReplaySet {
	return &MemoryReplaySet{
		seen:    make(map[common.Hash]time.Time),
		now:     time.Now,
		sweepAt: 256,
	}
}

// Remember 登记一个操作哈希。已存在且未过期时返回 false。
func (s *MemoryReplaySet) Remember(_ context.Context, opHash common.Hash, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("重放保护 TTL 必须为正")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.seen[opHash]; ok && now.Before(expiry) {
		return false, nil
	}

	s.seen[opHash] = now.Add(ttl)
	s.ops++
	if s.ops >= s.sweepAt {
		s.ops = 0
		for hash, expiry := range s.seen {
			if !now.Before(expiry) {
				delete(s.seen, hash)
			}
		}
	}
	return true, nil
}

// Close 实现 ReplaySet，内存实现无需释放资源。
func (s *MemoryReplaySet) Close() error { return nil }

// RedisReplaySetConfig 描述 Redis 重放集合的连接参数。
type RedisReplaySetConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisReplaySet 基于 SET NX + TTL 实现跨进程的重放保护。
type RedisReplaySet struct {
	client *redis.Client
	prefix string
}

var _ ReplaySet = (*RedisReplaySet)(nil)

// NewRedisReplaySet 连接 Redis 并创建重放集合。
func NewRedisReplaySet(cfg RedisReplaySetConfig) (*RedisReplaySet, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agentsafe:replay:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisReplaySet{client: client, prefix: prefix}, nil
}

// Remember 用 SETNX 原子登记哈希，过期由 Redis 自行处理。
func (s *RedisReplaySet) Remember(ctx context.Context, opHash common.Hash, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("重放保护 TTL 必须为正")
	}
	fresh, err := s.client.SetNX(ctx, s.prefix+opHash.Hex(), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("Redis 重放检查失败: %w", err)
	}
	return fresh, nil
}

// Close 关闭 Redis 连接。
func (s *RedisReplaySet) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
