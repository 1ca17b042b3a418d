// Package presence answers whether an agent is currently online. The
// authoritative presence state is maintained by the realtime layer (outside
// this core); this package only reads it.
package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/zapdesk/zapdesk/internal/config"
)

// Checker reports agent presence.
type Checker interface {
	IsOnline(ctx context.Context, agentID uint) (bool, error)
}

// RedisChecker reads presence flags written by the realtime layer under
// "presence:agent:<id>". A missing key means offline.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker connects a presence checker to the configured Redis.
func NewRedisChecker(cfg config.RedisConfig) *RedisChecker {
	return &RedisChecker{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Key returns the Redis key holding an agent's presence flag.
func Key(agentID uint) string {
	return fmt.Sprintf("presence:agent:%d", agentID)
}

// IsOnline reports whether the agent's presence key exists and is "1".
func (c *RedisChecker) IsOnline(ctx context.Context, agentID uint) (bool, error) {
	val, err := c.client.Get(ctx, Key(agentID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("presence: get %s: %w", Key(agentID), err)
	}
	return val == "1", nil
}

// Close releases the underlying Redis connection.
func (c *RedisChecker) Close() error {
	return c.client.Close()
}

// Static is an in-memory Checker for tests and single-box deployments
// without Redis.
type Static struct {
	mu     sync.RWMutex
	online map[uint]bool
}

// NewStatic creates a Static checker with the given agents online.
func NewStatic(online ...uint) *Static {
	s := &Static{online: make(map[uint]bool, len(online))}
	for _, id := range online {
		s.online[id] = true
	}
	return s
}

// Set marks an agent online or offline.
func (s *Static) Set(agentID uint, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[agentID] = online
}

// IsOnline implements Checker.
func (s *Static) IsOnline(_ context.Context, agentID uint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online[agentID], nil
}
