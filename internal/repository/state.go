package repository

import (
	"context"
	"time"

	"voicemaster/internal/domain"
)

// CounterRepository 是带过期时间的原子计数器，通常由 Redis 实现。
// 计数器只用于节流 (advisory)，丢失只会削弱节流效果，不影响正确性。
type CounterRepository interface {
	// IncrWithExpiry 原子地递增 key 并返回递增后的值。
	// 首次创建 key 时设置过期时间 ttl (固定窗口)。
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// EventPublisher 将生命周期事件发布到服务器的活动频道。
type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.Event) error
}
