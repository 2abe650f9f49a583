package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"voicemaster/internal/domain"
)

// incrWithExpiryScript 原子地 INCR，并且只在 key 首次创建时设置过期时间 (固定窗口)。
// 如果 key 意外失去了 TTL (例如旧版本写入)，也会补上，避免计数器永不过期。
var incrWithExpiryScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisStateRepository 是 CounterRepository 和 EventPublisher 的 Redis 实现
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "vm:" // 默认前缀 "vm:" (voicemaster)
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---
func (r *RedisStateRepository) counterKey(key string) string {
	return r.keyPrefix + key
}

func (r *RedisStateRepository) guildEventsChannel(guildID string) string {
	return fmt.Sprintf("%sguild:%s:events", r.keyPrefix, guildID)
}

// EventsPattern 返回订阅所有服务器事件频道的模式
func (r *RedisStateRepository) EventsPattern() string {
	return r.keyPrefix + "guild:*:events"
}

// GuildFromEventsChannel 从事件频道名中解析服务器 ID
func (r *RedisStateRepository) GuildFromEventsChannel(channel string) (string, bool) {
	rest := strings.TrimPrefix(channel, r.keyPrefix+"guild:")
	if rest == channel || !strings.HasSuffix(rest, ":events") {
		return "", false
	}
	guildID := strings.TrimSuffix(rest, ":events")
	return guildID, guildID != ""
}

// IncrWithExpiry 原子地递增计数器；ttl 只在窗口开始时设置。
func (r *RedisStateRepository) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("redis: ttl must be positive for counter %s", key)
	}
	fullKey := r.counterKey(key)
	n, err := incrWithExpiryScript.Run(ctx, r.client, []string{fullKey}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to increment counter %s: %w", fullKey, err)
	}
	return n, nil
}

// PublishEvent 将事件发布到服务器的事件频道
func (r *RedisStateRepository) PublishEvent(ctx context.Context, event domain.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	channel := r.guildEventsChannel(event.GuildID)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal event %s: %w", event.Type, err)
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel":    channel,
			"event_type": event.Type,
			"guild_id":   event.GuildID,
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish event to channel %s: %w", channel, err)
	}
	return nil
}

// SubscribeEvents 订阅所有服务器的事件频道，调用方负责关闭返回的 PubSub
func (r *RedisStateRepository) SubscribeEvents(ctx context.Context) *redis.PubSub {
	return r.client.PSubscribe(ctx, r.EventsPattern())
}
