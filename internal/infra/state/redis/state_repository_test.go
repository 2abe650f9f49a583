package redisstate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstate "voicemaster/internal/infra/state/redis"
)

func newTestRepo(t *testing.T) (*redisstate.RedisStateRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstate.NewRedisStateRepository(client, "test:"), mr
}

func TestIncrWithExpiry_FixedWindow(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	n, err := repo.IncrWithExpiry(ctx, "debounce:user:1", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 窗口内再次递增，TTL 不应被刷新
	mr.FastForward(6 * time.Second)
	n, err = repo.IncrWithExpiry(ctx, "debounce:user:1", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.LessOrEqual(t, mr.TTL("test:debounce:user:1"), 4*time.Second)

	// 窗口结束后计数重新开始
	mr.FastForward(5 * time.Second)
	n, err = repo.IncrWithExpiry(ctx, "debounce:user:1", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIncrWithExpiry_ConcurrentIncrementsAreAtomic(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	ones := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := repo.IncrWithExpiry(ctx, "debounce:user:burst", 10*time.Second)
			assert.NoError(t, err)
			if n == 1 {
				mu.Lock()
				ones++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ones, "只有一个调用者能拿到窗口内的第一张票")
}

func TestIncrWithExpiry_RejectsNonPositiveTTL(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.IncrWithExpiry(context.Background(), "k", 0)
	assert.Error(t, err)
}

func TestGuildFromEventsChannel(t *testing.T) {
	repo, _ := newTestRepo(t)

	guildID, ok := repo.GuildFromEventsChannel("test:guild:42:events")
	assert.True(t, ok)
	assert.Equal(t, "42", guildID)

	_, ok = repo.GuildFromEventsChannel("other:guild:42:events")
	assert.False(t, ok)
	_, ok = repo.GuildFromEventsChannel("test:guild::events")
	assert.False(t, ok)
}
