package service_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voicemaster/internal/domain"
	redisstate "voicemaster/internal/infra/state/redis"
	"voicemaster/internal/platform/platformtest"
	"voicemaster/internal/repository"
	"voicemaster/internal/repository/mocks"
	"voicemaster/internal/service"
)

const (
	guildID    = "g1"
	lobbyID    = "lobby"
	categoryID = "cat"
	afkID      = "afk"
)

// memLedger 是带主键语义的内存 ChannelRepository
type memLedger struct {
	mu   sync.Mutex
	rows map[string]domain.OwnedChannel

	// beforeUpdate 在 UpdateOwner 写入前调用，用于模拟并发修改
	beforeUpdate func()
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[string]domain.OwnedChannel)}
}

func (l *memLedger) Insert(ctx context.Context, ch *domain.OwnedChannel) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rows[ch.ChannelID]; ok {
		return repository.ErrDuplicateEntry
	}
	ch.CreatedAt = time.Now()
	l.rows[ch.ChannelID] = *ch
	return nil
}

func (l *memLedger) FindByChannelID(ctx context.Context, channelID string) (*domain.OwnedChannel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[channelID]
	if !ok {
		return nil, repository.ErrChannelNotFound
	}
	return &row, nil
}

func (l *memLedger) UpdateOwner(ctx context.Context, channelID, fromOwnerID, toOwnerID string) error {
	if l.beforeUpdate != nil {
		l.beforeUpdate()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[channelID]
	if !ok {
		return repository.ErrChannelNotFound
	}
	if row.OwnerID != fromOwnerID {
		if row.OwnerID == toOwnerID {
			return nil
		}
		return repository.ErrStaleOwner
	}
	row.OwnerID = toOwnerID
	l.rows[channelID] = row
	return nil
}

func (l *memLedger) Delete(ctx context.Context, channelID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rows[channelID]; !ok {
		return 0, nil
	}
	delete(l.rows, channelID)
	return 1, nil
}

func (l *memLedger) ListAll(ctx context.Context) ([]domain.OwnedChannel, error) {
	return l.ListByGuild(ctx, "")
}

func (l *memLedger) ListByGuild(ctx context.Context, guild string) ([]domain.OwnedChannel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.OwnedChannel, 0, len(l.rows))
	for _, row := range l.rows {
		if guild == "" || row.GuildID == guild {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (l *memLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

func (l *memLedger) setOwner(channelID, ownerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row := l.rows[channelID]
	row.OwnerID = ownerID
	l.rows[channelID] = row
}

func (l *memLedger) Owner(channelID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows[channelID].OwnerID
}

func testPolicy() service.Policy {
	p := service.DefaultPolicy()
	p.PlatformTimeout = 2 * time.Second
	p.SweepRowTimeout = 3 * time.Second
	return p
}

type fixture struct {
	ctx       context.Context
	plat      *platformtest.Fake
	lobbies   *mocks.LobbyRepository
	ledger    *memLedger
	counters  *redisstate.RedisStateRepository
	mr        *miniredis.Miniredis
	policy    service.Policy
	lifecycle *service.LifecycleService
	ownership *service.OwnershipService
	control   *service.ControlService
	sweep     *service.SweepService
}

// newFixture 搭建一个已 setup 的服务器：分类 cat 下有 lobby 和 afk 两个频道。
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithPolicy(t, testPolicy(), &domain.LobbyConfig{
		GuildID:        guildID,
		LobbyChannelID: lobbyID,
		CategoryID:     categoryID,
	})
}

func newFixtureWithPolicy(t *testing.T, policy service.Policy, cfg *domain.LobbyConfig) *fixture {
	t.Helper()
	plat := platformtest.New()
	plat.AddGuild(guildID, 96000)
	plat.AddCategory(guildID, categoryID, "Voice Channels")
	plat.AddChannel(guildID, lobbyID, "Join to Create", categoryID)
	plat.AddChannel(guildID, afkID, "AFK", "")

	lobbies := mocks.NewLobbyRepository(t)
	lobbies.On("FindByGuildID", mock.Anything, guildID).Return(cfg, nil).Maybe()
	lobbies.On("FindByGuildID", mock.Anything, mock.Anything).Return(nil, repository.ErrLobbyNotFound).Maybe()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	counters := redisstate.NewRedisStateRepository(client, "test:")

	ledger := newMemLedger()
	ownership := service.NewOwnershipService(ledger, nil, plat, policy)
	return &fixture{
		ctx:       context.Background(),
		plat:      plat,
		lobbies:   lobbies,
		ledger:    ledger,
		counters:  counters,
		mr:        mr,
		policy:    policy,
		lifecycle: service.NewLifecycleService(lobbies, ledger, counters, nil, plat, policy),
		ownership: ownership,
		control:   service.NewControlService(ownership, ledger, counters, nil, plat, policy),
		sweep:     service.NewSweepService(ledger, nil, plat, policy),
	}
}

// enterLobby 模拟用户加入 lobby 并触发事件
func (f *fixture) enterLobby(userID, name string) {
	f.plat.AddMember(guildID, userID, name, false)
	f.plat.Connect(guildID, userID, lobbyID)
	f.lifecycle.HandleVoiceUpdate(f.ctx, domain.VoiceTransition{
		GuildID: guildID, UserID: userID, DisplayName: name, ToChannelID: lobbyID,
	})
}

// moveTo 模拟用户从当前频道移动到 to ("" 表示断开)
func (f *fixture) moveTo(userID, to string) {
	from := f.plat.VoiceChannelOf(guildID, userID)
	if to == "" {
		f.plat.Disconnect(guildID, userID)
	} else {
		f.plat.Connect(guildID, userID, to)
	}
	f.lifecycle.HandleVoiceUpdate(f.ctx, domain.VoiceTransition{
		GuildID: guildID, UserID: userID, FromChannelID: from, ToChannelID: to,
	})
}

// ownedChannelOf 返回用户创建的频道 (要求恰好一个)
func (f *fixture) ownedChannelOf(t *testing.T, userID string) string {
	t.Helper()
	rows, err := f.ledger.ListAll(f.ctx)
	require.NoError(t, err)
	var ids []string
	for _, row := range rows {
		if row.OwnerID == userID {
			ids = append(ids, row.ChannelID)
		}
	}
	require.Len(t, ids, 1, "user %s should own exactly one channel", userID)
	return ids[0]
}

func actor(userID string) domain.Actor {
	return domain.Actor{GuildID: guildID, UserID: userID}
}

func ctxBackground() context.Context { return context.Background() }
