package service

import (
	"context"
	"errors"
	"time"

	"voicemaster/internal/domain"
	"voicemaster/internal/metrics"
	"voicemaster/internal/platform"
	"voicemaster/internal/repository"

	"github.com/sirupsen/logrus"
)

// LifecycleService 负责临时频道的创建和回收。
//
// 状态机: NonExistent -> Creating -> Active(owner) -> Active(newOwner)* -> Emptying -> Deleted。
// Creating 阶段没有持久化表示：频道只有在成员移动成功并写入 Ledger 后才算存在。
type LifecycleService struct {
	lobbies  repository.LobbyRepository
	channels repository.ChannelRepository
	counters repository.CounterRepository
	events   repository.EventPublisher // 可为 nil
	platform platform.Platform
	policy   Policy
}

// NewLifecycleService 创建 LifecycleService 实例。
func NewLifecycleService(
	lobbies repository.LobbyRepository,
	channels repository.ChannelRepository,
	counters repository.CounterRepository,
	events repository.EventPublisher,
	plat platform.Platform,
	policy Policy,
) *LifecycleService {
	if lobbies == nil || channels == nil || counters == nil || plat == nil {
		panic("repositories and platform must be non-nil for LifecycleService")
	}
	return &LifecycleService{
		lobbies:  lobbies,
		channels: channels,
		counters: counters,
		events:   events,
		platform: plat,
		policy:   policy,
	}
}

// HandleVoiceUpdate 处理一次语音状态变化。频道间移动既是离开也是进入。
func (s *LifecycleService) HandleVoiceUpdate(ctx context.Context, t domain.VoiceTransition) {
	s.HandleLeave(ctx, t)
	s.HandleJoin(ctx, t)
}

// HandleJoin 处理用户进入频道：如果进入的是 lobby，为其创建一个临时频道。
func (s *LifecycleService) HandleJoin(ctx context.Context, t domain.VoiceTransition) {
	if t.Bot || !t.Entered() {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"guild_id": t.GuildID, "user_id": t.UserID})

	cfg, err := s.lobbies.FindByGuildID(ctx, t.GuildID)
	if err != nil {
		if !errors.Is(err, repository.ErrLobbyNotFound) {
			logCtx.WithError(err).Error("Failed to load VoiceMaster config")
		}
		return
	}
	if t.ToChannelID != cfg.LobbyChannelID {
		return
	}

	// 每个用户在窗口内只允许一次创建
	n, err := s.counters.IncrWithExpiry(ctx, userDebounceKey(t.UserID), s.policy.UserWindow)
	if err != nil {
		logCtx.WithError(err).Warn("User debounce counter unavailable, continuing without it")
	} else if n > 1 {
		logCtx.WithField("count", n).Info("Debounced repeated lobby join, disconnecting user")
		metrics.Throttled.WithLabelValues("user").Inc()
		if err := s.move(ctx, t.GuildID, t.UserID, ""); err != nil {
			logCtx.WithError(err).Warn("Failed to disconnect debounced user")
		}
		return
	}

	// 服务器级别的突发上限
	n, err = s.counters.IncrWithExpiry(ctx, guildDebounceKey(t.GuildID), s.policy.GuildWindow)
	if err != nil {
		logCtx.WithError(err).Warn("Guild debounce counter unavailable, continuing without it")
	} else if n > s.policy.GuildCap {
		s.applyBurstPolicy(ctx, t, n)
		return
	}

	s.provision(ctx, cfg, t, logCtx)
}

func (s *LifecycleService) applyBurstPolicy(ctx context.Context, t domain.VoiceTransition, count int64) {
	logCtx := logrus.WithFields(logrus.Fields{
		"guild_id": t.GuildID,
		"user_id":  t.UserID,
		"count":    count,
		"policy":   s.policy.Burst,
	})
	logCtx.Warn("Guild creation burst cap reached, not creating a channel")
	metrics.Throttled.WithLabelValues("guild").Inc()
	s.publish(ctx, domain.Event{Type: domain.EventCreateThrottled, GuildID: t.GuildID, UserID: t.UserID})

	if s.policy.Burst != BurstNotify {
		return
	}
	if err := s.move(ctx, t.GuildID, t.UserID, ""); err != nil {
		logCtx.WithError(err).Warn("Failed to move throttled user out of the lobby")
	}
	pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
	defer cancel()
	msg := "Too many voice channels are being created in this server right now. Please try again in a moment."
	if err := s.platform.SendDirectMessage(pctx, t.UserID, msg); err != nil {
		logCtx.WithError(err).Debug("Failed to notify throttled user")
	}
}

// provision 创建频道、移动用户并写入 Ledger。任何一步失败都不会留下未登记的频道。
func (s *LifecycleService) provision(ctx context.Context, cfg *domain.LobbyConfig, t domain.VoiceTransition, logCtx *logrus.Entry) {
	displayName := t.DisplayName
	if displayName == "" {
		pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
		member, err := s.platform.Member(pctx, t.GuildID, t.UserID)
		cancel()
		if err != nil {
			logCtx.WithError(err).Warn("Failed to resolve member display name")
			displayName = t.UserID
		} else {
			displayName = member.DisplayName
		}
	}

	req := platform.CreateChannelRequest{
		GuildID:  t.GuildID,
		ParentID: s.resolveParent(ctx, cfg, logCtx),
		Name:     domain.DefaultChannelName(displayName),
		Bitrate:  s.guildBitrate(ctx, t.GuildID, logCtx),
		Grants: []domain.Overwrite{{
			Target:  domain.MemberTarget(t.UserID),
			Connect: domain.AccessAllow,
			View:    domain.AccessAllow,
		}},
		Reason: "VoiceMaster channel for " + displayName,
	}

	pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
	ch, err := s.platform.CreateChannel(pctx, req)
	cancel()
	if err != nil {
		logCtx.WithError(err).Error("Failed to create voice channel")
		metrics.CreateFailures.WithLabelValues("create").Inc()
		if ch != nil {
			s.deleteBestEffort(ctx, ch.ID, logCtx)
		}
		return
	}
	logCtx = logCtx.WithField("channel_id", ch.ID)
	logCtx.Info("Created voice channel")

	if err := s.move(ctx, t.GuildID, t.UserID, ch.ID); err != nil {
		logCtx.WithError(err).Warn("Failed to move user into new channel, deleting it")
		metrics.CreateFailures.WithLabelValues("move").Inc()
		s.deleteBestEffort(ctx, ch.ID, logCtx)
		return
	}

	record := &domain.OwnedChannel{ChannelID: ch.ID, GuildID: t.GuildID, OwnerID: t.UserID}
	if err := s.channels.Insert(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.Debug("Ledger row already exists for channel, dropping")
			return
		}
		logCtx.WithError(err).Error("Failed to record channel ownership, deleting channel")
		metrics.CreateFailures.WithLabelValues("insert").Inc()
		s.deleteBestEffort(ctx, ch.ID, logCtx)
		return
	}

	metrics.ChannelsCreated.Inc()
	s.publish(ctx, domain.Event{Type: domain.EventChannelCreated, GuildID: t.GuildID, ChannelID: ch.ID, UserID: t.UserID})
}

// resolveParent 优先使用配置的分类；未配置、已不存在或不再是分类时使用 lobby 自己的分类。
func (s *LifecycleService) resolveParent(ctx context.Context, cfg *domain.LobbyConfig, logCtx *logrus.Entry) string {
	if cfg.HasCategory() {
		if cat, err := s.lookupChannel(ctx, cfg.CategoryID); err == nil {
			if cat.Category && cat.GuildID == cfg.GuildID {
				return cfg.CategoryID
			}
			logCtx.WithField("category_id", cfg.CategoryID).Warn("Configured category is not a category of this guild")
		} else if !platform.IsNotFound(err) {
			logCtx.WithError(err).Warn("Failed to resolve configured category")
		}
	}
	lobby, err := s.lookupChannel(ctx, cfg.LobbyChannelID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to resolve lobby channel category")
		return ""
	}
	return lobby.ParentID
}

func (s *LifecycleService) guildBitrate(ctx context.Context, guildID string, logCtx *logrus.Entry) int {
	pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
	defer cancel()
	g, err := s.platform.Guild(pctx, guildID)
	if err != nil || g.BitrateLimit <= 0 {
		if err != nil {
			logCtx.WithError(err).Warn("Failed to resolve guild bitrate limit, using default")
		}
		return s.policy.DefaultBitrate
	}
	return g.BitrateLimit
}

// HandleLeave 处理用户离开频道：受管理的频道变空后被删除。
func (s *LifecycleService) HandleLeave(ctx context.Context, t domain.VoiceTransition) {
	if !t.Left() {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"guild_id":   t.GuildID,
		"user_id":    t.UserID,
		"channel_id": t.FromChannelID,
	})

	ch, err := s.lookupChannel(ctx, t.FromChannelID)
	if err != nil {
		if !platform.IsNotFound(err) {
			logCtx.WithError(err).Warn("Failed to resolve channel after leave")
		}
		return
	}
	if !ch.IsEmpty() {
		return
	}

	// Ledger 删除决定由谁来删除平台频道：只有真正删掉一行的调用者继续
	n, err := s.channels.Delete(ctx, ch.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to delete ledger row for empty channel")
		return
	}
	if n == 0 {
		return
	}

	s.deleteBestEffort(ctx, ch.ID, logCtx)
	logCtx.Info("Deleted empty voice channel")
	metrics.ChannelsReclaimed.Inc()
	s.publish(ctx, domain.Event{Type: domain.EventChannelDeleted, GuildID: t.GuildID, ChannelID: ch.ID, UserID: t.UserID})
}

func (s *LifecycleService) lookupChannel(ctx context.Context, channelID string) (*domain.LiveChannel, error) {
	pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
	defer cancel()
	return s.platform.Channel(pctx, channelID)
}

func (s *LifecycleService) move(ctx context.Context, guildID, userID, channelID string) error {
	pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
	defer cancel()
	return s.platform.MoveMember(pctx, guildID, userID, channelID)
}

func (s *LifecycleService) deleteBestEffort(ctx context.Context, channelID string, logCtx *logrus.Entry) {
	deleteChannelBestEffort(ctx, s.platform, s.policy.PlatformTimeout, channelID, logCtx)
}

func (s *LifecycleService) publish(ctx context.Context, ev domain.Event) {
	publishEvent(ctx, s.events, ev)
}

// deleteChannelBestEffort 删除平台频道，错误只记录不返回。
func deleteChannelBestEffort(ctx context.Context, plat platform.Platform, timeout time.Duration, channelID string, logCtx *logrus.Entry) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := plat.DeleteChannel(pctx, channelID); err != nil && !platform.IsNotFound(err) {
		logCtx.WithError(err).WithField("channel_id", channelID).Warn("Failed to delete voice channel")
	}
}

// publishEvent 发布活动事件，失败只记录日志。
func publishEvent(ctx context.Context, events repository.EventPublisher, ev domain.Event) {
	if events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := events.PublishEvent(ctx, ev); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"guild_id":   ev.GuildID,
			"event_type": ev.Type,
		}).Warn("Failed to publish activity event")
	}
}
