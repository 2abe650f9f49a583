package service

import (
	"context"
	"errors"

	"voicemaster/internal/domain"
	"voicemaster/internal/platform"
	"voicemaster/internal/repository"

	"github.com/sirupsen/logrus"
)

// LobbyService 负责服务器管理员的 setup / reset / category 操作。
type LobbyService struct {
	lobbies  repository.LobbyRepository
	platform platform.Platform
	policy   Policy
}

// NewLobbyService 创建 LobbyService 实例。
func NewLobbyService(lobbies repository.LobbyRepository, plat platform.Platform, policy Policy) *LobbyService {
	if lobbies == nil || plat == nil {
		panic("LobbyRepository and Platform must be non-nil for LobbyService")
	}
	return &LobbyService{lobbies: lobbies, platform: plat, policy: policy}
}

// Setup 创建 lobby 布局并保存配置。已有配置且 lobby 仍然存在时返回 ErrAlreadySetup。
func (s *LobbyService) Setup(ctx context.Context, guildID string) (*domain.LobbyConfig, error) {
	logCtx := logrus.WithField("guild_id", guildID)

	existing, err := s.lobbies.FindByGuildID(ctx, guildID)
	switch {
	case err == nil:
		pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
		_, lerr := s.platform.Channel(pctx, existing.LobbyChannelID)
		cancel()
		if lerr == nil {
			return nil, ErrAlreadySetup
		}
		if !platform.IsNotFound(lerr) {
			logCtx.WithError(lerr).Error("Failed to resolve existing lobby channel")
			return nil, ErrInternalServer
		}
		logCtx.Info("Existing lobby channel is gone, setting up again")
	case !errors.Is(err, repository.ErrLobbyNotFound):
		logCtx.WithError(err).Error("Failed to load VoiceMaster config")
		return nil, ErrInternalServer
	}

	// setup 会创建多个频道和一条消息，给它更宽裕的超时
	pctx, cancel := context.WithTimeout(ctx, 3*s.policy.PlatformTimeout)
	layout, err := s.platform.ProvisionLobby(pctx, guildID)
	cancel()
	if err != nil {
		logCtx.WithError(err).Error("Failed to provision lobby channels")
		if errors.Is(err, platform.ErrForbidden) {
			return nil, newUserError(KindForbidden, "I don't have permission to create channels in this server")
		}
		return nil, ErrInternalServer
	}

	cfg := &domain.LobbyConfig{
		GuildID:        guildID,
		LobbyChannelID: layout.LobbyChannelID,
		CategoryID:     layout.CategoryID,
		PanelChannelID: layout.PanelChannelID,
	}
	if err := s.lobbies.Upsert(ctx, cfg); err != nil {
		logCtx.WithError(err).Error("Failed to save VoiceMaster config, removing provisioned channels")
		s.deleteLayout(ctx, cfg, logCtx)
		return nil, ErrInternalServer
	}
	logCtx.WithField("lobby_channel_id", cfg.LobbyChannelID).Info("VoiceMaster set up")
	return cfg, nil
}

// Reset 删除配置以及 setup 创建的频道。
func (s *LobbyService) Reset(ctx context.Context, guildID string) error {
	logCtx := logrus.WithField("guild_id", guildID)
	cfg, err := s.lobbies.Delete(ctx, guildID)
	if err != nil {
		if errors.Is(err, repository.ErrLobbyNotFound) {
			return ErrNotSetup
		}
		logCtx.WithError(err).Error("Failed to delete VoiceMaster config")
		return ErrInternalServer
	}
	s.deleteLayout(ctx, cfg, logCtx)
	logCtx.Info("VoiceMaster configuration reset")
	return nil
}

// SetCategory 修改新频道所在的分类，空字符串表示不使用分类。
// 目标必须是本服务器中的分类。
func (s *LobbyService) SetCategory(ctx context.Context, guildID, categoryID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"guild_id": guildID, "category_id": categoryID})
	if categoryID != "" {
		pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
		ch, err := s.platform.Channel(pctx, categoryID)
		cancel()
		switch {
		case platform.IsNotFound(err):
			return newUserError(KindNotFound, "That category doesn't exist")
		case err != nil:
			logCtx.WithError(err).Error("Failed to resolve category")
			return ErrInternalServer
		case ch.GuildID != guildID || !ch.Category:
			return newUserError(KindInvalid, "That channel is not a category in this server")
		}
	}
	if err := s.lobbies.UpdateCategory(ctx, guildID, categoryID); err != nil {
		if errors.Is(err, repository.ErrLobbyNotFound) {
			return ErrNotSetup
		}
		logCtx.WithError(err).Error("Failed to update category")
		return ErrInternalServer
	}
	logCtx.Info("VoiceMaster category updated")
	return nil
}

func (s *LobbyService) deleteLayout(ctx context.Context, cfg *domain.LobbyConfig, logCtx *logrus.Entry) {
	seen := map[string]bool{"": true}
	// 先删子频道，最后删分类
	for _, id := range []string{cfg.LobbyChannelID, cfg.PanelChannelID, cfg.CategoryID} {
		if seen[id] {
			continue
		}
		seen[id] = true
		deleteChannelBestEffort(ctx, s.platform, s.policy.PlatformTimeout, id, logCtx)
	}
}
