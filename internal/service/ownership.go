package service

import (
	"context"
	"errors"
	"strings"

	"voicemaster/internal/domain"
	"voicemaster/internal/platform"
	"voicemaster/internal/repository"

	"github.com/sirupsen/logrus"
)

// ControlContext 是一次控制操作的上下文：操作者、其所在频道以及该频道的 Ledger 记录。
type ControlContext struct {
	Actor   domain.Actor
	Channel *domain.LiveChannel
	Record  *domain.OwnedChannel
}

// IsOwner 操作者是否为频道所有者
func (c *ControlContext) IsOwner() bool {
	return c.Record.OwnerID == c.Actor.UserID
}

// Reply 是展示给用户的操作结果。Warning 表示操作没有产生变化 (例如重复加锁)。
type Reply struct {
	Message string `json:"message"`
	Warning bool   `json:"warning"`
}

func approve(msg string) *Reply { return &Reply{Message: msg} }
func warn(msg string) *Reply    { return &Reply{Message: msg, Warning: true} }

// OwnershipService 负责解析操作者上下文以及所有权的认领和转移。
type OwnershipService struct {
	channels repository.ChannelRepository
	events   repository.EventPublisher
	platform platform.Platform
	policy   Policy
}

// NewOwnershipService 创建 OwnershipService 实例。
func NewOwnershipService(channels repository.ChannelRepository, events repository.EventPublisher, plat platform.Platform, policy Policy) *OwnershipService {
	if channels == nil || plat == nil {
		panic("ChannelRepository and Platform must be non-nil for OwnershipService")
	}
	return &OwnershipService{channels: channels, events: events, platform: plat, policy: policy}
}

// Resolve 找到操作者当前所在的受管理频道。
func (s *OwnershipService) Resolve(ctx context.Context, actor domain.Actor) (*ControlContext, error) {
	logCtx := logrus.WithFields(logrus.Fields{"guild_id": actor.GuildID, "user_id": actor.UserID})

	pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
	channelID, err := s.platform.MemberChannelID(pctx, actor.GuildID, actor.UserID)
	cancel()
	if err != nil {
		if platform.IsNotFound(err) {
			return nil, ErrNotConnected
		}
		logCtx.WithError(err).Error("Failed to resolve member voice state")
		return nil, ErrInternalServer
	}
	if channelID == "" {
		return nil, ErrNotConnected
	}
	logCtx = logCtx.WithField("channel_id", channelID)

	record, err := s.channels.FindByChannelID(ctx, channelID)
	if err != nil {
		if errors.Is(err, repository.ErrChannelNotFound) {
			return nil, ErrNotManaged
		}
		logCtx.WithError(err).Error("Failed to load channel ownership")
		return nil, ErrInternalServer
	}

	pctx, cancel = context.WithTimeout(ctx, s.policy.PlatformTimeout)
	ch, err := s.platform.Channel(pctx, channelID)
	cancel()
	if err != nil {
		if platform.IsNotFound(err) {
			return nil, ErrNotManaged
		}
		logCtx.WithError(err).Error("Failed to resolve voice channel")
		return nil, ErrInternalServer
	}

	return &ControlContext{Actor: actor, Channel: ch, Record: record}, nil
}

// RequireOwner 与 Resolve 相同，但要求操作者是频道所有者。
func (s *OwnershipService) RequireOwner(ctx context.Context, actor domain.Actor) (*ControlContext, error) {
	cc, err := s.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !cc.IsOwner() {
		return nil, ErrNotOwner
	}
	return cc, nil
}

// Claim 在所有者已离开频道时把所有权交给操作者。
func (s *OwnershipService) Claim(ctx context.Context, actor domain.Actor) (*Reply, error) {
	cc, err := s.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if cc.IsOwner() {
		return nil, ErrAlreadyOwner
	}
	if cc.Channel.HasOccupant(cc.Record.OwnerID) {
		return nil, ErrOwnerPresent
	}

	if err := s.changeOwner(ctx, cc, actor.UserID); err != nil {
		return nil, err
	}
	return approve("You now have ownership of <#" + cc.Channel.ID + ">"), nil
}

// Transfer 由所有者把所有权转移给频道中的另一位成员。
func (s *OwnershipService) Transfer(ctx context.Context, actor domain.Actor, targetUserID string) (*Reply, error) {
	cc, err := s.RequireOwner(ctx, actor)
	if err != nil {
		return nil, err
	}
	occ, present := cc.Channel.Occupant(targetUserID)
	if targetUserID == actor.UserID || (present && occ.Bot) {
		return warn("You can't transfer ownership to yourself or a bot"), nil
	}
	if !present {
		return warn("That member is not in your voice channel"), nil
	}

	if err := s.changeOwner(ctx, cc, targetUserID); err != nil {
		return nil, err
	}
	return approve("You've transferred ownership to <@" + targetUserID + ">"), nil
}

// changeOwner 更新 Ledger 并在频道使用默认名称时跟随新所有者改名。
func (s *OwnershipService) changeOwner(ctx context.Context, cc *ControlContext, newOwnerID string) error {
	logCtx := logrus.WithFields(logrus.Fields{
		"guild_id":     cc.Actor.GuildID,
		"channel_id":   cc.Channel.ID,
		"old_owner_id": cc.Record.OwnerID,
		"new_owner_id": newOwnerID,
	})

	if err := s.channels.UpdateOwner(ctx, cc.Channel.ID, cc.Record.OwnerID, newOwnerID); err != nil {
		switch {
		case errors.Is(err, repository.ErrChannelNotFound):
			return ErrNotManaged
		case errors.Is(err, repository.ErrStaleOwner):
			logCtx.Info("Channel ownership changed concurrently")
			return ErrOwnershipChanged
		}
		logCtx.WithError(err).Error("Failed to update channel owner")
		return ErrInternalServer
	}
	cc.Record.OwnerID = newOwnerID
	logCtx.Info("Channel ownership changed")
	publishEvent(ctx, s.events, domain.Event{
		Type:      domain.EventOwnerChanged,
		GuildID:   cc.Actor.GuildID,
		ChannelID: cc.Channel.ID,
		UserID:    newOwnerID,
	})

	displayName := newOwnerID
	if occ, ok := cc.Channel.Occupant(newOwnerID); ok && occ.DisplayName != "" {
		displayName = occ.DisplayName
	}
	if strings.HasSuffix(cc.Channel.Name, domain.DefaultChannelSuffix) && !strings.Contains(cc.Channel.Name, displayName) {
		name := domain.DefaultChannelName(displayName)
		pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
		defer cancel()
		if err := s.platform.EditChannel(pctx, cc.Channel.ID, domain.ChannelEdit{Name: &name}); err != nil {
			logCtx.WithError(err).Warn("Failed to rename channel after ownership change")
		} else {
			cc.Channel.Name = name
		}
	}
	return nil
}
