package service

import (
	"context"
	"time"

	"voicemaster/internal/domain"
	"voicemaster/internal/metrics"
	"voicemaster/internal/platform"
	"voicemaster/internal/repository"

	"github.com/sirupsen/logrus"
)

// SweepResult 汇总一次对账的结果
type SweepResult struct {
	Checked int `json:"checked"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// SweepService 对比 Ledger 和平台状态，删除已消失或已变空的频道记录。
// 重复执行是安全的。
type SweepService struct {
	channels repository.ChannelRepository
	events   repository.EventPublisher
	platform platform.Platform
	policy   Policy
}

// NewSweepService 创建 SweepService 实例。
func NewSweepService(channels repository.ChannelRepository, events repository.EventPublisher, plat platform.Platform, policy Policy) *SweepService {
	if channels == nil || plat == nil {
		panic("ChannelRepository and Platform must be non-nil for SweepService")
	}
	return &SweepService{channels: channels, events: events, platform: plat, policy: policy}
}

// Sweep 对所有服务器执行对账。
func (s *SweepService) Sweep(ctx context.Context) (SweepResult, error) {
	rows, err := s.channels.ListAll(ctx)
	if err != nil {
		logrus.WithError(err).Error("Sweep: failed to list ledger rows")
		return SweepResult{}, err
	}
	return s.sweepRows(ctx, rows, logrus.WithField("scope", "all")), nil
}

// SweepGuild 只对指定服务器执行对账。
func (s *SweepService) SweepGuild(ctx context.Context, guildID string) (SweepResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{"scope": "guild", "guild_id": guildID})
	rows, err := s.channels.ListByGuild(ctx, guildID)
	if err != nil {
		logCtx.WithError(err).Error("Sweep: failed to list ledger rows")
		return SweepResult{}, err
	}
	return s.sweepRows(ctx, rows, logCtx), nil
}

func (s *SweepService) sweepRows(ctx context.Context, rows []domain.OwnedChannel, logCtx *logrus.Entry) SweepResult {
	start := time.Now()
	var result SweepResult
	for i := range rows {
		if ctx.Err() != nil {
			break
		}
		result.Checked++
		removed, err := s.sweepRow(ctx, &rows[i])
		switch {
		case err != nil:
			result.Failed++
			metrics.SweepRows.WithLabelValues("failed").Inc()
			logCtx.WithError(err).WithField("channel_id", rows[i].ChannelID).Warn("Sweep: failed to reconcile row")
		case removed:
			result.Removed++
			metrics.SweepRows.WithLabelValues("removed").Inc()
		default:
			metrics.SweepRows.WithLabelValues("kept").Inc()
		}
	}
	metrics.SweepDuration.Observe(time.Since(start).Seconds())

	logCtx = logCtx.WithFields(logrus.Fields{
		"checked":  result.Checked,
		"removed":  result.Removed,
		"failed":   result.Failed,
		"duration": time.Since(start).String(),
	})
	if result.Removed > 0 || result.Failed > 0 {
		logCtx.Info("Sweep finished")
	} else {
		logCtx.Debug("Sweep finished")
	}
	return result
}

// PurgeGuild 删除指定服务器的全部记录，不访问平台。
// 用于机器人被移出服务器或服务器被删除之后，此时这些频道已经无法访问。
func (s *SweepService) PurgeGuild(ctx context.Context, guildID string) (SweepResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{"scope": "purge", "guild_id": guildID})
	rows, err := s.channels.ListByGuild(ctx, guildID)
	if err != nil {
		logCtx.WithError(err).Error("Purge: failed to list ledger rows")
		return SweepResult{}, err
	}

	var result SweepResult
	for _, row := range rows {
		result.Checked++
		n, err := s.channels.Delete(ctx, row.ChannelID)
		if err != nil {
			result.Failed++
			metrics.SweepRows.WithLabelValues("failed").Inc()
			logCtx.WithError(err).WithField("channel_id", row.ChannelID).Warn("Purge: failed to delete row")
			continue
		}
		if n > 0 {
			result.Removed++
			metrics.SweepRows.WithLabelValues("removed").Inc()
			publishEvent(ctx, s.events, domain.Event{Type: domain.EventChannelSwept, GuildID: row.GuildID, ChannelID: row.ChannelID})
		}
	}
	logCtx.WithFields(logrus.Fields{"removed": result.Removed, "failed": result.Failed}).Info("Guild rows purged")
	return result, nil
}

// sweepRow 处理单行，返回是否删除了记录。
func (s *SweepService) sweepRow(ctx context.Context, row *domain.OwnedChannel) (bool, error) {
	rctx, cancel := context.WithTimeout(ctx, s.policy.SweepRowTimeout)
	defer cancel()

	pctx, pcancel := context.WithTimeout(rctx, s.policy.PlatformTimeout)
	ch, err := s.platform.Channel(pctx, row.ChannelID)
	pcancel()
	switch {
	case err == nil && !ch.IsEmpty():
		return false, nil
	case platform.IsForbidden(err):
		// 机器人已无法访问该频道 (被移出服务器或失去权限)，记录永远无法再对账
		logrus.WithError(err).WithField("channel_id", row.ChannelID).Info("Sweep: channel is unreachable, dropping row")
	case err != nil && !platform.IsNotFound(err):
		// 无法确定频道状态时保留记录，下次再试
		return false, err
	}

	if ch != nil {
		pctx, pcancel := context.WithTimeout(rctx, s.policy.PlatformTimeout)
		err := s.platform.DeleteChannel(pctx, row.ChannelID)
		pcancel()
		if err != nil && !platform.IsNotFound(err) {
			logrus.WithError(err).WithField("channel_id", row.ChannelID).Warn("Sweep: failed to delete empty channel")
		}
	}

	n, err := s.channels.Delete(rctx, row.ChannelID)
	if err != nil {
		return false, err
	}
	if n > 0 {
		publishEvent(rctx, s.events, domain.Event{Type: domain.EventChannelSwept, GuildID: row.GuildID, ChannelID: row.ChannelID})
	}
	return n > 0, nil
}
