package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"voicemaster/internal/domain"
	"voicemaster/internal/metrics"
	"voicemaster/internal/platform"
	"voicemaster/internal/repository"

	"github.com/dustin/go-humanize/english"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// maxGrandfathered 加锁时最多为多少个当前成员保留 Connect 权限
	maxGrandfathered = 100
	maxUserLimit     = 99
	maxStatusLength  = 500
)

// Region 是可选的语音服务器区域
type Region struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RegionAutomatic 表示由平台自动选择区域
const RegionAutomatic = "automatic"

// Regions 是允许设置的区域列表
var Regions = []Region{
	{Name: "US Central", Value: "us-central"},
	{Name: "US East", Value: "us-east"},
	{Name: "US South", Value: "us-south"},
	{Name: "US West", Value: "us-west"},
	{Name: "Brazil", Value: "brazil"},
	{Name: "Hong Kong", Value: "hongkong"},
	{Name: "India", Value: "india"},
	{Name: "Japan", Value: "japan"},
	{Name: "Rotterdam", Value: "rotterdam"},
	{Name: "Russia", Value: "russia"},
	{Name: "Singapore", Value: "singapore"},
	{Name: "South Korea", Value: "south-korea"},
	{Name: "South Africa", Value: "southafrica"},
	{Name: "Sydney", Value: "sydney"},
}

// LookupRegion 按值或名称查找区域
func LookupRegion(code string) (Region, bool) {
	if strings.EqualFold(code, RegionAutomatic) {
		return Region{Name: "Automatic", Value: ""}, true
	}
	for _, r := range Regions {
		if strings.EqualFold(r.Value, code) || strings.EqualFold(r.Name, code) {
			return r, true
		}
	}
	return Region{}, false
}

// ChannelInfo 是频道的只读摘要
type ChannelInfo struct {
	ChannelID        string    `json:"channel_id"`
	Name             string    `json:"name"`
	OwnerID          string    `json:"owner_id"`
	CreatedAt        time.Time `json:"created_at"`
	Locked           bool      `json:"locked"`
	Hidden           bool      `json:"hidden"`
	NSFW             bool      `json:"nsfw"`
	BitrateKbps      int       `json:"bitrate_kbps"`
	Members          int       `json:"members"`
	UserLimit        int       `json:"user_limit"`
	Region           string    `json:"region,omitempty"`
	Status           string    `json:"status,omitempty"`
	PermittedRoles   []string  `json:"permitted_roles"`
	PermittedMembers []string  `json:"permitted_members"`
}

// ControlService 实现频道所有者的访问控制操作。
// 除 Info 和 Claim 之外的操作都要求操作者是所有者。
type ControlService struct {
	ownership *OwnershipService
	channels  repository.ChannelRepository
	counters  repository.CounterRepository
	events    repository.EventPublisher
	platform  platform.Platform
	policy    Policy
}

// NewControlService 创建 ControlService 实例。
func NewControlService(
	ownership *OwnershipService,
	channels repository.ChannelRepository,
	counters repository.CounterRepository,
	events repository.EventPublisher,
	plat platform.Platform,
	policy Policy,
) *ControlService {
	if ownership == nil || channels == nil || counters == nil || plat == nil {
		panic("dependencies must be non-nil for ControlService")
	}
	return &ControlService{
		ownership: ownership,
		channels:  channels,
		counters:  counters,
		events:    events,
		platform:  plat,
		policy:    policy,
	}
}

// Lock 拒绝默认角色连接，并为当前成员保留连接权限。
func (s *ControlService) Lock(ctx context.Context, actor domain.Actor) (*Reply, error) {
	return s.observe("lock", func() (*Reply, error) {
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		if cc.Channel.IsLocked() {
			return warn("Your voice channel is already locked"), nil
		}

		everyone := cc.Channel.OverwriteFor(domain.Everyone(actor.GuildID))
		everyone.Connect = domain.AccessDeny
		if err := s.setPermission(ctx, cc, everyone); err != nil {
			return nil, err
		}

		occupants := cc.Channel.Occupants
		if len(occupants) > maxGrandfathered {
			occupants = occupants[:maxGrandfathered]
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, occ := range occupants {
			ow := cc.Channel.OverwriteFor(domain.MemberTarget(occ.UserID))
			ow.Connect = domain.AccessAllow
			g.Go(func() error {
				pctx, cancel := context.WithTimeout(gctx, s.policy.PlatformTimeout)
				defer cancel()
				if err := s.platform.SetPermission(pctx, cc.Channel.ID, ow); err != nil {
					logrus.WithError(err).WithFields(logrus.Fields{
						"channel_id": cc.Channel.ID,
						"user_id":    ow.Target.ID,
					}).Warn("Failed to keep connect permission for occupant")
				}
				return nil
			})
		}
		_ = g.Wait()

		return approve("Your voice channel has been locked"), nil
	})
}

// Unlock 清除默认角色上的连接限制。
func (s *ControlService) Unlock(ctx context.Context, actor domain.Actor) (*Reply, error) {
	return s.observe("unlock", func() (*Reply, error) {
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		everyone := cc.Channel.OverwriteFor(domain.Everyone(actor.GuildID))
		if everyone.Connect == domain.AccessUnset {
			return warn("Your voice channel is already unlocked"), nil
		}
		everyone.Connect = domain.AccessUnset
		if err := s.setPermission(ctx, cc, everyone); err != nil {
			return nil, err
		}
		return approve("Your voice channel has been unlocked"), nil
	})
}

// Hide 对默认角色隐藏频道。
func (s *ControlService) Hide(ctx context.Context, actor domain.Actor) (*Reply, error) {
	return s.observe("hide", func() (*Reply, error) {
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		if cc.Channel.IsHidden() {
			return warn("Your voice channel is already hidden"), nil
		}
		everyone := cc.Channel.OverwriteFor(domain.Everyone(actor.GuildID))
		everyone.View = domain.AccessDeny
		if err := s.setPermission(ctx, cc, everyone); err != nil {
			return nil, err
		}
		return approve("Your voice channel is now hidden"), nil
	})
}

// Reveal 清除默认角色上的可见性限制。
func (s *ControlService) Reveal(ctx context.Context, actor domain.Actor) (*Reply, error) {
	return s.observe("reveal", func() (*Reply, error) {
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		everyone := cc.Channel.OverwriteFor(domain.Everyone(actor.GuildID))
		if everyone.View == domain.AccessUnset {
			return warn("Your voice channel is already visible"), nil
		}
		everyone.View = domain.AccessUnset
		if err := s.setPermission(ctx, cc, everyone); err != nil {
			return nil, err
		}
		return approve("Your voice channel is now visible"), nil
	})
}

// Permit 允许成员或角色查看并加入频道。
func (s *ControlService) Permit(ctx context.Context, actor domain.Actor, target domain.PermissionTarget) (*Reply, error) {
	return s.observe("permit", func() (*Reply, error) {
		if !target.IsValid() {
			return nil, ErrInvalidTarget
		}
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		ow := cc.Channel.OverwriteFor(target)
		ow.Connect, ow.View = domain.AccessAllow, domain.AccessAllow
		if err := s.setPermission(ctx, cc, ow); err != nil {
			return nil, err
		}
		return approve(mention(target) + " can now join your voice channel"), nil
	})
}

// Reject 禁止成员或角色加入频道；如果目标成员在频道中，将其断开。
func (s *ControlService) Reject(ctx context.Context, actor domain.Actor, target domain.PermissionTarget) (*Reply, error) {
	return s.observe("reject", func() (*Reply, error) {
		if !target.IsValid() {
			return nil, ErrInvalidTarget
		}
		if target == domain.MemberTarget(actor.UserID) {
			return warn("You can't reject yourself from your own voice channel"), nil
		}
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		ow := cc.Channel.OverwriteFor(target)
		ow.Connect, ow.View = domain.AccessDeny, domain.AccessAllow
		if err := s.setPermission(ctx, cc, ow); err != nil {
			return nil, err
		}
		if target.Kind == domain.TargetMember && cc.Channel.HasOccupant(target.ID) {
			pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
			defer cancel()
			if err := s.platform.MoveMember(pctx, actor.GuildID, target.ID, ""); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"channel_id": cc.Channel.ID,
					"user_id":    target.ID,
				}).Warn("Failed to disconnect rejected member")
			}
		}
		return approve(mention(target) + " is no longer permitted to join your voice channel"), nil
	})
}

// Rename 修改频道名称，每个用户有冷却时间。
func (s *ControlService) Rename(ctx context.Context, actor domain.Actor, name string) (*Reply, error) {
	return s.observe("rename", func() (*Reply, error) {
		name = strings.TrimSpace(name)
		if n := utf8.RuneCountInString(name); n < 1 || n > domain.MaxChannelNameLength {
			return nil, newUserError(KindInvalid, "The channel name must be between 1 and %d characters", domain.MaxChannelNameLength)
		}
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}

		if err := s.cooldown(ctx, renameCooldownKey(actor.UserID), s.policy.RenameCooldown, "renaming"); err != nil {
			return nil, err
		}

		pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
		defer cancel()
		err = s.platform.EditChannel(pctx, cc.Channel.ID, domain.ChannelEdit{Name: &name})
		if rl, ok := platform.AsRateLimit(err); ok {
			return warn(fmt.Sprintf("Your voice channel has reached its rate limit. The rate limit will be released in %s", rl.RetryAfter.Round(time.Second))), nil
		}
		if err != nil {
			if platform.IsNotFound(err) || platform.IsTimeout(err) {
				return nil, s.platformError(err, cc)
			}
			return warn("The channel name provided wasn't able to be set. Make sure the name doesn't contain vulgar language"), nil
		}
		return approve("Your voice channel has been renamed"), nil
	})
}

// Music 切换音乐模式：默认角色不能发言，频道中的机器人 (包括本机器人) 显式允许发言。
func (s *ControlService) Music(ctx context.Context, actor domain.Actor) (*Reply, error) {
	return s.observe("music", func() (*Reply, error) {
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		if err := s.cooldown(ctx, musicCooldownKey(actor.UserID), s.policy.MusicCooldown, "toggling music mode"); err != nil {
			return nil, err
		}

		enable := !cc.Channel.IsMusicMode()
		everyone := cc.Channel.OverwriteFor(domain.Everyone(actor.GuildID))
		everyone.Speak = domain.AccessUnset
		if enable {
			everyone.Speak = domain.AccessDeny
		}
		if err := s.setPermission(ctx, cc, everyone); err != nil {
			return nil, err
		}
		s.allowBotsToSpeak(ctx, cc)

		if enable {
			return approve("Now only allowing bots to speak in the channel"), nil
		}
		return approve("Now allowing everyone to speak in the channel"), nil
	})
}

// allowBotsToSpeak 为频道中的机器人和本机器人设置 Speak 允许，失败只记录日志
func (s *ControlService) allowBotsToSpeak(ctx context.Context, cc *ControlContext) {
	targets := make([]string, 0, 2)
	if self := s.platform.SelfID(); self != "" {
		targets = append(targets, self)
	}
	for _, occ := range cc.Channel.Occupants {
		if occ.Bot && occ.UserID != s.platform.SelfID() {
			targets = append(targets, occ.UserID)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, userID := range targets {
		ow := cc.Channel.OverwriteFor(domain.MemberTarget(userID))
		if ow.Speak == domain.AccessAllow {
			continue
		}
		ow.Speak = domain.AccessAllow
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, s.policy.PlatformTimeout)
			defer cancel()
			if err := s.platform.SetPermission(pctx, cc.Channel.ID, ow); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"channel_id": cc.Channel.ID,
					"user_id":    ow.Target.ID,
				}).Warn("Failed to allow bot to speak")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Invite 为所有者的频道创建一个永不过期的邀请链接，回复内容就是链接本身。
func (s *ControlService) Invite(ctx context.Context, actor domain.Actor) (*Reply, error) {
	return s.observe("invite", func() (*Reply, error) {
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		if err := s.cooldown(ctx, inviteCooldownKey(actor.UserID), s.policy.InviteCooldown, "creating invites"); err != nil {
			return nil, err
		}

		pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
		defer cancel()
		url, err := s.platform.CreateInvite(pctx, cc.Channel.ID)
		if err != nil {
			return nil, s.platformError(err, cc)
		}
		return &Reply{Message: url}, nil
	})
}

// SetLimit 设置频道人数上限，0 表示不限。
func (s *ControlService) SetLimit(ctx context.Context, actor domain.Actor, limit int) (*Reply, error) {
	return s.observe("limit", func() (*Reply, error) {
		if limit < 0 || limit > maxUserLimit {
			return nil, newUserError(KindInvalid, "The user limit must be between 0 and %d", maxUserLimit)
		}
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		if err := s.edit(ctx, cc, domain.ChannelEdit{UserLimit: &limit}); err != nil {
			return nil, err
		}
		if limit == 0 {
			return approve("Removed the user limit from your voice channel"), nil
		}
		return approve(fmt.Sprintf("Your voice channel now has a limit of `%d` %s", limit, english.PluralWord(limit, "user", ""))), nil
	})
}

// SetStatus 设置频道状态文本，空字符串清除状态。
func (s *ControlService) SetStatus(ctx context.Context, actor domain.Actor, status string) (*Reply, error) {
	return s.observe("status", func() (*Reply, error) {
		status = strings.TrimSpace(status)
		if utf8.RuneCountInString(status) > maxStatusLength {
			return nil, newUserError(KindInvalid, "The status must be at most %d characters", maxStatusLength)
		}
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		if err := s.edit(ctx, cc, domain.ChannelEdit{Status: &status}); err != nil {
			return nil, err
		}
		if status == "" {
			return approve("Your voice channel status has been removed"), nil
		}
		return approve("Your voice channel status has been updated"), nil
	})
}

// SetNSFW 设置 NSFW 标记；value 为 nil 时切换当前状态。
func (s *ControlService) SetNSFW(ctx context.Context, actor domain.Actor, value *bool) (*Reply, error) {
	return s.observe("nsfw", func() (*Reply, error) {
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		nsfw := !cc.Channel.NSFW
		if value != nil {
			nsfw = *value
		}
		if err := s.edit(ctx, cc, domain.ChannelEdit{NSFW: &nsfw}); err != nil {
			return nil, err
		}
		if nsfw {
			return approve("Your voice channel is now marked as NSFW"), nil
		}
		return approve("Your voice channel is no longer marked as NSFW"), nil
	})
}

// SetRegion 设置语音区域，"automatic" 恢复自动选择。
func (s *ControlService) SetRegion(ctx context.Context, actor domain.Actor, code string) (*Reply, error) {
	return s.observe("region", func() (*Reply, error) {
		region, ok := LookupRegion(code)
		if !ok {
			return nil, newUserError(KindInvalid, "Unknown region %q", code)
		}
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		if err := s.edit(ctx, cc, domain.ChannelEdit{Region: &region.Value}); err != nil {
			return nil, err
		}
		return approve(fmt.Sprintf("Your voice channel region has been set to `%s`", region.Name)), nil
	})
}

// DisconnectOptions 列出可以被断开的成员 (不包括操作者自己)。
func (s *ControlService) DisconnectOptions(ctx context.Context, actor domain.Actor) ([]domain.Occupant, error) {
	cc, err := s.ownership.RequireOwner(ctx, actor)
	if err != nil {
		return nil, err
	}
	options := make([]domain.Occupant, 0, len(cc.Channel.Occupants))
	for _, occ := range cc.Channel.Occupants {
		if occ.UserID != actor.UserID {
			options = append(options, occ)
		}
	}
	return options, nil
}

// Disconnect 断开指定成员；不在频道中的成员计为失败，操作者自己被忽略。
func (s *ControlService) Disconnect(ctx context.Context, actor domain.Actor, userIDs []string) (*Reply, error) {
	return s.observe("disconnect", func() (*Reply, error) {
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}

		disconnected, failed := 0, 0
		seen := make(map[string]bool, len(userIDs))
		for _, userID := range userIDs {
			if userID == actor.UserID || seen[userID] {
				continue
			}
			seen[userID] = true
			if !cc.Channel.HasOccupant(userID) {
				failed++
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
			err := s.platform.MoveMember(pctx, actor.GuildID, userID, "")
			cancel()
			if err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"channel_id": cc.Channel.ID,
					"user_id":    userID,
				}).Warn("Failed to disconnect member")
				failed++
				continue
			}
			disconnected++
		}

		msg := fmt.Sprintf("Disconnected `%d` %s", disconnected, english.PluralWord(disconnected, "member", ""))
		if failed > 0 {
			msg += fmt.Sprintf(", `%d` failed", failed)
		}
		return approve(msg), nil
	})
}

// Info 返回频道摘要，频道中的任何成员都可以查看。
func (s *ControlService) Info(ctx context.Context, actor domain.Actor) (*ChannelInfo, error) {
	cc, err := s.ownership.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	ch := cc.Channel
	info := &ChannelInfo{
		ChannelID:        ch.ID,
		Name:             ch.Name,
		OwnerID:          cc.Record.OwnerID,
		CreatedAt:        ch.CreatedAt,
		Locked:           ch.IsLocked(),
		Hidden:           ch.IsHidden(),
		NSFW:             ch.NSFW,
		BitrateKbps:      ch.Bitrate / 1000,
		Members:          len(ch.Occupants),
		UserLimit:        ch.UserLimit,
		Region:           ch.Region,
		Status:           ch.Status,
		PermittedRoles:   []string{},
		PermittedMembers: []string{},
	}
	everyone := domain.Everyone(actor.GuildID)
	for _, ow := range ch.Overwrites {
		if ow.Connect != domain.AccessAllow || ow.Target == everyone {
			continue
		}
		if ow.Target.Kind == domain.TargetRole {
			info.PermittedRoles = append(info.PermittedRoles, ow.Target.ID)
		} else {
			info.PermittedMembers = append(info.PermittedMembers, ow.Target.ID)
		}
	}
	return info, nil
}

// Delete 由所有者删除频道。平台删除成功后才移除 Ledger 记录。
func (s *ControlService) Delete(ctx context.Context, actor domain.Actor) (*Reply, error) {
	return s.observe("delete", func() (*Reply, error) {
		cc, err := s.ownership.RequireOwner(ctx, actor)
		if err != nil {
			return nil, err
		}
		logCtx := logrus.WithFields(logrus.Fields{"guild_id": actor.GuildID, "channel_id": cc.Channel.ID})

		pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
		err = s.platform.DeleteChannel(pctx, cc.Channel.ID)
		cancel()
		if err != nil && !platform.IsNotFound(err) {
			return nil, s.platformError(err, cc)
		}
		if _, err := s.channels.Delete(ctx, cc.Channel.ID); err != nil {
			logCtx.WithError(err).Error("Failed to delete ledger row after channel deletion")
		}
		logCtx.Info("Voice channel deleted by owner")
		publishEvent(ctx, s.events, domain.Event{
			Type:      domain.EventChannelDeleted,
			GuildID:   actor.GuildID,
			ChannelID: cc.Channel.ID,
			UserID:    actor.UserID,
		})
		return approve("Your voice channel has been deleted"), nil
	})
}

// --- 私有辅助函数 ---

// cooldown 在窗口内第二次调用时返回限流错误。计数器不可用时放行。
func (s *ControlService) cooldown(ctx context.Context, key string, window time.Duration, doing string) error {
	n, err := s.counters.IncrWithExpiry(ctx, key, window)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Cooldown counter unavailable")
		return nil
	}
	if n > 1 {
		return newUserError(KindRateLimited, "You're %s too quickly, try again in %s", doing, window)
	}
	return nil
}

func (s *ControlService) setPermission(ctx context.Context, cc *ControlContext, ow domain.Overwrite) error {
	pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
	defer cancel()
	if err := s.platform.SetPermission(pctx, cc.Channel.ID, ow); err != nil {
		return s.platformError(err, cc)
	}
	return nil
}

func (s *ControlService) edit(ctx context.Context, cc *ControlContext, edit domain.ChannelEdit) error {
	pctx, cancel := context.WithTimeout(ctx, s.policy.PlatformTimeout)
	defer cancel()
	if err := s.platform.EditChannel(pctx, cc.Channel.ID, edit); err != nil {
		return s.platformError(err, cc)
	}
	return nil
}

// platformError 把平台错误转换为服务层错误。
func (s *ControlService) platformError(err error, cc *ControlContext) error {
	logCtx := logrus.WithError(err).WithField("channel_id", cc.Channel.ID)
	switch {
	case platform.IsNotFound(err):
		return ErrNotManaged
	case platform.IsTimeout(err):
		logCtx.Warn("Platform call timed out")
		return newUserError(KindRateLimited, "The request timed out, please try again")
	}
	if rl, ok := platform.AsRateLimit(err); ok {
		return newUserError(KindRateLimited, "Your voice channel has reached its rate limit, try again in %s", rl.RetryAfter.Round(time.Second))
	}
	if errors.Is(err, platform.ErrForbidden) {
		return newUserError(KindForbidden, "I don't have permission to manage your voice channel")
	}
	logCtx.Error("Platform call failed")
	return ErrInternalServer
}

// observe 记录操作结果指标
func (s *ControlService) observe(action string, fn func() (*Reply, error)) (*Reply, error) {
	reply, err := fn()
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case reply != nil && reply.Warning:
		result = "warning"
	}
	metrics.ControlActions.WithLabelValues(action, result).Inc()
	return reply, err
}

func mention(t domain.PermissionTarget) string {
	if t.Kind == domain.TargetRole {
		return "<@&" + t.ID + ">"
	}
	return "<@" + t.ID + ">"
}
