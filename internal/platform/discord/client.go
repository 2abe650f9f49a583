// Package discordplatform 是 platform.Platform 基于 discordgo 的实现。
package discordplatform

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voicemaster/internal/domain"
	"voicemaster/internal/platform"
)

const (
	// createClockSkew 判断超时后找到的频道是否由本次请求创建时允许的时钟偏差
	createClockSkew = 2 * time.Second
	// createRecoverTimeout 超时后查找已创建频道的时间上限
	createRecoverTimeout = 5 * time.Second
)

// PanelBuilder 构造 setup 时发送到面板频道的消息
type PanelBuilder func(lobbyChannelID string) *discordgo.MessageSend

// channelExtras 保存 discordgo 的 Channel 结构中没有的字段 (区域、状态)，只记录本进程修改过的值。
type channelExtras struct {
	region string
	status string
}

// Client 实现 platform.Platform
type Client struct {
	session *discordgo.Session
	panel   PanelBuilder

	mu     sync.Mutex
	extras map[string]channelExtras
}

var _ platform.Platform = (*Client)(nil)

// New 创建 Client。panel 可以为 nil，此时 setup 不发送面板消息。
func New(session *discordgo.Session, panel PanelBuilder) *Client {
	if session == nil {
		panic("discord session cannot be nil")
	}
	return &Client{session: session, panel: panel, extras: make(map[string]channelExtras)}
}

func opts(ctx context.Context, extra ...discordgo.RequestOption) []discordgo.RequestOption {
	return append([]discordgo.RequestOption{discordgo.WithContext(ctx)}, extra...)
}

// CreateChannel 创建语音频道，Grants 随创建请求一起提交。
// 请求超时时平台可能已经提交了创建，此时尝试找回该频道交给调用方清理。
func (c *Client) CreateChannel(ctx context.Context, req platform.CreateChannelRequest) (*domain.LiveChannel, error) {
	overwrites := make([]*discordgo.PermissionOverwrite, 0, len(req.Grants))
	for _, g := range req.Grants {
		overwrites = append(overwrites, mergeOverwrite(nil, g))
	}
	start := time.Now()
	ch, err := c.session.GuildChannelCreateComplex(req.GuildID, discordgo.GuildChannelCreateData{
		Name:                 req.Name,
		Type:                 discordgo.ChannelTypeGuildVoice,
		Bitrate:              req.Bitrate,
		ParentID:             req.ParentID,
		PermissionOverwrites: overwrites,
	}, opts(ctx, discordgo.WithAuditLogReason(req.Reason))...)
	if err != nil {
		err = mapError(err, "create channel")
		if !platform.IsTimeout(err) {
			return nil, err
		}
		// 原 ctx 已经过期，用独立的超时查找
		rctx, cancel := context.WithTimeout(context.Background(), createRecoverTimeout)
		defer cancel()
		if found := c.findCreated(rctx, req, start.Add(-createClockSkew)); found != nil {
			return c.toLive(found, nil), err
		}
		return nil, err
	}
	return c.toLive(ch, nil), nil
}

// findCreated 先查网关缓存，再查 REST，寻找 since 之后按 req 创建的语音频道。
func (c *Client) findCreated(ctx context.Context, req platform.CreateChannelRequest, since time.Time) *discordgo.Channel {
	state := c.session.State
	state.RLock()
	g, err := guildLocked(state, req.GuildID)
	var found *discordgo.Channel
	if err == nil {
		found = matchCreated(g.Channels, req, since)
	}
	state.RUnlock()
	if found != nil {
		return found
	}

	chs, err := c.session.GuildChannels(req.GuildID, opts(ctx)...)
	if err != nil {
		logrus.WithError(err).WithField("guild_id", req.GuildID).Warn("Failed to list channels after create timeout")
		return nil
	}
	return matchCreated(chs, req, since)
}

// matchCreated 返回名称、分类和类型都匹配且创建时间不早于 since 的最新频道
func matchCreated(chs []*discordgo.Channel, req platform.CreateChannelRequest, since time.Time) *discordgo.Channel {
	var best *discordgo.Channel
	var bestAt time.Time
	for _, ch := range chs {
		if ch.Type != discordgo.ChannelTypeGuildVoice || ch.Name != req.Name || ch.ParentID != req.ParentID {
			continue
		}
		at, err := discordgo.SnowflakeTimestamp(ch.ID)
		if err != nil || at.Before(since) {
			continue
		}
		if best == nil || at.After(bestAt) {
			best, bestAt = ch, at
		}
	}
	return best
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := c.session.ChannelDelete(channelID, opts(ctx)...)
	c.mu.Lock()
	delete(c.extras, channelID)
	c.mu.Unlock()
	return mapError(err, "delete channel")
}

func (c *Client) MoveMember(ctx context.Context, guildID, userID, channelID string) error {
	var target *string
	if channelID != "" {
		target = &channelID
	}
	return mapError(c.session.GuildMemberMove(guildID, userID, target, opts(ctx)...), "move member")
}

// SetPermission 合并目标现有的覆盖，只修改 Connect、View 和 Speak 三个位。
func (c *Client) SetPermission(ctx context.Context, channelID string, ow domain.Overwrite) error {
	ch, err := c.rawChannel(ctx, channelID)
	if err != nil {
		return err
	}
	var existing *discordgo.PermissionOverwrite
	for _, po := range ch.PermissionOverwrites {
		if po.ID == ow.Target.ID {
			existing = po
			break
		}
	}
	merged := mergeOverwrite(existing, ow)
	if merged.Allow == 0 && merged.Deny == 0 {
		if existing == nil {
			return nil
		}
		err := c.session.ChannelPermissionDelete(channelID, merged.ID, opts(ctx)...)
		if err = mapError(err, "delete permission"); platform.IsNotFound(err) {
			return nil
		}
		return err
	}
	err = c.session.ChannelPermissionSet(channelID, merged.ID, merged.Type, merged.Allow, merged.Deny, opts(ctx)...)
	return mapError(err, "set permission")
}

// EditChannel 直接发送 PATCH 请求：discordgo 的 ChannelEdit 无法把 user_limit 置 0，也不支持区域和状态。
func (c *Client) EditChannel(ctx context.Context, channelID string, edit domain.ChannelEdit) error {
	data := map[string]interface{}{}
	if edit.Name != nil {
		data["name"] = *edit.Name
	}
	if edit.UserLimit != nil {
		data["user_limit"] = *edit.UserLimit
	}
	if edit.NSFW != nil {
		data["nsfw"] = *edit.NSFW
	}
	if edit.Region != nil {
		if *edit.Region == "" {
			data["rtc_region"] = nil
		} else {
			data["rtc_region"] = *edit.Region
		}
	}

	endpoint := discordgo.EndpointChannel(channelID)
	if len(data) > 0 {
		_, err := c.session.RequestWithBucketID("PATCH", endpoint, data, endpoint,
			opts(ctx, discordgo.WithRetryOnRatelimit(false))...)
		if err != nil {
			return mapError(err, "edit channel")
		}
	}
	if edit.Status != nil {
		_, err := c.session.RequestWithBucketID("PUT", endpoint+"/voice-status",
			map[string]string{"status": *edit.Status}, endpoint+"/voice-status", opts(ctx)...)
		if err != nil {
			return mapError(err, "set voice status")
		}
	}

	if edit.Region != nil || edit.Status != nil {
		c.mu.Lock()
		ex := c.extras[channelID]
		if edit.Region != nil {
			ex.region = *edit.Region
		}
		if edit.Status != nil {
			ex.status = *edit.Status
		}
		c.extras[channelID] = ex
		c.mu.Unlock()
	}
	return nil
}

// Channel 返回频道快照，成员来自网关缓存的语音状态。
func (c *Client) Channel(ctx context.Context, channelID string) (*domain.LiveChannel, error) {
	ch, err := c.rawChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	occupants, ok := c.occupants(ch.GuildID, ch.ID)
	if !ok {
		return nil, errors.Wrapf(platform.ErrUnavailable, "guild %s", ch.GuildID)
	}
	return c.toLive(ch, occupants), nil
}

func (c *Client) rawChannel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if ch, err := c.session.State.Channel(channelID); err == nil {
		return ch, nil
	}
	ch, err := c.session.Channel(channelID, opts(ctx)...)
	if err != nil {
		return nil, mapError(err, "get channel")
	}
	return ch, nil
}

// occupants 从缓存中收集频道内的成员，按用户 ID 排序。服务器不在缓存中时 ok 为 false。
func (c *Client) occupants(guildID, channelID string) (out []domain.Occupant, ok bool) {
	state := c.session.State
	state.RLock()
	var userIDs []string
	members := map[string]*discordgo.Member{}
	g, err := guildLocked(state, guildID)
	if err == nil {
		for _, vs := range g.VoiceStates {
			if vs.ChannelID == channelID {
				userIDs = append(userIDs, vs.UserID)
				if vs.Member != nil {
					members[vs.UserID] = vs.Member
				}
			}
		}
	}
	state.RUnlock()
	if err != nil {
		return nil, false
	}

	sort.Strings(userIDs)
	out = make([]domain.Occupant, 0, len(userIDs))
	for _, userID := range userIDs {
		occ := domain.Occupant{UserID: userID, DisplayName: userID}
		m := members[userID]
		if m == nil {
			m, _ = state.Member(guildID, userID)
		}
		if m != nil && m.User != nil {
			occ.DisplayName = displayName(m)
			occ.Bot = m.User.Bot
		}
		out = append(out, occ)
	}
	return out, true
}

// guildLocked 在调用方已持有读锁时查找服务器。
func guildLocked(state *discordgo.State, guildID string) (*discordgo.Guild, error) {
	for _, g := range state.Guilds {
		if g.ID == guildID {
			return g, nil
		}
	}
	return nil, discordgo.ErrStateNotFound
}

func (c *Client) Member(ctx context.Context, guildID, userID string) (*domain.Member, error) {
	m, err := c.session.State.Member(guildID, userID)
	if err != nil {
		if m, err = c.session.GuildMember(guildID, userID, opts(ctx)...); err != nil {
			return nil, mapError(err, "get member")
		}
	}
	return &domain.Member{UserID: userID, GuildID: guildID, DisplayName: displayName(m), Bot: m.User != nil && m.User.Bot}, nil
}

func (c *Client) MemberChannelID(ctx context.Context, guildID, userID string) (string, error) {
	vs, err := c.session.State.VoiceState(guildID, userID)
	if err != nil {
		if errors.Is(err, discordgo.ErrStateNotFound) {
			return "", nil
		}
		return "", mapError(err, "get voice state")
	}
	return vs.ChannelID, nil
}

func (c *Client) Guild(ctx context.Context, guildID string) (*domain.Guild, error) {
	g, err := c.session.State.Guild(guildID)
	if err != nil {
		if g, err = c.session.Guild(guildID, opts(ctx)...); err != nil {
			return nil, mapError(err, "get guild")
		}
	}
	return &domain.Guild{ID: g.ID, Name: g.Name, BitrateLimit: bitrateLimit(g.PremiumTier)}, nil
}

func (c *Client) SendDirectMessage(ctx context.Context, userID, content string) error {
	dm, err := c.session.UserChannelCreate(userID, opts(ctx)...)
	if err != nil {
		return mapError(err, "open dm")
	}
	_, err = c.session.ChannelMessageSend(dm.ID, content, opts(ctx)...)
	return mapError(err, "send dm")
}

// CreateInvite 创建永不过期、不限次数的邀请
func (c *Client) CreateInvite(ctx context.Context, channelID string) (string, error) {
	inv, err := c.session.ChannelInviteCreate(channelID, discordgo.Invite{MaxAge: 0}, opts(ctx)...)
	if err != nil {
		return "", mapError(err, "create invite")
	}
	return "https://discord.gg/" + inv.Code, nil
}

// SelfID 返回 READY 事件中记录的机器人用户 ID
func (c *Client) SelfID() string {
	state := c.session.State
	state.RLock()
	defer state.RUnlock()
	if state.User == nil {
		return ""
	}
	return state.User.ID
}

// ProvisionLobby 创建分类、lobby 语音频道和面板文本频道。中途失败时删除已创建的频道。
func (c *Client) ProvisionLobby(ctx context.Context, guildID string) (layout *platform.LobbyLayout, err error) {
	var created []string
	defer func() {
		if err == nil {
			return
		}
		for i := len(created) - 1; i >= 0; i-- {
			_, _ = c.session.ChannelDelete(created[i], opts(context.Background())...)
		}
	}()
	create := func(data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
		ch, err := c.session.GuildChannelCreateComplex(guildID, data, opts(ctx, discordgo.WithAuditLogReason("VoiceMaster setup"))...)
		if err != nil {
			return nil, mapError(err, "create "+data.Name)
		}
		created = append(created, ch.ID)
		return ch, nil
	}

	category, err := create(discordgo.GuildChannelCreateData{
		Name: "Voice Channels",
		Type: discordgo.ChannelTypeGuildCategory,
	})
	if err != nil {
		return nil, err
	}
	lobby, err := create(discordgo.GuildChannelCreateData{
		Name:     "Join to Create",
		Type:     discordgo.ChannelTypeGuildVoice,
		ParentID: category.ID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{{
			ID:    guildID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: discordgo.PermissionVoiceConnect,
			Deny:  discordgo.PermissionSendMessages,
		}},
	})
	if err != nil {
		return nil, err
	}
	panel, err := create(discordgo.GuildChannelCreateData{
		Name:     "panel",
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: category.ID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{{
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionSendMessages | discordgo.PermissionAddReactions |
				discordgo.PermissionCreatePublicThreads | discordgo.PermissionCreatePrivateThreads,
		}},
	})
	if err != nil {
		return nil, err
	}
	if c.panel != nil {
		if _, err = c.session.ChannelMessageSendComplex(panel.ID, c.panel(lobby.ID), opts(ctx)...); err != nil {
			return nil, mapError(err, "send panel")
		}
	}
	return &platform.LobbyLayout{CategoryID: category.ID, LobbyChannelID: lobby.ID, PanelChannelID: panel.ID}, nil
}

// --- 转换 ---

func (c *Client) toLive(ch *discordgo.Channel, occupants []domain.Occupant) *domain.LiveChannel {
	live := &domain.LiveChannel{
		ID:        ch.ID,
		GuildID:   ch.GuildID,
		ParentID:  ch.ParentID,
		Name:      ch.Name,
		Category:  ch.Type == discordgo.ChannelTypeGuildCategory,
		Bitrate:   ch.Bitrate,
		UserLimit: ch.UserLimit,
		NSFW:      ch.NSFW,
		Occupants: occupants,
	}
	if ts, err := discordgo.SnowflakeTimestamp(ch.ID); err == nil {
		live.CreatedAt = ts
	}
	for _, po := range ch.PermissionOverwrites {
		if ow := fromOverwrite(po); !ow.IsEmpty() {
			live.Overwrites = append(live.Overwrites, ow)
		}
	}
	c.mu.Lock()
	if ex, ok := c.extras[ch.ID]; ok {
		live.Region = ex.region
		live.Status = ex.status
	}
	c.mu.Unlock()
	return live
}

func fromOverwrite(po *discordgo.PermissionOverwrite) domain.Overwrite {
	target := domain.RoleTarget(po.ID)
	if po.Type == discordgo.PermissionOverwriteTypeMember {
		target = domain.MemberTarget(po.ID)
	}
	return domain.Overwrite{
		Target:  target,
		Connect: accessOf(po, discordgo.PermissionVoiceConnect),
		View:    accessOf(po, discordgo.PermissionViewChannel),
		Speak:   accessOf(po, discordgo.PermissionVoiceSpeak),
	}
}

func accessOf(po *discordgo.PermissionOverwrite, bit int64) domain.Access {
	switch {
	case po.Allow&bit != 0:
		return domain.AccessAllow
	case po.Deny&bit != 0:
		return domain.AccessDeny
	}
	return domain.AccessUnset
}

// mergeOverwrite 在 existing 的基础上设置 Connect、View 和 Speak，其它位保持不变。
func mergeOverwrite(existing *discordgo.PermissionOverwrite, ow domain.Overwrite) *discordgo.PermissionOverwrite {
	merged := &discordgo.PermissionOverwrite{ID: ow.Target.ID, Type: discordgo.PermissionOverwriteTypeRole}
	if ow.Target.Kind == domain.TargetMember {
		merged.Type = discordgo.PermissionOverwriteTypeMember
	}
	if existing != nil {
		merged.Allow, merged.Deny = existing.Allow, existing.Deny
	}
	apply := func(bit int64, a domain.Access) {
		merged.Allow &^= bit
		merged.Deny &^= bit
		switch a {
		case domain.AccessAllow:
			merged.Allow |= bit
		case domain.AccessDeny:
			merged.Deny |= bit
		}
	}
	apply(discordgo.PermissionVoiceConnect, ow.Connect)
	apply(discordgo.PermissionViewChannel, ow.View)
	apply(discordgo.PermissionVoiceSpeak, ow.Speak)
	return merged
}

func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

// bitrateLimit 按服务器加成等级返回最大码率
func bitrateLimit(tier discordgo.PremiumTier) int {
	switch tier {
	case discordgo.PremiumTier1:
		return 128000
	case discordgo.PremiumTier2:
		return 256000
	case discordgo.PremiumTier3:
		return 384000
	}
	return 96000
}
