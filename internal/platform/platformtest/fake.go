// Package platformtest 提供一个内存中的 Platform 实现，供服务层和处理器测试使用。
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"voicemaster/internal/domain"
	"voicemaster/internal/platform"
)

// Fake 是线程安全的内存平台。
// 语音连接状态保存在 voice 中，频道成员在读取时根据 voice 计算。
type Fake struct {
	mu       sync.Mutex
	nextID   int
	guilds   map[string]*domain.Guild
	members  map[string]map[string]*domain.Member // guildID -> userID -> member
	channels map[string]*domain.LiveChannel
	voice    map[string]map[string]string // guildID -> userID -> channelID

	// 故障注入
	CreateErr        error
	GrantErr         error // 频道创建后设置权限失败 (返回部分创建的频道)
	DeleteErr        error
	EditErr          error
	MoveErr          func(userID, channelID string) error
	SetPermissionErr func(channelID string, ow domain.Overwrite) error
	ChannelErr       func(channelID string) error
	InviteErr        error
	CreateDelay      time.Duration

	// CommitThenTimeout 模拟平台已经创建了频道但请求超时：返回频道快照和 ErrTimeout
	CommitThenTimeout bool

	// BotID 是 SelfID 返回的机器人用户 ID
	BotID string

	// 调用记录
	Created  []string
	Deleted  []string
	Moves    []Move
	DMs      []DM
	Edits    []domain.ChannelEdit
	Invites  []string
	PermSets int
}

// Move 记录一次 MoveMember 调用
type Move struct {
	GuildID, UserID, ChannelID string
}

// DM 记录一条私信
type DM struct {
	UserID, Content string
}

var _ platform.Platform = (*Fake)(nil)

// New 创建空的 Fake
func New() *Fake {
	return &Fake{
		guilds:   make(map[string]*domain.Guild),
		members:  make(map[string]map[string]*domain.Member),
		channels: make(map[string]*domain.LiveChannel),
		voice:    make(map[string]map[string]string),
	}
}

// --- 测试搭建 ---

// AddGuild 添加服务器
func (f *Fake) AddGuild(guildID string, bitrateLimit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guilds[guildID] = &domain.Guild{ID: guildID, Name: "guild-" + guildID, BitrateLimit: bitrateLimit}
	if f.members[guildID] == nil {
		f.members[guildID] = make(map[string]*domain.Member)
	}
	if f.voice[guildID] == nil {
		f.voice[guildID] = make(map[string]string)
	}
}

// AddMember 添加服务器成员
func (f *Fake) AddMember(guildID, userID, displayName string, bot bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[guildID][userID] = &domain.Member{UserID: userID, GuildID: guildID, DisplayName: displayName, Bot: bot}
}

// AddChannel 直接添加一个频道 (例如 lobby 或分类)
func (f *Fake) AddChannel(guildID, channelID, name, parentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[channelID] = &domain.LiveChannel{ID: channelID, GuildID: guildID, Name: name, ParentID: parentID, CreatedAt: time.Now()}
}

// AddCategory 添加一个分类
func (f *Fake) AddCategory(guildID, categoryID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[categoryID] = &domain.LiveChannel{ID: categoryID, GuildID: guildID, Name: name, Category: true, CreatedAt: time.Now()}
}

// RemoveChannel 模拟频道在平台侧被删除 (不记录 Deleted)
func (f *Fake) RemoveChannel(channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(channelID)
}

// Connect 模拟用户直接连接到频道 (不检查权限)
func (f *Fake) Connect(guildID, userID, channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voice[guildID][userID] = channelID
}

// Disconnect 模拟用户断开语音
func (f *Fake) Disconnect(guildID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.voice[guildID], userID)
}

// Join 模拟用户尝试加入频道，遵循 Connect 权限覆盖
func (f *Fake) Join(guildID, userID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return platform.ErrNotFound
	}
	if !canConnect(ch, userID) {
		return platform.ErrForbidden
	}
	f.voice[guildID][userID] = channelID
	return nil
}

// CanConnect 判断用户是否能加入频道：成员覆盖优先，其次是 @everyone
func (f *Fake) CanConnect(channelID, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	return ok && canConnect(ch, userID)
}

func canConnect(ch *domain.LiveChannel, userID string) bool {
	if ow := ch.OverwriteFor(domain.MemberTarget(userID)); ow.Connect != domain.AccessUnset {
		return ow.Connect == domain.AccessAllow
	}
	return ch.OverwriteFor(domain.Everyone(ch.GuildID)).Connect != domain.AccessDeny
}

// ChannelIDs 返回当前存在的所有频道 ID
func (f *Fake) ChannelIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.channels))
	for id := range f.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasChannel 判断频道是否存在
func (f *Fake) HasChannel(channelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.channels[channelID]
	return ok
}

// VoiceChannelOf 返回用户当前所在频道
func (f *Fake) VoiceChannelOf(guildID, userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voice[guildID][userID]
}

// CreatedCount 返回 CreateChannel 成功创建的频道数
func (f *Fake) CreatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Created)
}

// --- platform.Platform ---

func (f *Fake) CreateChannel(ctx context.Context, req platform.CreateChannelRequest) (*domain.LiveChannel, error) {
	if f.CreateDelay > 0 {
		select {
		case <-time.After(f.CreateDelay):
		case <-ctx.Done():
			return nil, platform.ErrTimeout
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	if len([]rune(req.Name)) > domain.MaxChannelNameLength {
		return nil, platform.ErrRejected
	}
	f.nextID++
	ch := &domain.LiveChannel{
		ID:        fmt.Sprintf("vc-%d", f.nextID),
		GuildID:   req.GuildID,
		ParentID:  req.ParentID,
		Name:      req.Name,
		Bitrate:   req.Bitrate,
		CreatedAt: time.Now(),
	}
	f.channels[ch.ID] = ch
	f.Created = append(f.Created, ch.ID)
	if f.CommitThenTimeout {
		for _, g := range req.Grants {
			setOverwrite(ch, g)
		}
		return f.snapshotLocked(ch), platform.ErrTimeout
	}
	if f.GrantErr != nil {
		return f.snapshotLocked(ch), f.GrantErr
	}
	for _, g := range req.Grants {
		setOverwrite(ch, g)
	}
	return f.snapshotLocked(ch), nil
}

func (f *Fake) DeleteChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	f.removeLocked(channelID)
	f.Deleted = append(f.Deleted, channelID)
	return nil
}

func (f *Fake) removeLocked(channelID string) {
	ch, ok := f.channels[channelID]
	if !ok {
		return
	}
	delete(f.channels, channelID)
	// 删除频道会断开其中的所有人
	for userID, cid := range f.voice[ch.GuildID] {
		if cid == channelID {
			delete(f.voice[ch.GuildID], userID)
		}
	}
}

func (f *Fake) MoveMember(ctx context.Context, guildID, userID, channelID string) error {
	if f.MoveErr != nil {
		if err := f.MoveErr(userID, channelID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Moves = append(f.Moves, Move{GuildID: guildID, UserID: userID, ChannelID: channelID})
	if _, connected := f.voice[guildID][userID]; !connected {
		return fmt.Errorf("member %s is not connected to voice: %w", userID, platform.ErrRejected)
	}
	if channelID == "" {
		delete(f.voice[guildID], userID)
		return nil
	}
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	f.voice[guildID][userID] = channelID
	return nil
}

func (f *Fake) SetPermission(ctx context.Context, channelID string, ow domain.Overwrite) error {
	if f.SetPermissionErr != nil {
		if err := f.SetPermissionErr(channelID, ow); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return platform.ErrNotFound
	}
	f.PermSets++
	setOverwrite(ch, ow)
	return nil
}

func setOverwrite(ch *domain.LiveChannel, ow domain.Overwrite) {
	out := ch.Overwrites[:0:0]
	for _, existing := range ch.Overwrites {
		if existing.Target != ow.Target {
			out = append(out, existing)
		}
	}
	if !ow.IsEmpty() {
		out = append(out, ow)
	}
	ch.Overwrites = out
}

func (f *Fake) EditChannel(ctx context.Context, channelID string, edit domain.ChannelEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EditErr != nil {
		return f.EditErr
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return platform.ErrNotFound
	}
	f.Edits = append(f.Edits, edit)
	if edit.Name != nil {
		ch.Name = *edit.Name
	}
	if edit.UserLimit != nil {
		ch.UserLimit = *edit.UserLimit
	}
	if edit.Status != nil {
		ch.Status = *edit.Status
	}
	if edit.NSFW != nil {
		ch.NSFW = *edit.NSFW
	}
	if edit.Region != nil {
		ch.Region = *edit.Region
	}
	return nil
}

func (f *Fake) Channel(ctx context.Context, channelID string) (*domain.LiveChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChannelErr != nil {
		if err := f.ChannelErr(channelID); err != nil {
			return nil, err
		}
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return f.snapshotLocked(ch), nil
}

// snapshotLocked 复制频道并计算当前成员
func (f *Fake) snapshotLocked(ch *domain.LiveChannel) *domain.LiveChannel {
	cp := *ch
	cp.Overwrites = append([]domain.Overwrite(nil), ch.Overwrites...)
	cp.Occupants = nil
	userIDs := make([]string, 0)
	for userID, cid := range f.voice[ch.GuildID] {
		if cid == ch.ID {
			userIDs = append(userIDs, userID)
		}
	}
	sort.Strings(userIDs)
	for _, userID := range userIDs {
		occ := domain.Occupant{UserID: userID, DisplayName: userID}
		if m, ok := f.members[ch.GuildID][userID]; ok {
			occ.DisplayName = m.DisplayName
			occ.Bot = m.Bot
		}
		cp.Occupants = append(cp.Occupants, occ)
	}
	return &cp
}

func (f *Fake) Member(ctx context.Context, guildID, userID string) (*domain.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[guildID][userID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *Fake) MemberChannelID(ctx context.Context, guildID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voice[guildID][userID], nil
}

func (f *Fake) Guild(ctx context.Context, guildID string) (*domain.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.guilds[guildID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *Fake) SendDirectMessage(ctx context.Context, userID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DMs = append(f.DMs, DM{UserID: userID, Content: content})
	return nil
}

func (f *Fake) CreateInvite(ctx context.Context, channelID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InviteErr != nil {
		return "", f.InviteErr
	}
	if _, ok := f.channels[channelID]; !ok {
		return "", platform.ErrNotFound
	}
	f.Invites = append(f.Invites, channelID)
	return fmt.Sprintf("https://discord.gg/%s-%d", channelID, len(f.Invites)), nil
}

func (f *Fake) SelfID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BotID
}

func (f *Fake) ProvisionLobby(ctx context.Context, guildID string) (*platform.LobbyLayout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	ids := make([]string, 3)
	for i, name := range []string{"Voice Channels", "Join to Create", "panel"} {
		f.nextID++
		ids[i] = fmt.Sprintf("setup-%d", f.nextID)
		parent := ""
		if i > 0 {
			parent = ids[0]
		}
		f.channels[ids[i]] = &domain.LiveChannel{ID: ids[i], GuildID: guildID, Name: name, ParentID: parent, Category: i == 0, CreatedAt: time.Now()}
	}
	return &platform.LobbyLayout{CategoryID: ids[0], LobbyChannelID: ids[1], PanelChannelID: ids[2]}, nil
}
