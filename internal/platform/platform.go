// Package platform 定义了 VoiceMaster 与聊天平台之间的边界。
// 平台调用都可能很慢、被限流或失败，调用方必须传入带超时的 context。
package platform

import (
	"context"

	"voicemaster/internal/domain"
)

// CreateChannelRequest 描述一次语音频道创建
type CreateChannelRequest struct {
	GuildID  string
	ParentID string // 所在分类，空表示无分类
	Name     string
	Bitrate  int
	Grants   []domain.Overwrite // 创建后立即设置的显式权限覆盖
	Reason   string
}

// LobbyLayout 是 setup 时在平台上创建的频道布局
type LobbyLayout struct {
	CategoryID     string
	LobbyChannelID string
	PanelChannelID string
}

// Platform 是平台客户端。
type Platform interface {
	// CreateChannel 创建语音频道并应用 Grants。
	// 如果频道已创建但后续步骤失败，返回非 nil 的频道和错误，调用方负责清理。
	// 请求超时但平台已经创建了频道时同样返回该频道和 ErrTimeout。
	CreateChannel(ctx context.Context, req CreateChannelRequest) (*domain.LiveChannel, error)

	// DeleteChannel 删除频道；频道不存在时返回 ErrNotFound。
	DeleteChannel(ctx context.Context, channelID string) error

	// MoveMember 将成员移动到 channelID，channelID 为空表示断开连接。
	MoveMember(ctx context.Context, guildID, userID, channelID string) error

	// SetPermission 设置目标在频道上的 Connect/View/Speak 覆盖，其它权限位保持不变。
	// 三个位都为 Unset 时移除覆盖。
	SetPermission(ctx context.Context, channelID string, ow domain.Overwrite) error

	// EditChannel 修改频道元数据。
	EditChannel(ctx context.Context, channelID string, edit domain.ChannelEdit) error

	// Channel 返回频道的实时状态 (包括当前成员)；不存在时返回 ErrNotFound。
	Channel(ctx context.Context, channelID string) (*domain.LiveChannel, error)

	// Member 返回服务器成员；不存在时返回 ErrNotFound。
	Member(ctx context.Context, guildID, userID string) (*domain.Member, error)

	// MemberChannelID 返回成员当前所在的语音频道 ID，未连接时返回空字符串。
	MemberChannelID(ctx context.Context, guildID, userID string) (string, error)

	// Guild 返回服务器信息
	Guild(ctx context.Context, guildID string) (*domain.Guild, error)

	// SendDirectMessage 给用户发私信
	SendDirectMessage(ctx context.Context, userID, content string) error

	// CreateInvite 为频道创建一个永不过期的邀请链接
	CreateInvite(ctx context.Context, channelID string) (string, error)

	// SelfID 返回机器人自己的用户 ID，未连接时返回空字符串。
	SelfID() string

	// ProvisionLobby 创建分类、"Join to Create" 频道以及带控制面板的文本频道。
	ProvisionLobby(ctx context.Context, guildID string) (*LobbyLayout, error)
}
