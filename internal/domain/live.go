package domain

import "time"

// Occupant 是当前连接在某个语音频道中的成员。
type Occupant struct {
	UserID      string
	DisplayName string
	Bot         bool
}

// LiveChannel 是平台上某个语音频道的实时状态快照。
// Category 为 true 时它是一个分类，而不是语音频道。
type LiveChannel struct {
	ID         string
	GuildID    string
	ParentID   string
	Name       string
	Category   bool
	Bitrate    int
	UserLimit  int
	NSFW       bool
	Region     string
	Status     string
	Overwrites []Overwrite
	Occupants  []Occupant
	CreatedAt  time.Time
}

// IsEmpty 判断频道是否为空：机器人/服务账号不计入占用人数。
func (c *LiveChannel) IsEmpty() bool {
	return c.HumanCount() == 0
}

// HumanCount 返回非机器人成员数量
func (c *LiveChannel) HumanCount() int {
	n := 0
	for _, o := range c.Occupants {
		if !o.Bot {
			n++
		}
	}
	return n
}

// HasOccupant 判断指定用户是否在频道中
func (c *LiveChannel) HasOccupant(userID string) bool {
	_, ok := c.Occupant(userID)
	return ok
}

// Occupant 按用户 ID 查找频道中的成员
func (c *LiveChannel) Occupant(userID string) (Occupant, bool) {
	for _, o := range c.Occupants {
		if o.UserID == userID {
			return o, true
		}
	}
	return Occupant{}, false
}

// OverwriteFor 返回针对目标的当前覆盖；不存在时返回全部 Unset 的覆盖。
func (c *LiveChannel) OverwriteFor(target PermissionTarget) Overwrite {
	for _, ow := range c.Overwrites {
		if ow.Target == target {
			return ow
		}
	}
	return Overwrite{Target: target}
}

// IsLocked 默认角色的 Connect 被显式拒绝
func (c *LiveChannel) IsLocked() bool {
	return c.OverwriteFor(Everyone(c.GuildID)).Connect == AccessDeny
}

// IsHidden 默认角色的 View 被显式拒绝
func (c *LiveChannel) IsHidden() bool {
	return c.OverwriteFor(Everyone(c.GuildID)).View == AccessDeny
}

// IsMusicMode 默认角色的 Speak 被显式拒绝，只有机器人可以发言
func (c *LiveChannel) IsMusicMode() bool {
	return c.OverwriteFor(Everyone(c.GuildID)).Speak == AccessDeny
}

// Member 是平台上的服务器成员。
type Member struct {
	UserID      string
	GuildID     string
	DisplayName string
	Bot         bool
}

// Guild 是服务器的基础信息。
type Guild struct {
	ID           string
	Name         string
	BitrateLimit int // 服务器允许的最大码率 (bps)
}

// ChannelEdit 描述一次频道元数据修改；nil 字段表示不修改。
type ChannelEdit struct {
	Name      *string
	UserLimit *int
	Status    *string
	NSFW      *bool
	Region    *string
}

// Actor 是发起操作的用户及其所在服务器。
type Actor struct {
	GuildID string
	UserID  string
}

// VoiceTransition 是一次语音状态变化：用户从 FromChannelID 移动到 ToChannelID。
// 空字符串表示未连接。
type VoiceTransition struct {
	GuildID       string
	UserID        string
	DisplayName   string
	Bot           bool
	FromChannelID string
	ToChannelID   string
}

// Entered 用户进入了一个 (不同的) 频道
func (t VoiceTransition) Entered() bool {
	return t.ToChannelID != "" && t.ToChannelID != t.FromChannelID
}

// Left 用户离开了一个 (不同的) 频道
func (t VoiceTransition) Left() bool {
	return t.FromChannelID != "" && t.FromChannelID != t.ToChannelID
}
