package domain

import "time"

// OwnedChannel 表示一个由 VoiceMaster 创建并管理的临时语音频道。
// ChannelID 是主键：同一个频道最多只有一行记录，这是并发创建时的最终一致性保障。
type OwnedChannel struct {
	ChannelID string    `gorm:"primaryKey;size:32"`     // 语音频道 ID (主键)
	GuildID   string    `gorm:"size:32;index;not null"` // 所属服务器 ID
	OwnerID   string    `gorm:"size:32;index;not null"` // 当前所有者的用户 ID
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (OwnedChannel) TableName() string { return "voicemaster_channels" }

// DefaultChannelSuffix 是自动命名频道的后缀，claim/transfer 时据此判断是否需要改名
const DefaultChannelSuffix = "'s channel"

// MaxChannelNameLength 平台允许的频道名最大长度 (按字符计)
const MaxChannelNameLength = 100

// DefaultChannelName 根据用户的显示名生成频道名，超长时截断。
func DefaultChannelName(displayName string) string {
	name := []rune(displayName + DefaultChannelSuffix)
	if len(name) > MaxChannelNameLength {
		name = name[:MaxChannelNameLength]
	}
	return string(name)
}
