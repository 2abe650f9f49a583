package domain

import "time"

// LobbyConfig 表示一个服务器 (guild) 的 VoiceMaster 配置。
// 每个服务器最多一行：setup 时创建，reset 时删除。
type LobbyConfig struct {
	GuildID        string    `gorm:"primaryKey;size:32"`          // 服务器 ID (主键)
	LobbyChannelID string    `gorm:"size:32;not null"`            // "Join to Create" 语音频道 ID
	CategoryID     string    `gorm:"size:32;not null;default:''"` // 新频道所在分类，空字符串表示不指定
	PanelChannelID string    `gorm:"size:32;not null;default:''"` // 控制面板所在的文本频道
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (LobbyConfig) TableName() string { return "voicemaster_configs" }

// HasCategory 判断是否配置了分类
func (c *LobbyConfig) HasCategory() bool {
	return c.CategoryID != "" && c.CategoryID != "0"
}
