package repository

import (
	"context"

	"voicemaster/internal/domain"
)

// LobbyRepository 定义了服务器 VoiceMaster 配置的存储操作。
type LobbyRepository interface {
	// FindByGuildID 根据服务器 ID 查找配置。
	// 如果不存在，返回 ErrLobbyNotFound。
	FindByGuildID(ctx context.Context, guildID string) (*domain.LobbyConfig, error)

	// Upsert 创建或覆盖服务器的配置 (以 GuildID 为冲突键)。
	Upsert(ctx context.Context, cfg *domain.LobbyConfig) error

	// Delete 删除服务器配置并返回被删除的记录。
	// 如果不存在，返回 ErrLobbyNotFound。
	Delete(ctx context.Context, guildID string) (*domain.LobbyConfig, error)

	// UpdateCategory 修改新频道所在的分类。
	// 如果配置不存在，返回 ErrLobbyNotFound。
	UpdateCategory(ctx context.Context, guildID, categoryID string) error
}
