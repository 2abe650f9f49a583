package repository

import (
	"context"

	"voicemaster/internal/domain"
)

// ChannelRepository 定义了临时频道所有权记录 (Ledger) 的存储操作。
type ChannelRepository interface {
	// Insert 插入一条新的所有权记录。
	// 如果 ChannelID 已存在，返回 ErrDuplicateEntry。
	Insert(ctx context.Context, ch *domain.OwnedChannel) error

	// FindByChannelID 根据频道 ID 查找记录。
	// 如果不存在，返回 ErrChannelNotFound。
	FindByChannelID(ctx context.Context, channelID string) (*domain.OwnedChannel, error)

	// UpdateOwner 仅当当前所有者仍为 fromOwnerID 时把所有者改为 toOwnerID。
	// 如果记录不存在，返回 ErrChannelNotFound；所有者已被改为其他人时返回 ErrStaleOwner。
	UpdateOwner(ctx context.Context, channelID, fromOwnerID, toOwnerID string) error

	// Delete 删除记录并返回受影响的行数；0 表示该频道不由 VoiceMaster 管理。
	Delete(ctx context.Context, channelID string) (int64, error)

	// ListAll 返回所有服务器的全部记录 (用于对账清理)。
	ListAll(ctx context.Context) ([]domain.OwnedChannel, error)

	// ListByGuild 返回指定服务器的全部记录。
	ListByGuild(ctx context.Context, guildID string) ([]domain.OwnedChannel, error)
}
