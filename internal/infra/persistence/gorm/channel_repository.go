package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"voicemaster/internal/domain"
	"voicemaster/internal/repository"
)

// GormChannelRepository 是 ChannelRepository 接口的 GORM 实现
type GormChannelRepository struct {
	db *gorm.DB
}

// NewGormChannelRepository 创建 GormChannelRepository 实例
func NewGormChannelRepository(db *gorm.DB) *GormChannelRepository {
	if db == nil {
		panic("database connection cannot be nil for GormChannelRepository")
	}
	return &GormChannelRepository{db: db}
}

// Insert 实现插入所有权记录。主键冲突映射为 ErrDuplicateEntry。
func (r *GormChannelRepository) Insert(ctx context.Context, ch *domain.OwnedChannel) error {
	err := r.db.WithContext(ctx).Create(ch).Error
	if err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: insert owned channel (channel: %s, owner: %s): %w", ch.ChannelID, ch.OwnerID, err)
	}
	return nil
}

// FindByChannelID 实现根据频道 ID 查找记录
func (r *GormChannelRepository) FindByChannelID(ctx context.Context, channelID string) (*domain.OwnedChannel, error) {
	var ch domain.OwnedChannel
	err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&ch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrChannelNotFound
		}
		return nil, fmt.Errorf("gorm: find owned channel %s: %w", channelID, err)
	}
	return &ch, nil
}

// UpdateOwner 实现条件更新所有者：WHERE 中带上旧的所有者，并发的 claim 只有一个能成功
func (r *GormChannelRepository) UpdateOwner(ctx context.Context, channelID, fromOwnerID, toOwnerID string) error {
	result := r.db.WithContext(ctx).Model(&domain.OwnedChannel{}).
		Where("channel_id = ? AND owner_id = ?", channelID, fromOwnerID).
		Update("owner_id", toOwnerID)
	if result.Error != nil {
		return fmt.Errorf("gorm: update owner of channel %s: %w", channelID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	// 0 行：记录不存在、所有者已被改动，或者 MySQL 在值未变化时也返回 0 行
	var current domain.OwnedChannel
	err := r.db.WithContext(ctx).Select("owner_id").Where("channel_id = ?", channelID).First(&current).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrChannelNotFound
	case err != nil:
		return fmt.Errorf("gorm: find owner of channel %s: %w", channelID, err)
	case current.OwnerID == toOwnerID:
		return nil
	}
	return repository.ErrStaleOwner
}

// Delete 实现删除记录，返回受影响行数
func (r *GormChannelRepository) Delete(ctx context.Context, channelID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("channel_id = ?", channelID).Delete(&domain.OwnedChannel{})
	if result.Error != nil {
		return 0, fmt.Errorf("gorm: delete owned channel %s: %w", channelID, result.Error)
	}
	return result.RowsAffected, nil
}

// ListAll 实现列出全部记录
func (r *GormChannelRepository) ListAll(ctx context.Context) ([]domain.OwnedChannel, error) {
	var channels []domain.OwnedChannel
	if err := r.db.WithContext(ctx).Order("created_at").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("gorm: list owned channels: %w", err)
	}
	return channels, nil
}

// ListByGuild 实现列出指定服务器的记录
func (r *GormChannelRepository) ListByGuild(ctx context.Context, guildID string) ([]domain.OwnedChannel, error) {
	var channels []domain.OwnedChannel
	err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).Order("created_at").Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list owned channels for guild %s: %w", guildID, err)
	}
	return channels, nil
}
