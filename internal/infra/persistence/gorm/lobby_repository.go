package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"voicemaster/internal/domain"
	"voicemaster/internal/repository"
)

// GormLobbyRepository 是 LobbyRepository 接口的 GORM 实现
type GormLobbyRepository struct {
	db *gorm.DB
}

// NewGormLobbyRepository 创建 GormLobbyRepository 实例
func NewGormLobbyRepository(db *gorm.DB) *GormLobbyRepository {
	if db == nil {
		panic("database connection cannot be nil for GormLobbyRepository")
	}
	return &GormLobbyRepository{db: db}
}

// FindByGuildID 实现根据服务器 ID 查找配置
func (r *GormLobbyRepository) FindByGuildID(ctx context.Context, guildID string) (*domain.LobbyConfig, error) {
	var cfg domain.LobbyConfig
	err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrLobbyNotFound
		}
		return nil, fmt.Errorf("gorm: find lobby config for guild %s: %w", guildID, err)
	}
	return &cfg, nil
}

// Upsert 实现创建或覆盖配置 (INSERT ... ON DUPLICATE KEY UPDATE)
func (r *GormLobbyRepository) Upsert(ctx context.Context, cfg *domain.LobbyConfig) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"lobby_channel_id", "category_id", "panel_channel_id", "updated_at"}),
	}).Create(cfg).Error
	if err != nil {
		return fmt.Errorf("gorm: upsert lobby config for guild %s: %w", cfg.GuildID, err)
	}
	return nil
}

// Delete 实现删除配置，并返回被删除的记录 (reset 时需要用它清理平台上的频道)
func (r *GormLobbyRepository) Delete(ctx context.Context, guildID string) (*domain.LobbyConfig, error) {
	var cfg domain.LobbyConfig
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("guild_id = ?", guildID).First(&cfg).Error; err != nil {
			return err
		}
		return tx.Where("guild_id = ?", guildID).Delete(&domain.LobbyConfig{}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrLobbyNotFound
		}
		return nil, fmt.Errorf("gorm: delete lobby config for guild %s: %w", guildID, err)
	}
	return &cfg, nil
}

// UpdateCategory 实现修改分类
func (r *GormLobbyRepository) UpdateCategory(ctx context.Context, guildID, categoryID string) error {
	var count int64
	db := r.db.WithContext(ctx)
	if err := db.Model(&domain.LobbyConfig{}).Where("guild_id = ?", guildID).Count(&count).Error; err != nil {
		return fmt.Errorf("gorm: count lobby config for guild %s: %w", guildID, err)
	}
	if count == 0 {
		return repository.ErrLobbyNotFound
	}
	err := db.Model(&domain.LobbyConfig{}).Where("guild_id = ?", guildID).Update("category_id", categoryID).Error
	if err != nil {
		return fmt.Errorf("gorm: update category for guild %s: %w", guildID, err)
	}
	return nil
}
