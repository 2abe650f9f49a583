package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"voicemaster/internal/domain"
)

// MigrateDB 处理 VoiceMaster 的表迁移。
// 表不存在时用原生 SQL 创建 (明确主键和索引长度)，已存在时交给 AutoMigrate 补齐列和索引。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	if err := migrateTable(db, "voicemaster_configs", createConfigsTable, &domain.LobbyConfig{}); err != nil {
		return fmt.Errorf("failed to migrate voicemaster_configs table: %w", err)
	}
	if err := migrateTable(db, "voicemaster_channels", createChannelsTable, &domain.OwnedChannel{}); err != nil {
		return fmt.Errorf("failed to migrate voicemaster_channels table: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}

const createConfigsTable = `
CREATE TABLE voicemaster_configs (
	guild_id VARCHAR(32) NOT NULL PRIMARY KEY,
	lobby_channel_id VARCHAR(32) NOT NULL,
	category_id VARCHAR(32) NOT NULL DEFAULT '',
	panel_channel_id VARCHAR(32) NOT NULL DEFAULT '',
	created_at DATETIME(3),
	updated_at DATETIME(3)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci;
`

// channel_id 主键是并发创建时防止重复记录的最终保障
const createChannelsTable = `
CREATE TABLE voicemaster_channels (
	channel_id VARCHAR(32) NOT NULL PRIMARY KEY,
	guild_id VARCHAR(32) NOT NULL,
	owner_id VARCHAR(32) NOT NULL,
	created_at DATETIME(3),
	updated_at DATETIME(3),
	INDEX idx_voicemaster_channels_guild_id (guild_id),
	INDEX idx_voicemaster_channels_owner_id (owner_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci;
`

// migrateTable 表不存在则执行建表 SQL，否则 AutoMigrate 对应模型
func migrateTable(db *gorm.DB, table, createSQL string, model interface{}) error {
	if !db.Migrator().HasTable(table) {
		if err := db.Exec(createSQL).Error; err != nil {
			logrus.Errorf("Failed to create %s table: %v", table, err)
			return fmt.Errorf("failed to create %s table: %w", table, err)
		}
		logrus.Infof("%s table created successfully", table)
		return nil
	}
	if err := db.AutoMigrate(model); err != nil {
		logrus.Errorf("Failed to auto-migrate %s table: %v", table, err)
		return fmt.Errorf("failed to auto-migrate %s: %w", table, err)
	}
	logrus.Infof("%s table schema checked/updated successfully", table)
	return nil
}
