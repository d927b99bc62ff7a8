package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	gormkv "movie-match/internal/infra/kv/gorm"
)

// MigrateDB 迁移 SQL 存储后端需要的表
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if err := db.AutoMigrate(gormkv.Models()...); err != nil {
		return fmt.Errorf("failed to auto-migrate key-value tables: %w", err)
	}
	logrus.Info("Database migrated")
	return nil
}
