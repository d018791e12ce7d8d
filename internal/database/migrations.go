package database

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"signage/internal/models"
)

// MigrationManager manages database migrations
type MigrationManager struct {
	db     *gorm.DB
	logger *zerolog.Logger
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *gorm.DB, logger *zerolog.Logger) *MigrationManager {
	return &MigrationManager{
		db:     db,
		logger: logger,
	}
}

// Migrate runs database migrations
func (m *MigrationManager) Migrate() error {
	if err := m.migrateTables(); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	if m.logger != nil {
		m.logger.Info().Msg("Database migrations completed successfully")
	}
	return nil
}

// migrateTables creates collaborator tables first, then the sync state tables that reference devices
func (m *MigrationManager) migrateTables() error {
	if err := m.db.AutoMigrate(
		&models.Device{},
		&models.Screen{},
		&models.Media{},
		&models.Playlist{},
		&models.PlaylistItem{},
		&models.Schedule{},
		&models.FlashSaleConfig{},
		&models.DeviceSyncState{},
		&models.DeviceSyncItem{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	return nil
}
