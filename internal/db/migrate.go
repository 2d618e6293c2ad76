package db

import (
	"fmt"

	"github.com/parley-io/parley/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the GORM models this service owns and migrates. The
// upstream bargain_task table is deliberately absent: it belongs to the
// purchasing system and is only read here.
func AllModels() []interface{} {
	return []interface{}{
		&models.Account{},
		&models.Shop{},
		&models.Session{},
		&models.Message{},
		&models.SessionTransfer{},
		&models.SessionOperation{},
		&models.SessionTask{},
	}
}

// AutoMigrate creates or updates all owned tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
