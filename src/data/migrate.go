package data

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate creates or updates every table the bot uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("data: migrate: %w", err)
	}
	return nil
}
