package db

import (
	"filecollect/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Alert{},
		&models.CollectionRequest{},
		&models.CollectionHistory{},
	)
}
