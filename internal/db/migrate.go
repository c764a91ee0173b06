package db

import (
	"optionguard/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.OptionConfig{},
		&models.StopLossConfig{},
		&models.ProtectedOption{},
		&models.EscrowEntry{},
		&models.PositionEvent{},
		&models.OraclePrice{},
	)
}
