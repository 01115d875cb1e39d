package migrations

import (
	"github.com/Marfusios/strike-lightning-bridge/db"
	"gorm.io/gorm"
)

func Migrate(gormDB *gorm.DB) error {
	return gormDB.AutoMigrate(
		&db.ReceiveRequest{},
		&db.StrikePayment{},
	)
}
