package db

import (
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Marfusios/strike-lightning-bridge/logger"
)

func NewDB(uri string, logDBQueries bool) (*gorm.DB, error) {
	// sqlite needs a few pragmas to behave under concurrent
	// reconciler + listener access
	if !strings.Contains(uri, "_busy_timeout") {
		sep := "?"
		if strings.Contains(uri, "?") {
			sep = "&"
		}
		uri = uri + sep + "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}

	gormConfig := &gorm.Config{
		TranslateError: true,
	}
	if logDBQueries {
		gormConfig.Logger = gormlogger.New(&gormLogAdapter{}, gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      gormlogger.Info,
		})
	}

	gormDB, err := gorm.Open(sqlite.Open(uri), gormConfig)
	if err != nil {
		logger.Logger.Error().Err(err).Str("uri", uri).Msg("Failed to open database")
		return nil, err
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return gormDB, nil
}

func Stop(gormDB *gorm.DB) error {
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormLogAdapter struct{}

func (a *gormLogAdapter) Printf(format string, args ...interface{}) {
	logger.Logger.Debug().Msgf(format, args...)
}
