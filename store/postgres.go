package store

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// NewPostgresStore opens the primary pricing store over Postgres and runs
// migrations.
func NewPostgresStore(dsn string, logger zerolog.Logger) (*RDBStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pricing store DSN is required")
	}
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pricing store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)

	if err := migrate(db); err != nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("failed to close pricing store after migration error")
		}
		return nil, fmt.Errorf("failed to migrate pricing store: %w", err)
	}
	return &RDBStore{db: db, logger: logger}, nil
}
