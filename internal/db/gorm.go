package db

import (
	"fmt"
	"log/slog"
	"time"

	"review-collab/internal/config"
	"review-collab/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm opens the snapshot database and migrates its schema
func NewGorm(cfg *config.Config, log *slog.Logger) (*GormDB, error) {
	dsn := cfg.DatabaseURL()

	level := logger.Warn
	if cfg.Env == config.EnvLocal {
		level = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.SessionSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(cfg.SnapshotWorkers + 2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	log.Info("database connected and migrated", slog.String("host", cfg.DBHost))

	return &GormDB{db}, nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
