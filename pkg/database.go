package pkg

import (
	"fmt"
	"time"

	"github.com/SAP-F-2025/exam-engine/internal/config"
	"github.com/SAP-F-2025/exam-engine/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDatabase opens the postgres connection and migrates the schema.
func InitDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormLogLevel := logger.Warn
	if !cfg.IsProduction() {
		gormLogLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Question{},
		&models.ExamTemplate{},
		&models.ContentSelection{},
		&models.ExamSettings{},
		&models.ExamEnrollment{},
		&models.AttemptSession{},
		&models.SessionAnswer{},
	)
}
