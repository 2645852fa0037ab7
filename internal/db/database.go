package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"photoflow-go/config"
	"photoflow-go/internal/core/models"

	"github.com/glebarez/sqlite" // Pure Go SQLite Treiber
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open öffnet die SQLite-Datenbank, führt die Migrationen aus und liefert die
// Verbindung. Die Verbindung wird per Dependency-Injection weitergereicht; es
// gibt keine globale Instanz.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	// Sicherstellen, dass das Verzeichnis für die Datenbankdatei existiert
	if cfg.File != "" {
		dbDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Konfiguration des GORM-Loggers
	gormLogger := logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second * 2,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	log.Infof("Connecting to database: %s", cfg.File)
	conn, err := gorm.Open(sqlite.Open(cfg.File), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Verbindungs-Pool-Einstellungen
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Auto-Migrationen durchführen
	log.Info("Running database migrations...")
	if err := conn.AutoMigrate(
		&models.Job{},
		&models.ProcessedImage{},
		&models.ComposedSheet{},
	); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.Info("Database connection established successfully")
	return conn, nil
}
