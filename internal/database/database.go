package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ecyb/daynight-tracking/internal/config"
	logging "github.com/ecyb/daynight-tracking/internal/logging"
	"github.com/ecyb/daynight-tracking/internal/models"
)

var DB *gorm.DB

// Init opens the configured database, migrates it and installs it as DB.
func Init(cfg config.DatabaseConfig, log *zap.Logger) {
	db, err := Open(cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection established successfully.", zap.String("driver", cfg.Driver))

	if err := Migrate(db, log); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}
	DB = db
}

// Open connects without migrating.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port)
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logging.NewGormZapLogger(log, logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	return db, nil
}

// Migrate creates the tables and the indexes AutoMigrate does not cover.
func Migrate(db *gorm.DB, log *zap.Logger) error {
	err := db.AutoMigrate(
		&models.BehaviorBatch{},
		&models.StoredEvent{},
		&models.StoredTransition{},
		&models.SessionSummary{},
		&models.Visitor{},
		&models.WidgetImpression{},
		&models.WidgetInteraction{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	log.Info("Database migrations completed successfully.")

	eventsIndex := `CREATE INDEX IF NOT EXISTS idx_events_timeline ON stored_events (session_id, occurred_at);`
	if err := db.Exec(eventsIndex).Error; err != nil {
		return fmt.Errorf("create events timeline index: %w", err)
	}
	log.Info("Custom indexes ensured successfully.")
	return nil
}
