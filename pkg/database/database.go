package database

import (
	"github.com/0xb-s/fuzzer/config"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewDBConnection returns nil when DATABASE_URL is unset; crash rows are then not recorded
func NewDBConnection(appConfig *config.AppConfig, logger *zap.Logger) *gorm.DB {
	connectionString := appConfig.DatabaseURL
	if connectionString == "" {
		logger.Info("DATABASE_URL not set, crash database disabled")
		return nil
	}
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	if err := db.AutoMigrate(&Crash{}); err != nil {
		logger.Fatal("failed to migrate crash table", zap.Error(err))
	}
	logger.Debug("connected to database")
	return db
}
