package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
)

// DefaultSlowQueryThreshold defines the duration after which a query is considered slow.
const DefaultSlowQueryThreshold = time.Second

// createGormLogger routes GORM output through the datastore module logger.
func createGormLogger() *logger.GormLoggerAdapter {
	return logger.NewGormLoggerAdapter(GetLogger(), DefaultSlowQueryThreshold)
}

// performAutoMigration creates or updates the schema.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&TrackPoint{}, &CalibrationRecord{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Context("db_type", dbType).
			Build()
	}
	if debug {
		GetLogger().Debug("database migration complete",
			logger.String("db_type", dbType),
			logger.String("connection", connectionInfo))
	}
	return nil
}
