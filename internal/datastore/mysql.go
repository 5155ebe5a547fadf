package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/logger"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.DatastoreSettings
	Debug    bool
}

func (store *MySQLStore) dsn() string {
	m := store.Settings.MySQL
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		m.Username, m.Password, m.Host, m.Port, m.Database)
}

// Open connects and migrates the schema.
func (store *MySQLStore) Open() error {
	m := store.Settings.MySQL
	db, err := gorm.Open(mysql.Open(store.dsn()), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		GetLogger().Error("failed to open MySQL database",
			logger.String("host", m.Host),
			logger.Int("port", m.Port),
			logger.String("database", m.Database),
			logger.Error(err))
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("db_type", "mysql").
			Build()
	}

	store.DB = db
	return performAutoMigration(db, store.Debug, "MySQL", fmt.Sprintf("%s:%d/%s", m.Host, m.Port, m.Database))
}

// Close closes the database connection.
func (store *MySQLStore) Close() error {
	if err := store.closeDB(); err != nil {
		return err
	}
	if store.Debug {
		GetLogger().Debug("MySQL database connection closed successfully")
	}
	return nil
}
