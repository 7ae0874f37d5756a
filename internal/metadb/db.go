package metadb

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps a *gorm.DB with the operations the maintenance loop and HTTP
// handlers need.
type DB struct {
	g *gorm.DB
}

// Open opens (creating if absent) the SQLite file at path, enables
// foreign keys, and migrates the schema.
//
// Grounded on mmdelhajj-ProRAD's database.Connect: same gorm.Config shape
// (silenced default logger, UTC NowFunc), same pool tuning calls, SQLite
// driver substituted for Postgres.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=1", path)
	g, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("metadb: opening %s: %w", path, err)
	}

	sqlDB, err := g.DB()
	if err != nil {
		return nil, fmt.Errorf("metadb: getting sql.DB: %w", err)
	}
	// SQLite only supports one writer at a time; a single connection
	// avoids SQLITE_BUSY under concurrent handlers.
	sqlDB.SetMaxOpenConns(1)

	if err := g.AutoMigrate(&Package{}, &Cache{}, &Download{}); err != nil {
		return nil, fmt.Errorf("metadb: migrating schema: %w", err)
	}

	return &DB{g: g}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	sqlDB, err := d.g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
