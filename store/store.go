package store

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sales-forecasting-platform/config"
)

// Store wraps the relational database used for sales records, forecasts,
// model metadata, inventory and alerts.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and runs migrations. A PostgreSQL
// DSN takes precedence; otherwise an embedded SQLite file is used, which keeps
// local development and tests dependency-free.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	if cfg.LogQueries {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var db *gorm.DB
	var err error
	if cfg.DSN != "" {
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	} else {
		db, err = gorm.Open(sqlite.Open(cfg.Path), gormCfg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "underlying db")
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	for _, table := range []any{
		&SalesRecord{},
		&Forecast{},
		&ModelMetadata{},
		&InventoryLevel{},
		&Alert{},
	} {
		if err := db.AutoMigrate(table); err != nil {
			return nil, errors.Wrap(err, "migrate")
		}
	}

	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway SQLite database. Used by tests. Each call
// gets its own database; the single connection keeps it alive.
func OpenInMemory() (*Store, error) {
	path := fmt.Sprintf("file:mem-%d?mode=memory&cache=shared", atomic.AddInt64(&memSeq, 1))
	return Open(config.DatabaseConfig{Path: path, MaxOpenConns: 1, MaxIdleConns: 1})
}

var memSeq int64

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "underlying db")
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "underlying db")
	}
	return sqlDB.Close()
}
