package store

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
)

// Store is the record store holding the bronze, silver and gold tables.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (creating when needed) the sqlite database at path and migrates
// the three layer tables. A path starting with "file:" is passed through as a
// DSN, which is how tests open in-memory databases.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory %q: %w", dir, err)
			}
		}
	}

	gormLog := gormlogger.New(
		stdlog.New(io.Discard, "", stdlog.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:                 gormLog,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps shared
	// in-memory databases consistent across queries.
	sqlDB.SetMaxOpenConns(1)

	s, err := New(ctx, db, log)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("store opened")
	return s, nil
}

// New wraps an existing gorm handle and migrates the schema.
func New(ctx context.Context, db *gorm.DB, log zerolog.Logger) (*Store, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

// Migrate creates the layer tables when they do not exist.
func Migrate(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).AutoMigrate(
		&domain.BronzeTransaction{},
		&domain.SilverTransaction{},
		&domain.DailySummary{},
	)
	if err != nil {
		return fmt.Errorf("migrate store schema: %w", err)
	}
	return nil
}

// DB returns the underlying handle for use with the generic operations.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTx runs fn inside a single transaction. Any error or panic rolls the
// whole unit of work back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Stats returns the row count of every layer.
func (s *Store) Stats(ctx context.Context) (domain.LayerStats, error) {
	var stats domain.LayerStats
	var err error
	if stats.Bronze, err = s.Count(ctx, domain.BronzeTable); err != nil {
		return stats, err
	}
	if stats.Silver, err = s.Count(ctx, domain.SilverTable); err != nil {
		return stats, err
	}
	if stats.Gold, err = s.Count(ctx, domain.GoldTable); err != nil {
		return stats, err
	}
	return stats, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
