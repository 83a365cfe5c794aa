// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and PostgreSQL, plus schema migrations.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/chat-bridge/internal/domain"
)

// Supported DB_DRIVER values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and tunes the database backend.
type Options struct {
	Driver  string // sqlite|postgres
	Path    string // SQLite file path
	DSN     string // PostgreSQL connection string
	Tracing bool   // attach the OpenTelemetry gorm plugin
	Silent  bool   // silence the gorm logger
}

// Open connects to the configured backend and applies pool settings.
func Open(opts Options) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(opts.Driver) {
	case "", DriverSQLite:
		db, err = OpenSQLite(opts.Path)
	case DriverPostgres:
		db, err = OpenPostgres(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if opts.Silent {
		db.Logger = logger.Default.LogMode(logger.Silent)
	}
	if opts.Tracing {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database. PRAGMAs travel in the DSN
// so every pooled connection gets them, foreign_keys included.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// OpenPostgres connects using a libpq-style or URL DSN.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: empty DATABASE_URL")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	pragmas := "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return path + "?" + pragmas
}

// AutoMigrate creates or updates the bridge schema. Mappings reference
// connections; the ledger references nothing.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Connection{},
		&domain.ChannelMapping{},
		&domain.LedgerEntry{},
	)
}
