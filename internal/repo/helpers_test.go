package repo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/chat-bridge/internal/domain"
)

// newRepoDB opens a per-test in-memory database with the bridge schema.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedConnection(t *testing.T, db *gorm.DB, owner string, p domain.Platform, external string) *domain.Connection {
	t.Helper()
	c, err := UpsertConnection(context.Background(), db, &domain.Connection{
		OwnerID: owner, Platform: p, ExternalID: external, DisplayName: external, AccessToken: "tok-" + external,
	})
	if err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	return c
}

func seedMapping(t *testing.T, db *gorm.DB, owner string, src, dst *domain.Connection, srcCh, dstCh string) *domain.ChannelMapping {
	t.Helper()
	m, err := CreateMapping(context.Background(), db, &domain.ChannelMapping{
		OwnerID:            owner,
		SourceConnectionID: src.ID, SourcePlatform: src.Platform, SourceChannelID: srcCh,
		DestConnectionID: dst.ID, DestPlatform: dst.Platform, DestChannelID: dstCh,
		Active: true,
	})
	if err != nil {
		t.Fatalf("seed mapping: %v", err)
	}
	// Distinct created_at so ordering assertions are deterministic.
	time.Sleep(2 * time.Millisecond)
	return m
}
