package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/chat-bridge/internal/domain"
)

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	base := t.TempDir()
	bad := filepath.Join(base, "does-not-exist", "bridge.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}
	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "mysql"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestOpen_PostgresRequiresDSN(t *testing.T) {
	if _, err := Open(Options{Driver: DriverPostgres, DSN: "  "}); err == nil {
		t.Fatalf("expected error for empty postgres DSN")
	}
}

func TestSQLiteDSN_AppendsPragmas(t *testing.T) {
	if got := sqliteDSN("bridge.db"); !strings.HasPrefix(got, "bridge.db?_pragma=") {
		t.Fatalf("dsn without query: %q", got)
	}
	if got := sqliteDSN("file:x?mode=memory"); !strings.Contains(got, "mode=memory&_pragma=") {
		t.Fatalf("dsn with query: %q", got)
	}
}

func TestOpenSQLite_SetsPragmas_Pool_AndAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.db")

	db, err := Open(Options{Driver: DriverSQLite, Path: path, Silent: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var (
		journalMode string
		fkOn        int
		busyMS      int
	)
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	if err := db.Raw("PRAGMA foreign_keys;").Row().Scan(&fkOn); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fkOn != 1 {
		t.Fatalf("expected foreign_keys=1, got %d", fkOn)
	}
	if err := db.Raw("PRAGMA busy_timeout;").Row().Scan(&busyMS); err != nil {
		t.Fatalf("PRAGMA busy_timeout: %v", err)
	}
	if busyMS != 5000 {
		t.Fatalf("expected busy_timeout=5000, got %d", busyMS)
	}
	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{&domain.Connection{}, &domain.ChannelMapping{}, &domain.LedgerEntry{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	now := time.Now().UTC()
	conn := &domain.Connection{ID: "c1", OwnerID: "u1", Platform: domain.PlatformSlack, ExternalID: "T1", CreatedAt: now, UpdatedAt: now}
	if err := db.Create(conn).Error; err != nil {
		t.Fatalf("insert connection: %v", err)
	}
	var got domain.Connection
	if err := db.First(&got, "id = ?", "c1").Error; err != nil || got.ExternalID != "T1" {
		t.Fatalf("readback connection failed: err=%v got=%+v", err, got)
	}
}

// Compile-time guard to ensure signature stability.
var _ func(string) (*gorm.DB, error) = OpenSQLite
