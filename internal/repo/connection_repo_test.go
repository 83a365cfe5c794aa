package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/chat-bridge/internal/domain"
)

func TestUpsertConnection_InsertThenRefresh(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	first := seedConnection(t, db, "u1", domain.PlatformSlack, "T1")
	if first.ID == "" || first.AccessToken != "tok-T1" {
		t.Fatalf("unexpected first: %+v", first)
	}

	again, err := UpsertConnection(ctx, db, &domain.Connection{
		OwnerID: "u1", Platform: domain.PlatformSlack, ExternalID: "T1",
		DisplayName: "Renamed", AccessToken: "tok-new", BotUserID: "UBOT",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected same row id, got %s vs %s", again.ID, first.ID)
	}
	if again.DisplayName != "Renamed" || again.AccessToken != "tok-new" || again.BotUserID != "UBOT" {
		t.Fatalf("fields not refreshed: %+v", again)
	}

	var n int64
	db.Model(&domain.Connection{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 connection row, got %d", n)
	}
}

func TestGetConnection_OwnerScoped(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedConnection(t, db, "u1", domain.PlatformDiscord, "G1")

	if _, err := GetConnection(ctx, db, c.ID, "u2"); !IsNotFound(err) {
		t.Fatalf("expected not found for foreign owner, got %v", err)
	}
	got, err := GetConnection(ctx, db, c.ID, "u1")
	if err != nil || got.ExternalID != "G1" {
		t.Fatalf("GetConnection: %v %+v", err, got)
	}
	byExt, err := GetConnectionByExternal(ctx, db, domain.PlatformDiscord, "G1")
	if err != nil || byExt.ID != c.ID {
		t.Fatalf("GetConnectionByExternal: %v %+v", err, byExt)
	}
	if _, err := GetConnectionByExternal(ctx, db, domain.PlatformSlack, "G1"); !IsNotFound(err) {
		t.Fatalf("platform must be part of the lookup key, got %v", err)
	}
}

func TestListConnections_FiltersAndOrders(t *testing.T) {
	db := newRepoDB(t)
	seedConnection(t, db, "u1", domain.PlatformSlack, "T1")
	seedConnection(t, db, "u1", domain.PlatformDiscord, "G1")
	seedConnection(t, db, "u2", domain.PlatformSlack, "T2")

	got, err := ListConnections(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(got) != 2 || got[0].Platform != domain.PlatformDiscord || got[1].Platform != domain.PlatformSlack {
		t.Fatalf("unexpected list: %+v", got)
	}

	slacks, err := ListConnectionsByPlatform(context.Background(), db, domain.PlatformSlack)
	if err != nil || len(slacks) != 2 {
		t.Fatalf("ListConnectionsByPlatform: %v len=%d", err, len(slacks))
	}
}

func TestDeleteConnection_CascadesMappingsKeepsLedger(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	s := seedConnection(t, db, "u1", domain.PlatformSlack, "T1")
	d := seedConnection(t, db, "u1", domain.PlatformDiscord, "G1")
	m := seedMapping(t, db, "u1", s, d, "C1", "D1")

	l := NewLedger(db, 0)
	k := LedgerKey{SourcePlatform: domain.PlatformSlack, SourceMessageID: "1.1", MappingID: m.ID}
	if ok, err := l.Claim(ctx, k); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if err := l.Complete(ctx, k, "D1", "999"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := DeleteConnection(ctx, db, d.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign owner delete should be not found, got %v", err)
	}
	if err := DeleteConnection(ctx, db, d.ID, "u1"); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}

	var n int64
	db.Model(&domain.ChannelMapping{}).Count(&n)
	if n != 0 {
		t.Fatalf("expected mappings deleted, got %d", n)
	}
	db.Model(&domain.LedgerEntry{}).Count(&n)
	if n != 1 {
		t.Fatalf("ledger rows must survive the cascade, got %d", n)
	}
	// The relayed post is still recognized when it echoes back.
	if hit, err := l.IsRelayProduct(ctx, domain.PlatformDiscord, "D1", "999"); err != nil || !hit {
		t.Fatalf("relay product lost after delete: hit=%v err=%v", hit, err)
	}
	// The other connection is untouched.
	if _, err := GetConnection(ctx, db, s.ID, "u1"); err != nil {
		t.Fatalf("slack connection should survive: %v", err)
	}
	// Registry lookups now find nothing for the old channel.
	got, err := Registry{DB: db}.ActiveMappingsFor(ctx, domain.PlatformSlack, "C1")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty lookup after cascade, got %v %+v", err, got)
	}
}
