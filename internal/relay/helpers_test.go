package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:relay_%s?mode=memory&cache=shared", name)), &gorm.Config{
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
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type sentMsg struct {
	ChannelID string
	Msg       platform.OutboundMessage
	ID        string
}

// fakeClient records sends and serves canned lookups.
type fakeClient struct {
	p domain.Platform

	mu       sync.Mutex
	n        int
	sent     []sentMsg
	fail     map[string]error // by channel id
	block    map[string]bool  // channels whose send waits for ctx
	users    map[string]platform.UserProfile
	channels map[string]string
	pubErr   error
	lookups  int
}

func newFakeClient(p domain.Platform) *fakeClient {
	return &fakeClient{
		p:        p,
		fail:     map[string]error{},
		block:    map[string]bool{},
		users:    map[string]platform.UserProfile{},
		channels: map[string]string{},
	}
}

func (c *fakeClient) SendMessage(ctx context.Context, channelID string, msg platform.OutboundMessage) (string, error) {
	c.mu.Lock()
	blocked := c.block[channelID]
	err := c.fail[channelID]
	c.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return "", domain.Downstream(c.p, "send", ctx.Err())
	}
	if err != nil {
		return "", domain.Downstream(c.p, "send", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	id := fmt.Sprintf("%s-out-%d", c.p, c.n)
	c.sent = append(c.sent, sentMsg{ChannelID: channelID, Msg: msg, ID: id})
	return id, nil
}

func (c *fakeClient) FetchChannels(context.Context, string) ([]platform.Channel, error) {
	return nil, nil
}

func (c *fakeClient) ResolveUserDisplayName(_ context.Context, id string) (*platform.UserProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	if p, ok := c.users[id]; ok {
		return &p, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
}

func (c *fakeClient) ChannelName(_ context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.channels[id]; ok {
		return n, nil
	}
	return "", domain.ErrNotFound
}

func (c *fakeClient) PublicFileURL(_ context.Context, att platform.Attachment) (string, error) {
	if c.pubErr != nil {
		return "", c.pubErr
	}
	return att.URL + "?public=1", nil
}

func (c *fakeClient) Sent() []sentMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.sent...)
}

type fakeAdapter struct {
	p      domain.Platform
	bot    string
	client *fakeClient
}

func (a *fakeAdapter) Platform() domain.Platform { return a.p }
func (a *fakeAdapter) BotUserID(*domain.Connection) string { return a.bot }
func (a *fakeAdapter) VerifyInbound(platform.RawInbound) error { return nil }
func (a *fakeAdapter) Client(*domain.Connection) (platform.Client, error) {
	if a.client == nil {
		return nil, errors.New("no client")
	}
	return a.client, nil
}

// bridge is a fully wired dispatcher over a real database.
type bridge struct {
	db      *gorm.DB
	ledger  *repo.Ledger
	d       *Dispatcher
	slack   *fakeClient
	discord *fakeClient
	slackC  *domain.Connection
	discC   *domain.Connection
}

const owner = "user-1"

func newBridge(t *testing.T) *bridge {
	t.Helper()
	db := newTestDB(t)
	ctx := context.Background()

	sc, err := repo.UpsertConnection(ctx, db, &domain.Connection{
		OwnerID: owner, Platform: domain.PlatformSlack, ExternalID: "T1", DisplayName: "Acme", AccessToken: "xoxb", BotUserID: "UBOT",
	})
	if err != nil {
		t.Fatal(err)
	}
	dc, err := repo.UpsertConnection(ctx, db, &domain.Connection{
		OwnerID: owner, Platform: domain.PlatformDiscord, ExternalID: "G1", DisplayName: "Acme Guild",
	})
	if err != nil {
		t.Fatal(err)
	}

	b := &bridge{
		db:      db,
		ledger:  repo.NewLedger(db, time.Minute),
		slack:   newFakeClient(domain.PlatformSlack),
		discord: newFakeClient(domain.PlatformDiscord),
		slackC:  sc,
		discC:   dc,
	}
	b.d = NewDispatcher(repo.Registry{DB: db}, b.ledger, Options{SendTimeout: 200 * time.Millisecond, MaxParallelSends: 4},
		&fakeAdapter{p: domain.PlatformSlack, bot: "UBOT", client: b.slack},
		&fakeAdapter{p: domain.PlatformDiscord, bot: "DBOT", client: b.discord},
	)
	return b
}

func (b *bridge) mapChannels(t *testing.T, slackCh, discordCh string) *domain.ChannelMapping {
	t.Helper()
	m, err := repo.CreateMapping(context.Background(), b.db, &domain.ChannelMapping{
		OwnerID:            owner,
		SourceConnectionID: b.slackC.ID, SourcePlatform: domain.PlatformSlack, SourceChannelID: slackCh,
		DestConnectionID: b.discC.ID, DestPlatform: domain.PlatformDiscord, DestChannelID: discordCh,
		Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	return m
}

func (b *bridge) ledgerRows(t *testing.T) []domain.LedgerEntry {
	t.Helper()
	var rows []domain.LedgerEntry
	if err := b.db.Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	return rows
}

func slackEvent(ts, channel, text string) platform.InboundEvent {
	return platform.InboundEvent{
		Platform:    domain.PlatformSlack,
		CommunityID: "T1",
		ChannelID:   channel,
		MessageID:   ts,
		AuthorID:    "U7",
		Text:        text,
	}
}

func discordEvent(id, channel, text string) platform.InboundEvent {
	return platform.InboundEvent{
		Platform:    domain.PlatformDiscord,
		CommunityID: "G1",
		ChannelID:   channel,
		MessageID:   id,
		AuthorID:    "42",
		AuthorName:  "Ally",
		Text:        text,
	}
}
