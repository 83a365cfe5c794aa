package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	sqlite "github.com/glebarez/sqlite"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/repo"
	"github.com/tbourn/chat-bridge/internal/services"
)

// ---------- test DB + repo shim ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testRepo implements services.MappingRepo and services.ConnectionRepo over
// the repo package (like router.go).
type testRepo struct{}

func (testRepo) GetConnection(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Connection, error) {
	return repo.GetConnection(ctx, db, id, ownerID)
}

func (testRepo) GetConnectionByExternal(ctx context.Context, db *gorm.DB, p domain.Platform, ext string) (*domain.Connection, error) {
	return repo.GetConnectionByExternal(ctx, db, p, ext)
}

func (testRepo) UpsertConnection(ctx context.Context, db *gorm.DB, c *domain.Connection) (*domain.Connection, error) {
	return repo.UpsertConnection(ctx, db, c)
}

func (testRepo) ListConnections(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.Connection, error) {
	return repo.ListConnections(ctx, db, ownerID)
}

func (testRepo) DeleteConnection(ctx context.Context, db *gorm.DB, id, ownerID string) error {
	return repo.DeleteConnection(ctx, db, id, ownerID)
}

func (testRepo) CreateMapping(ctx context.Context, db *gorm.DB, m *domain.ChannelMapping) (*domain.ChannelMapping, error) {
	return repo.CreateMapping(ctx, db, m)
}

func (testRepo) MappingPairExists(ctx context.Context, db *gorm.DB, a, b string) (bool, error) {
	return repo.MappingPairExists(ctx, db, a, b)
}

func (testRepo) GetMapping(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.ChannelMapping, error) {
	return repo.GetMapping(ctx, db, id, ownerID)
}

func (testRepo) SetMappingActive(ctx context.Context, db *gorm.DB, id, ownerID string, active bool) error {
	return repo.SetMappingActive(ctx, db, id, ownerID, active)
}

func (testRepo) DeleteMapping(ctx context.Context, db *gorm.DB, id, ownerID string) error {
	return repo.DeleteMapping(ctx, db, id, ownerID)
}

func (testRepo) CountMappings(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	return repo.CountMappings(ctx, db, ownerID)
}

func (testRepo) ListMappingsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.ChannelMapping, error) {
	return repo.ListMappingsPage(ctx, db, ownerID, offset, limit)
}

// ---------- fake platform ----------

type stubClient struct {
	channels []platform.Channel
	err      error
}

func (s stubClient) SendMessage(context.Context, string, platform.OutboundMessage) (string, error) {
	return "", nil
}

func (s stubClient) FetchChannels(context.Context, string) ([]platform.Channel, error) {
	return s.channels, s.err
}

func (s stubClient) ResolveUserDisplayName(context.Context, string) (*platform.UserProfile, error) {
	return nil, domain.ErrNotFound
}

func (s stubClient) ChannelName(_ context.Context, id string) (string, error) {
	return "name-" + id, nil
}

func (s stubClient) PublicFileURL(_ context.Context, att platform.Attachment) (string, error) {
	return att.URL, nil
}

type stubAdapter struct {
	p      domain.Platform
	client stubClient
}

func (a stubAdapter) Platform() domain.Platform { return a.p }

func (a stubAdapter) BotUserID(*domain.Connection) string { return "" }

func (a stubAdapter) VerifyInbound(platform.RawInbound) error { return nil }

func (a stubAdapter) Client(*domain.Connection) (platform.Client, error) { return a.client, nil }

// ---------- router ----------

type apiFixture struct {
	db     *gorm.DB
	router *gin.Engine
	slack  *stubAdapter
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	sa := &stubAdapter{p: domain.PlatformSlack, client: stubClient{channels: []platform.Channel{{ID: "C1", Name: "general"}}}}
	da := &stubAdapter{p: domain.PlatformDiscord}

	h := New(
		services.NewConnectionService(db, testRepo{}, sa, da),
		services.NewMappingService(db, testRepo{}, sa, da),
	)

	r := gin.New()
	// Stand-in for the auth middleware.
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			c.Set("userID", uid)
		}
		c.Next()
	})
	r.GET("/connections", h.ListConnections)
	r.POST("/connections", h.RegisterConnection)
	r.DELETE("/connections/:id", h.DeleteConnection)
	r.GET("/connections/:id/channels", h.ListChannels)
	r.GET("/mappings", h.ListMappings)
	r.POST("/mappings", h.CreateMapping)
	r.PATCH("/mappings/:id", h.UpdateMapping)
	r.DELETE("/mappings/:id", h.DeleteMapping)
	return &apiFixture{db: db, router: r, slack: sa}
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v (body=%s)", err, w.Body.String())
	}
	return v
}

// register creates a connection through the API and returns it.
func (f *apiFixture) register(t *testing.T, user, p, ext string) domain.Connection {
	t.Helper()
	w := f.do(t, http.MethodPost, "/connections", user, RegisterConnectionRequest{Platform: p, ExternalID: ext, AccessToken: "secret-token"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", w.Code, w.Body.String())
	}
	return decode[domain.Connection](t, w)
}
