package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/repo"
)

// ----- Fake repo -----

// fakeRepo is an in-memory stand-in for both MappingRepo and ConnectionRepo.
type fakeRepo struct {
	conns    map[string]*domain.Connection
	mappings map[string]*domain.ChannelMapping

	createErr error
	pairErr   error
	listErr   error

	// captured args
	pageOffset, pageLimit int
	upserted              *domain.Connection
	created               *domain.ChannelMapping
}

func newFakeRepo(conns ...*domain.Connection) *fakeRepo {
	r := &fakeRepo{
		conns:    map[string]*domain.Connection{},
		mappings: map[string]*domain.ChannelMapping{},
	}
	for _, c := range conns {
		r.conns[c.ID] = c
	}
	return r
}

func (r *fakeRepo) GetConnection(_ context.Context, _ *gorm.DB, id, ownerID string) (*domain.Connection, error) {
	c, ok := r.conns[id]
	if !ok || c.OwnerID != ownerID {
		return nil, repo.ErrNotFound
	}
	return c, nil
}

func (r *fakeRepo) GetConnectionByExternal(_ context.Context, _ *gorm.DB, p domain.Platform, externalID string) (*domain.Connection, error) {
	for _, c := range r.conns {
		if c.Platform == p && c.ExternalID == externalID {
			return c, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *fakeRepo) UpsertConnection(_ context.Context, _ *gorm.DB, c *domain.Connection) (*domain.Connection, error) {
	r.upserted = c
	for _, existing := range r.conns {
		if existing.Platform == c.Platform && existing.ExternalID == c.ExternalID {
			existing.DisplayName, existing.AccessToken, existing.BotUserID = c.DisplayName, c.AccessToken, c.BotUserID
			return existing, nil
		}
	}
	if c.ID == "" {
		c.ID = "conn-" + c.ExternalID
	}
	r.conns[c.ID] = c
	return c, nil
}

func (r *fakeRepo) ListConnections(_ context.Context, _ *gorm.DB, ownerID string) ([]domain.Connection, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.Connection
	for _, c := range r.conns {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeRepo) DeleteConnection(_ context.Context, _ *gorm.DB, id, ownerID string) error {
	c, ok := r.conns[id]
	if !ok || c.OwnerID != ownerID {
		return repo.ErrNotFound
	}
	delete(r.conns, id)
	for mid, m := range r.mappings {
		if m.SourceConnectionID == id || m.DestConnectionID == id {
			delete(r.mappings, mid)
		}
	}
	return nil
}

func (r *fakeRepo) CreateMapping(_ context.Context, _ *gorm.DB, m *domain.ChannelMapping) (*domain.ChannelMapping, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	if m.ID == "" {
		m.ID = "map-" + m.SourceChannelID + "-" + m.DestChannelID
	}
	m.SetPair()
	r.created = m
	r.mappings[m.ID] = m
	return m, nil
}

func (r *fakeRepo) MappingPairExists(_ context.Context, _ *gorm.DB, a, b string) (bool, error) {
	if r.pairErr != nil {
		return false, r.pairErr
	}
	lo, hi := domain.SortedPair(a, b)
	for _, m := range r.mappings {
		if m.PairLow == lo && m.PairHigh == hi {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) GetMapping(_ context.Context, _ *gorm.DB, id, ownerID string) (*domain.ChannelMapping, error) {
	m, ok := r.mappings[id]
	if !ok || m.OwnerID != ownerID {
		return nil, repo.ErrNotFound
	}
	return m, nil
}

func (r *fakeRepo) SetMappingActive(_ context.Context, _ *gorm.DB, id, ownerID string, active bool) error {
	m, ok := r.mappings[id]
	if !ok || m.OwnerID != ownerID {
		return repo.ErrNotFound
	}
	m.Active = active
	return nil
}

func (r *fakeRepo) DeleteMapping(_ context.Context, _ *gorm.DB, id, ownerID string) error {
	m, ok := r.mappings[id]
	if !ok || m.OwnerID != ownerID {
		return repo.ErrNotFound
	}
	delete(r.mappings, id)
	return nil
}

func (r *fakeRepo) CountMappings(_ context.Context, _ *gorm.DB, ownerID string) (int64, error) {
	var n int64
	for _, m := range r.mappings {
		if m.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) ListMappingsPage(_ context.Context, _ *gorm.DB, ownerID string, offset, limit int) ([]domain.ChannelMapping, error) {
	r.pageOffset, r.pageLimit = offset, limit
	var out []domain.ChannelMapping
	for _, m := range r.mappings {
		if m.OwnerID == ownerID {
			out = append(out, *m)
		}
	}
	return out, nil
}

// ----- Fake platform -----

type fakeClient struct {
	names    map[string]string
	channels []platform.Channel
	err      error
}

func (c *fakeClient) SendMessage(context.Context, string, platform.OutboundMessage) (string, error) {
	return "", errors.New("not used")
}

func (c *fakeClient) FetchChannels(context.Context, string) ([]platform.Channel, error) {
	return c.channels, c.err
}

func (c *fakeClient) ResolveUserDisplayName(context.Context, string) (*platform.UserProfile, error) {
	return nil, domain.ErrNotFound
}

func (c *fakeClient) ChannelName(_ context.Context, id string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.names[id], nil
}

func (c *fakeClient) PublicFileURL(_ context.Context, att platform.Attachment) (string, error) {
	return att.URL, nil
}

type fakeAdapter struct {
	p      domain.Platform
	client *fakeClient
}

func (a *fakeAdapter) Platform() domain.Platform { return a.p }

func (a *fakeAdapter) BotUserID(*domain.Connection) string { return "" }

func (a *fakeAdapter) VerifyInbound(platform.RawInbound) error { return nil }

func (a *fakeAdapter) Client(*domain.Connection) (platform.Client, error) { return a.client, nil }
