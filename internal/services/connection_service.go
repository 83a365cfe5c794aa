// Package services – ConnectionService
//
// This file implements ConnectionService, which registers the bridge's
// installations in Slack workspaces and Discord guilds, lists and removes
// them, and lists the postable channels of a community through the
// platform adapter.
package services

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/repo"
)

// ConnectionRepo defines the repository contract required by ConnectionService.
type ConnectionRepo interface {
	// UpsertConnection inserts or refreshes a connection by (platform, external id).
	UpsertConnection(ctx context.Context, db *gorm.DB, c *domain.Connection) (*domain.Connection, error)

	// GetConnection fetches a connection by id ensuring it belongs to the owner.
	GetConnection(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Connection, error)

	// GetConnectionByExternal looks a connection up by community identity.
	GetConnectionByExternal(ctx context.Context, db *gorm.DB, p domain.Platform, externalID string) (*domain.Connection, error)

	// ListConnections returns every connection of the owner.
	ListConnections(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.Connection, error)

	// DeleteConnection removes a connection and its mappings.
	DeleteConnection(ctx context.Context, db *gorm.DB, id, ownerID string) error
}

// RegisterConnectionInput describes an installation to record.
type RegisterConnectionInput struct {
	Platform    string
	ExternalID  string
	DisplayName string
	AccessToken string
	BotUserID   string
}

// ConnectionService provides owner-scoped management of connections.
type ConnectionService struct {
	DB       *gorm.DB
	Repo     ConnectionRepo
	Adapters map[domain.Platform]platform.Adapter
}

// NewConnectionService constructs a ConnectionService.
func NewConnectionService(db *gorm.DB, r ConnectionRepo, adapters ...platform.Adapter) *ConnectionService {
	m := make(map[domain.Platform]platform.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &ConnectionService{DB: db, Repo: r, Adapters: m}
}

// Register records a connection for userID, or refreshes the credentials of
// one the user already owns. A community connected by someone else yields
// ErrConnectionOwned.
func (s *ConnectionService) Register(ctx context.Context, userID string, in RegisterConnectionInput) (*domain.Connection, error) {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "Register",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("connection.platform", in.Platform),
			attribute.String("connection.external_id", in.ExternalID),
		),
	)
	defer span.End()

	p, err := domain.ParsePlatform(in.Platform)
	if err != nil {
		return nil, ErrInvalidPlatform
	}
	ext := strings.TrimSpace(in.ExternalID)
	if ext == "" {
		return nil, ErrMissingExternalID
	}

	existing, err := s.Repo.GetConnectionByExternal(ctx, s.DB, p, ext)
	switch {
	case err == nil && existing.OwnerID != userID:
		return nil, ErrConnectionOwned
	case err != nil && !repo.IsNotFound(err):
		return nil, err
	}

	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		name = ext
	}
	return s.Repo.UpsertConnection(ctx, s.DB, &domain.Connection{
		OwnerID:     userID,
		Platform:    p,
		ExternalID:  ext,
		DisplayName: name,
		AccessToken: strings.TrimSpace(in.AccessToken),
		BotUserID:   strings.TrimSpace(in.BotUserID),
	})
}

// List returns the connections owned by userID.
func (s *ConnectionService) List(ctx context.Context, userID string) ([]domain.Connection, error) {
	out, err := s.Repo.ListConnections(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Connection{}
	}
	return out, nil
}

// Delete removes a connection owned by userID together with every mapping
// that references it.
func (s *ConnectionService) Delete(ctx context.Context, userID, id string) error {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("connection.id", id),
		),
	)
	defer span.End()

	if err := s.Repo.DeleteConnection(ctx, s.DB, id, userID); err != nil {
		if repo.IsNotFound(err) {
			return ErrConnectionNotFound
		}
		return err
	}
	return nil
}

// Channels lists the postable channels of a connection's community, sorted
// by name.
func (s *ConnectionService) Channels(ctx context.Context, userID, id string) ([]platform.Channel, error) {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "Channels",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("connection.id", id),
		),
	)
	defer span.End()

	conn, err := s.Repo.GetConnection(ctx, s.DB, id, userID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	a, ok := s.Adapters[conn.Platform]
	if !ok {
		return nil, ErrPlatformUnavailable
	}
	c, err := a.Client(conn)
	if err != nil {
		return nil, err
	}
	chs, err := c.FetchChannels(ctx, conn.ExternalID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if chs == nil {
		chs = []platform.Channel{}
	}
	return chs, nil
}
