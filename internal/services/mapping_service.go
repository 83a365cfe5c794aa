// Package services – MappingService
//
// This file implements MappingService, which manages channel mappings on
// behalf of their owner. It validates both sides of a mapping, enforces
// ownership of the referenced connections, rejects same-platform pairs and
// duplicate unordered channel pairs, and fills in channel display names from
// the platform when the caller leaves them empty.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the owner and mapping identifiers.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/chat-bridge/internal/domain"
	"github.com/tbourn/chat-bridge/internal/platform"
	"github.com/tbourn/chat-bridge/internal/repo"
	"github.com/tbourn/chat-bridge/internal/utils"
)

// MappingRepo defines the repository contract required by MappingService.
type MappingRepo interface {
	// GetConnection fetches a connection by id ensuring it belongs to the owner.
	GetConnection(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Connection, error)

	// CreateMapping inserts a mapping; unique pair violations return repo.ErrDuplicate.
	CreateMapping(ctx context.Context, db *gorm.DB, m *domain.ChannelMapping) (*domain.ChannelMapping, error)

	// MappingPairExists reports whether the unordered channel pair is mapped.
	MappingPairExists(ctx context.Context, db *gorm.DB, a, b string) (bool, error)

	// GetMapping fetches a mapping by id ensuring it belongs to the owner.
	GetMapping(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.ChannelMapping, error)

	// SetMappingActive toggles the active flag.
	SetMappingActive(ctx context.Context, db *gorm.DB, id, ownerID string, active bool) error

	// DeleteMapping removes a mapping. Its ledger rows stay until the retention purge.
	DeleteMapping(ctx context.Context, db *gorm.DB, id, ownerID string) error

	// CountMappings returns the total number of mappings for pagination.
	CountMappings(ctx context.Context, db *gorm.DB, ownerID string) (int64, error)

	// ListMappingsPage returns a page of mappings, newest first.
	ListMappingsPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.ChannelMapping, error)
}

// CreateMappingInput is the caller-supplied description of a new mapping.
// Names are optional and resolved from the platform when empty.
type CreateMappingInput struct {
	SourceConnectionID string
	SourceChannelID    string
	SourceChannelName  string
	DestConnectionID   string
	DestChannelID      string
	DestChannelName    string
	// Active defaults to true when nil.
	Active *bool
}

// MappingService provides owner-scoped CRUD over channel mappings.
type MappingService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the mapping repository used by this service.
	Repo MappingRepo
	// Adapters resolve channel names; platforms without an adapter keep the
	// caller-supplied names.
	Adapters map[domain.Platform]platform.Adapter
}

// NewMappingService constructs a MappingService.
func NewMappingService(db *gorm.DB, r MappingRepo, adapters ...platform.Adapter) *MappingService {
	m := make(map[domain.Platform]platform.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &MappingService{DB: db, Repo: r, Adapters: m}
}

// Create validates in and persists a new mapping owned by userID.
func (s *MappingService) Create(ctx context.Context, userID string, in CreateMappingInput) (*domain.ChannelMapping, error) {
	tr := otel.Tracer("services/MappingService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("mapping.source_connection", in.SourceConnectionID),
			attribute.String("mapping.dest_connection", in.DestConnectionID),
		),
	)
	defer span.End()

	in.SourceChannelID = strings.TrimSpace(in.SourceChannelID)
	in.DestChannelID = strings.TrimSpace(in.DestChannelID)
	if in.SourceChannelID == "" || in.DestChannelID == "" {
		return nil, ErrMissingChannel
	}

	src, err := s.ownedConnection(ctx, strings.TrimSpace(in.SourceConnectionID), userID)
	if err != nil {
		return nil, err
	}
	dst, err := s.ownedConnection(ctx, strings.TrimSpace(in.DestConnectionID), userID)
	if err != nil {
		return nil, err
	}
	if src.Platform == dst.Platform {
		return nil, ErrSamePlatform
	}

	exists, err := s.Repo.MappingPairExists(ctx, s.DB, in.SourceChannelID, in.DestChannelID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrMappingExists
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}
	m := &domain.ChannelMapping{
		OwnerID:            userID,
		SourceConnectionID: src.ID,
		SourcePlatform:     src.Platform,
		SourceChannelID:    in.SourceChannelID,
		SourceChannelName:  s.channelName(ctx, src, in.SourceChannelID, in.SourceChannelName),
		DestConnectionID:   dst.ID,
		DestPlatform:       dst.Platform,
		DestChannelID:      in.DestChannelID,
		DestChannelName:    s.channelName(ctx, dst, in.DestChannelID, in.DestChannelName),
		Active:             active,
	}
	out, err := s.Repo.CreateMapping(ctx, s.DB, m)
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost a race with a concurrent create of the same pair.
		return nil, ErrMappingExists
	}
	return out, err
}

// Get returns a mapping owned by userID.
func (s *MappingService) Get(ctx context.Context, userID, id string) (*domain.ChannelMapping, error) {
	m, err := s.Repo.GetMapping(ctx, s.DB, id, userID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrMappingNotFound
		}
		return nil, err
	}
	return m, nil
}

// SetActive enables or disables relay through a mapping and returns the
// updated row. Ledger history is kept.
func (s *MappingService) SetActive(ctx context.Context, userID, id string, active bool) (*domain.ChannelMapping, error) {
	tr := otel.Tracer("services/MappingService")
	ctx, span := tr.Start(ctx, "SetActive",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("mapping.id", id),
			attribute.Bool("mapping.active", active),
		),
	)
	defer span.End()

	if err := s.Repo.SetMappingActive(ctx, s.DB, id, userID, active); err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrMappingNotFound
		}
		return nil, err
	}
	return s.Get(ctx, userID, id)
}

// Delete removes a mapping owned by userID.
func (s *MappingService) Delete(ctx context.Context, userID, id string) error {
	tr := otel.Tracer("services/MappingService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("mapping.id", id),
		),
	)
	defer span.End()

	if err := s.Repo.DeleteMapping(ctx, s.DB, id, userID); err != nil {
		if repo.IsNotFound(err) {
			return ErrMappingNotFound
		}
		return err
	}
	return nil
}

// ListPage returns a page of mappings for userID and the total count.
// Invalid page values are clamped by utils.ClampPage.
func (s *MappingService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ChannelMapping, int64, error) {
	tr := otel.Tracer("services/MappingService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	_, size, offset := utils.ClampPage(page, pageSize)
	total, err := s.Repo.CountMappings(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ChannelMapping{}, 0, nil
	}
	items, err := s.Repo.ListMappingsPage(ctx, s.DB, userID, offset, size)
	return items, total, err
}

func (s *MappingService) ownedConnection(ctx context.Context, id, userID string) (*domain.Connection, error) {
	if id == "" {
		return nil, ErrConnectionNotFound
	}
	c, err := s.Repo.GetConnection(ctx, s.DB, id, userID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return c, nil
}

// channelName returns name when set, otherwise asks the platform. Lookup
// failures leave the name empty.
func (s *MappingService) channelName(ctx context.Context, conn *domain.Connection, channelID, name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	a, ok := s.Adapters[conn.Platform]
	if !ok {
		return ""
	}
	c, err := a.Client(conn)
	if err != nil {
		return ""
	}
	resolved, err := c.ChannelName(ctx, channelID)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).
			Str("platform", string(conn.Platform)).
			Str("channel", channelID).
			Msg("channel name lookup failed")
		return ""
	}
	return resolved
}
