// Package services defines the business logic for platform connections and
// channel mappings. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked
// by callers.
//
// Every value wraps one of the domain taxonomy sentinels, so handlers can
// classify with errors.Is(err, domain.ErrNotFound) and friends while tests
// can still match the precise cause.
package services

import (
	"fmt"

	"github.com/tbourn/chat-bridge/internal/domain"
)

// Connection-related errors.
var (
	// ErrConnectionNotFound indicates that the connection does not exist or
	// is not owned by the caller.
	ErrConnectionNotFound = fmt.Errorf("%w: connection", domain.ErrNotFound)

	// ErrConnectionOwned is returned when a community is already connected
	// by a different user.
	ErrConnectionOwned = fmt.Errorf("%w: community is connected by another user", domain.ErrConflict)

	// ErrInvalidPlatform is returned for an unknown platform name.
	ErrInvalidPlatform = fmt.Errorf("%w: unknown platform", domain.ErrValidation)

	// ErrMissingExternalID is returned when a connection has no community id.
	ErrMissingExternalID = fmt.Errorf("%w: external_id is required", domain.ErrValidation)

	// ErrPlatformUnavailable is returned when no adapter is configured for
	// the connection's platform.
	ErrPlatformUnavailable = fmt.Errorf("%w: platform not enabled", domain.ErrValidation)
)

// Mapping-related errors.
var (
	// ErrMappingNotFound indicates that the mapping does not exist or is not
	// owned by the caller.
	ErrMappingNotFound = fmt.Errorf("%w: mapping", domain.ErrNotFound)

	// ErrMappingExists is returned when the channel pair is already mapped,
	// in either orientation.
	ErrMappingExists = fmt.Errorf("%w: channel pair already mapped", domain.ErrConflict)

	// ErrSamePlatform is returned when both sides of a mapping are on the
	// same platform.
	ErrSamePlatform = fmt.Errorf("%w: a mapping must join two different platforms", domain.ErrValidation)

	// ErrMissingChannel is returned when a channel id is empty.
	ErrMissingChannel = fmt.Errorf("%w: both channel ids are required", domain.ErrValidation)
)
