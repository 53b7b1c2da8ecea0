package stream

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hbomb79/Cadence/internal/catalog"
	"github.com/hbomb79/Cadence/internal/identity"
)

type (
	// Entitlement decides whether a principal may stream a track. Implementations
	// must be fast and free of side effects, as they are consulted on every
	// streaming request.
	Entitlement interface {
		IsEntitled(ctx context.Context, principal *identity.Principal, trackID uuid.UUID) (bool, error)
	}

	accessStore interface {
		GetTrackAccess(ctx context.Context, trackID uuid.UUID) (*catalog.TrackAccess, error)
	}

	// DefaultPolicy entitles every authenticated principal to every track which is not
	// private. Private tracks are only entitled to their owner, and to administrators.
	DefaultPolicy struct {
		store accessStore
	}
)

func NewDefaultPolicy(store accessStore) *DefaultPolicy {
	return &DefaultPolicy{store: store}
}

func (policy *DefaultPolicy) IsEntitled(ctx context.Context, principal *identity.Principal, trackID uuid.UUID) (bool, error) {
	if principal == nil || principal.UserID == uuid.Nil {
		return false, nil
	}

	access, err := policy.store.GetTrackAccess(ctx, trackID)
	if errors.Is(err, catalog.ErrTrackNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	if !access.Private {
		return true, nil
	}

	return access.OwnerID == principal.UserID || principal.IsAdmin(), nil
}
