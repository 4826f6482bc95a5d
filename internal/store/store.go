// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/baun-edu/baun-server/internal/domain"
)

// ErrStorageUnavailable indicates the local store could not be opened or
// written. Callers treat this as soft: in-memory state stays authoritative for
// the session and persistence remains best-effort.
var ErrStorageUnavailable = errors.New("local storage unavailable")

// Repository defines the interface for persisting conversations, small scalar
// preferences, and learner profiles.
type Repository interface {
	// PutConversation upserts a conversation by id, overwriting any existing
	// record entirely.
	PutConversation(ctx context.Context, conv *domain.Conversation) error

	// GetAllConversations returns every stored conversation, unfiltered and
	// unordered with respect to role. A store that has never been written
	// yields an empty slice, not an error.
	GetAllConversations(ctx context.Context) ([]*domain.Conversation, error)

	// DeleteConversation removes one record. Absent ids are a no-op.
	DeleteConversation(ctx context.Context, id string) error

	// DeleteConversationsMissingRole purges records lacking a valid user role.
	// Such records are corrupt: no safe default role can be inferred.
	DeleteConversationsMissingRole(ctx context.Context) (int64, error)

	// GetPreference returns the scalar stored under key, or "" when absent.
	GetPreference(ctx context.Context, key string) (string, error)

	// SetPreference upserts a scalar preference.
	SetPreference(ctx context.Context, key, value string) error

	// DeletePreference removes a preference. Absent keys are a no-op.
	DeletePreference(ctx context.Context, key string) error

	// GetLearnerProfile retrieves the profile for an identity, or nil when none
	// has been recorded.
	GetLearnerProfile(ctx context.Context, userID string) (*domain.LearnerProfile, error)

	// SaveLearnerProfile upserts a learner profile.
	SaveLearnerProfile(ctx context.Context, profile *domain.LearnerProfile) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close closes the underlying database.
	Close() error
}
