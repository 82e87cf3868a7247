package out

import (
	"context"
	"errors"

	"users_server/core/domain"
)

// Store-level outcomes. Adapters translate driver errors into these.
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrDuplicateID     = errors.New("profile id already exists")
	ErrDuplicateEmail  = errors.New("profile email already exists")
)

// ProfileRepository defines the outbound port for profile persistence.
// Every method is a single atomic store operation.
type ProfileRepository interface {
	// Insert stores a new profile and fills its timestamps.
	Insert(ctx context.Context, profile *domain.UserProfile) error

	// FindByID returns ErrProfileNotFound when the id is absent.
	FindByID(ctx context.Context, id string) (*domain.UserProfile, error)

	// FindAll returns every profile in store order.
	FindAll(ctx context.Context) ([]*domain.UserProfile, error)

	// UpdateEmail sets the email and returns the updated profile.
	UpdateEmail(ctx context.Context, id, email string) (*domain.UserProfile, error)

	// ApplyPatch sets the touched fields and returns the updated profile.
	ApplyPatch(ctx context.Context, id string, patch *domain.ProfilePatch) (*domain.UserProfile, error)

	// Delete removes the profile and returns its last state.
	Delete(ctx context.Context, id string) (*domain.UserProfile, error)
}
