package in

import (
	"context"

	"users_server/core/domain"
)

// ProfileService defines the profile operations used by the bus and HTTP adapters.
type ProfileService interface {
	// === Identity lifecycle (bus) ===
	Create(ctx context.Context, id, email string) (*domain.UserProfile, error)
	UpdateEmail(ctx context.Context, id, email string) (*domain.UserProfile, error)
	Delete(ctx context.Context, id string) (*domain.UserProfile, error)

	// === Profile (HTTP) ===
	UpdateProfile(ctx context.Context, id string, patch *domain.ProfilePatch) (*domain.UserProfile, error)
	GetByID(ctx context.Context, id string) (*domain.UserProfile, error)
	ListAll(ctx context.Context) ([]*domain.UserProfile, error)
}
