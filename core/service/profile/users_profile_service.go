package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"users_server/core/domain"
	"users_server/core/port/in"
	"users_server/core/port/out"
	"users_server/pkg/apperr"
	"users_server/pkg/validate"
)

const resourceUser = "user"

// Service implements in.ProfileService
type Service struct {
	repo out.ProfileRepository
}

// NewService creates a new ProfileService
func NewService(repo out.ProfileRepository) in.ProfileService {
	return &Service{repo: repo}
}

// =============================================================================
// Identity lifecycle
// =============================================================================

// Create stores a profile with only id and email set.
func (s *Service) Create(ctx context.Context, id, email string) (*domain.UserProfile, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	// Stored ids read back as lowercase hex.
	profile := &domain.UserProfile{ID: strings.ToLower(id), Email: email}
	if err := s.repo.Insert(ctx, profile); err != nil {
		return nil, fmt.Errorf("create profile: %w", translate("insert", err))
	}
	return profile, nil
}

// UpdateEmail repoints the email only.
func (s *Service) UpdateEmail(ctx context.Context, id, email string) (*domain.UserProfile, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	profile, err := s.repo.UpdateEmail(ctx, id, email)
	if err != nil {
		return nil, fmt.Errorf("update email: %w", translate("update email", err))
	}
	return profile, nil
}

// Delete removes the profile and returns its last state.
func (s *Service) Delete(ctx context.Context, id string) (*domain.UserProfile, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	profile, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete profile: %w", translate("delete", err))
	}
	return profile, nil
}

// =============================================================================
// Profile
// =============================================================================

// UpdateProfile merges the patch. Absent fields are untouched; a present
// address replaces the stored one.
func (s *Service) UpdateProfile(ctx context.Context, id string, patch *domain.ProfilePatch) (*domain.UserProfile, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return s.GetByID(ctx, id)
	}
	if patch.Address != nil && !completeAddress(patch.Address) {
		return nil, apperr.ValidationFailed("address must carry index, city, street and apartment")
	}

	profile, err := s.repo.ApplyPatch(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", translate("update profile", err))
	}
	return profile, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	profile, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", translate("find", err))
	}
	return profile, nil
}

func (s *Service) ListAll(ctx context.Context) ([]*domain.UserProfile, error) {
	profiles, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", translate("find all", err))
	}
	if profiles == nil {
		profiles = []*domain.UserProfile{}
	}
	return profiles, nil
}

// translate maps store outcomes onto the application error taxonomy.
func translate(op string, err error) error {
	switch {
	case errors.Is(err, out.ErrProfileNotFound):
		return apperr.NotFound(resourceUser)
	case errors.Is(err, out.ErrDuplicateID):
		return apperr.Conflict("user with this id already exists").
			WithDetail("reason", apperr.ReasonDuplicateID)
	case errors.Is(err, out.ErrDuplicateEmail):
		return apperr.Conflict("user with this email already exists").
			WithDetail("reason", apperr.ReasonDuplicateEmail)
	case apperr.IsAppError(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Timeout(op).WithError(err)
	default:
		return apperr.DatabaseError(op, err)
	}
}

func checkID(id string) error {
	if !validate.ObjectID(id) {
		return apperr.ValidationFailed("id must be a mongodb id")
	}
	return nil
}

func completeAddress(a *domain.Address) bool {
	return a.Index != "" && a.City != "" && a.Street != "" && a.Apartment != ""
}
