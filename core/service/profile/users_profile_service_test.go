package profile

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"users_server/core/domain"
	"users_server/core/port/out"
	"users_server/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceID = "507f1f77bcf86cd799439011"
	bobID   = "507f191e810c19729de860ea"
	ghostID = "5f8d0d55b54764421b7156c9"
)

// memoryRepo is an in-memory ProfileRepository with the same atomic
// per-document semantics as the Mongo adapter.
type memoryRepo struct {
	mu       sync.Mutex
	profiles map[string]domain.UserProfile
	order    []string
	failWith error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{profiles: make(map[string]domain.UserProfile)}
}

func (r *memoryRepo) emailTaken(email, exceptID string) bool {
	for id, p := range r.profiles {
		if id != exceptID && p.Email == email {
			return true
		}
	}
	return false
}

func (r *memoryRepo) Insert(_ context.Context, p *domain.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	if _, ok := r.profiles[p.ID]; ok {
		return out.ErrDuplicateID
	}
	if r.emailTaken(p.Email, "") {
		return out.ErrDuplicateEmail
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.profiles[p.ID] = *p
	r.order = append(r.order, p.ID)
	return nil
}

func (r *memoryRepo) FindByID(_ context.Context, id string) (*domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	p, ok := r.profiles[id]
	if !ok {
		return nil, out.ErrProfileNotFound
	}
	return &p, nil
}

func (r *memoryRepo) FindAll(_ context.Context) ([]*domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	var all []*domain.UserProfile
	for _, id := range r.order {
		if p, ok := r.profiles[id]; ok {
			all = append(all, &p)
		}
	}
	return all, nil
}

func (r *memoryRepo) UpdateEmail(_ context.Context, id, email string) (*domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, out.ErrProfileNotFound
	}
	if r.emailTaken(email, id) {
		return nil, out.ErrDuplicateEmail
	}
	p.Email = email
	p.UpdatedAt = time.Now().UTC()
	r.profiles[id] = p
	return &p, nil
}

func (r *memoryRepo) ApplyPatch(_ context.Context, id string, patch *domain.ProfilePatch) (*domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, out.ErrProfileNotFound
	}
	patch.Apply(&p)
	p.UpdatedAt = time.Now().UTC()
	r.profiles[id] = p
	return &p, nil
}

func (r *memoryRepo) Delete(_ context.Context, id string) (*domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, out.ErrProfileNotFound
	}
	delete(r.profiles, id)
	return &p, nil
}

func strPtr(s string) *string { return &s }

func fullAddress() *domain.Address {
	return &domain.Address{Index: "120012", City: "Moscow", Street: "Pushkina 1", Apartment: "321"}
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())

	profile, err := svc.Create(ctx, aliceID, "alice@mail.com")
	require.NoError(t, err)

	assert.Equal(t, aliceID, profile.ID)
	assert.Equal(t, "alice@mail.com", profile.Email)
	assert.Nil(t, profile.FirstName)
	assert.Nil(t, profile.SecondName)
	assert.Nil(t, profile.Birthday)
	assert.Nil(t, profile.AvatarURL)
	assert.Nil(t, profile.Address)
	assert.False(t, profile.CreatedAt.IsZero())
}

func TestService_Create_LowercasesID(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())

	profile, err := svc.Create(ctx, strings.ToUpper(aliceID), "alice@mail.com")
	require.NoError(t, err)
	assert.Equal(t, aliceID, profile.ID)

	stored, err := svc.GetByID(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, stored.ID)

	_, err = svc.Create(ctx, aliceID, "other@mail.com")
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict))
}

func TestService_Create_Conflicts(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())
	_, err := svc.Create(ctx, aliceID, "alice@mail.com")
	require.NoError(t, err)

	tests := []struct {
		name       string
		id         string
		email      string
		wantReason string
	}{
		{"same id, same email", aliceID, "alice@mail.com", apperr.ReasonDuplicateID},
		{"same id, new email", aliceID, "other@mail.com", apperr.ReasonDuplicateID},
		{"new id, same email", bobID, "alice@mail.com", apperr.ReasonDuplicateEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.id, tt.email)
			require.Error(t, err)

			appErr := apperr.AsAppError(err)
			assert.Equal(t, apperr.CodeConflict, appErr.Code)
			assert.Equal(t, tt.wantReason, appErr.Details["reason"])
		})
	}
}

func TestService_Create_InvalidID(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(context.Background(), "not-an-id", "alice@mail.com")
	assert.True(t, apperr.HasCode(err, apperr.CodeValidationFailed))
}

func TestService_UpdateEmail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())

	_, err := svc.UpdateEmail(ctx, ghostID, "ghost@mail.com")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	_, err = svc.Create(ctx, aliceID, "alice@mail.com")
	require.NoError(t, err)
	before, err := svc.UpdateProfile(ctx, aliceID, &domain.ProfilePatch{
		FirstName: strPtr("Alice"),
		Address:   fullAddress(),
	})
	require.NoError(t, err)

	after, err := svc.UpdateEmail(ctx, aliceID, "new-alice@mail.com")
	require.NoError(t, err)

	assert.Equal(t, "new-alice@mail.com", after.Email)
	assert.Equal(t, before.FirstName, after.FirstName)
	assert.Equal(t, before.SecondName, after.SecondName)
	assert.Equal(t, before.Birthday, after.Birthday)
	assert.Equal(t, before.AvatarURL, after.AvatarURL)
	assert.Equal(t, before.Address, after.Address)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestService_UpdateEmail_Duplicate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())
	_, _ = svc.Create(ctx, aliceID, "alice@mail.com")
	_, _ = svc.Create(ctx, bobID, "bob@mail.com")

	_, err := svc.UpdateEmail(ctx, bobID, "alice@mail.com")
	appErr := apperr.AsAppError(err)
	assert.Equal(t, apperr.CodeConflict, appErr.Code)
	assert.Equal(t, apperr.ReasonDuplicateEmail, appErr.Details["reason"])
}

func TestService_UpdateProfile_Merge(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())
	_, err := svc.Create(ctx, aliceID, "alice@mail.com")
	require.NoError(t, err)

	_, err = svc.UpdateProfile(ctx, aliceID, &domain.ProfilePatch{SecondName: strPtr("Smith")})
	require.NoError(t, err)

	updated, err := svc.UpdateProfile(ctx, aliceID, &domain.ProfilePatch{FirstName: strPtr("Bob")})
	require.NoError(t, err)

	assert.Equal(t, "Bob", *updated.FirstName)
	assert.Equal(t, "Smith", *updated.SecondName)
	assert.Equal(t, "alice@mail.com", updated.Email)
}

func TestService_UpdateProfile_ReplacesAddress(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())
	_, _ = svc.Create(ctx, aliceID, "alice@mail.com")
	_, err := svc.UpdateProfile(ctx, aliceID, &domain.ProfilePatch{Address: fullAddress()})
	require.NoError(t, err)

	replacement := &domain.Address{Index: "190000", City: "Saint Petersburg", Street: "Nevsky 2", Apartment: "7"}
	updated, err := svc.UpdateProfile(ctx, aliceID, &domain.ProfilePatch{Address: replacement})
	require.NoError(t, err)
	assert.Equal(t, *replacement, *updated.Address)

	_, err = svc.UpdateProfile(ctx, aliceID, &domain.ProfilePatch{Address: &domain.Address{City: "Kazan"}})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidationFailed))
}

func TestService_UpdateProfile_EmptyPatch(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())

	_, err := svc.UpdateProfile(ctx, ghostID, &domain.ProfilePatch{})
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	_, _ = svc.Create(ctx, aliceID, "alice@mail.com")
	profile, err := svc.UpdateProfile(ctx, aliceID, nil)
	require.NoError(t, err)
	assert.Equal(t, aliceID, profile.ID)
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())

	_, err := svc.Delete(ctx, ghostID)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	_, _ = svc.Create(ctx, aliceID, "alice@mail.com")
	deleted, err := svc.Delete(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, "alice@mail.com", deleted.Email)

	_, err = svc.GetByID(ctx, aliceID)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}

func TestService_ListAll(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo())

	empty, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, _ = svc.Create(ctx, aliceID, "alice@mail.com")
	_, _ = svc.Create(ctx, bobID, "bob@mail.com")

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestService_StoreFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.failWith = errors.New("connection reset")
	svc := NewService(repo)

	_, err := svc.GetByID(context.Background(), aliceID)
	appErr := apperr.AsAppError(err)
	assert.Equal(t, apperr.CodeDatabaseError, appErr.Code)
	assert.ErrorContains(t, err, "connection reset")

	// Errors already in the taxonomy pass through untouched.
	repo.failWith = apperr.Unavailable("mongodb", nil)
	_, err = svc.ListAll(context.Background())
	assert.True(t, apperr.HasCode(err, apperr.CodeUnavailable))
}

func TestService_StoreTimeout(t *testing.T) {
	repo := newMemoryRepo()
	repo.failWith = context.DeadlineExceeded
	svc := NewService(repo)

	_, err := svc.GetByID(context.Background(), aliceID)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeTimeout))
	assert.Equal(t, http.StatusGatewayTimeout, apperr.GetHTTPStatus(err))
	assert.False(t, apperr.IsClientError(err))
}
