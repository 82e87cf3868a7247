package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestProfilePatch_Apply(t *testing.T) {
	profile := &UserProfile{
		ID:         "507f1f77bcf86cd799439011",
		Email:      "user@mail.com",
		SecondName: strPtr("Smith"),
		Address:    &Address{Index: "120012", City: "Moscow", Street: "Pushkina 1", Apartment: "321"},
	}

	patch := &ProfilePatch{
		FirstName: strPtr("Bob"),
		Address:   &Address{Index: "190000", City: "Saint Petersburg", Street: "Nevsky 2", Apartment: "7"},
	}
	patch.Apply(profile)

	assert.Equal(t, "Bob", *profile.FirstName)
	assert.Equal(t, "Smith", *profile.SecondName)
	assert.Nil(t, profile.Birthday)
	assert.Equal(t, Address{Index: "190000", City: "Saint Petersburg", Street: "Nevsky 2", Apartment: "7"}, *profile.Address)
	assert.Equal(t, "user@mail.com", profile.Email)

	// The stored address must not alias the patch.
	patch.Address.City = "Kazan"
	assert.Equal(t, "Saint Petersburg", profile.Address.City)
}

func TestProfilePatch_IsEmpty(t *testing.T) {
	var nilPatch *ProfilePatch
	assert.True(t, nilPatch.IsEmpty())
	assert.True(t, (&ProfilePatch{}).IsEmpty())
	assert.False(t, (&ProfilePatch{Birthday: strPtr("1990-01-01")}).IsEmpty())
}

func TestRoleSet_NoHierarchy(t *testing.T) {
	managers := NewRoleSet(RoleManager)
	assert.True(t, managers.Allows(RoleManager))
	assert.False(t, managers.Allows(RoleAdmin))
	assert.False(t, managers.Allows(RoleUser))

	staff := NewRoleSet(RoleAdmin, RoleManager)
	assert.True(t, staff.Allows(RoleAdmin))
	assert.False(t, staff.Allows(Role("Root")))
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleManager.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("admin").Valid())
	assert.False(t, Role("").Valid())
}
