package domain

import (
	"time"
)

// Field names shared by the storage, input and output schemas.
const (
	FieldID         = "_id"
	FieldEmail      = "email"
	FieldFirstName  = "first_name"
	FieldSecondName = "second_name"
	FieldBirthday   = "birthday"
	FieldAvatarURL  = "avatar_url"
	FieldAddress    = "address"
	FieldCreatedAt  = "createdAt"
	FieldUpdatedAt  = "updatedAt"

	FieldAddressIndex     = "index"
	FieldAddressCity      = "city"
	FieldAddressStreet    = "street"
	FieldAddressApartment = "apartment"
)

// AddressFields lists the address sub-fields in declaration order.
var AddressFields = []string{
	FieldAddressIndex,
	FieldAddressCity,
	FieldAddressStreet,
	FieldAddressApartment,
}

// PatchableFields lists the profile fields a self-service patch may set.
// Email and id are owned by the identity system and never appear here.
var PatchableFields = []string{
	FieldFirstName,
	FieldSecondName,
	FieldBirthday,
	FieldAvatarURL,
	FieldAddress,
}

// UserProfile is the user record owned by this service. ID is the
// upstream identity id (24 hex characters).
type UserProfile struct {
	ID    string
	Email string

	FirstName  *string
	SecondName *string
	Birthday   *string // YYYY-MM-DD
	AvatarURL  *string
	Address    *Address

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address is always stored complete; it is replaced, never merged.
type Address struct {
	Index     string
	City      string
	Street    string
	Apartment string
}

// ProfilePatch is a sparse update. Nil fields are left untouched.
type ProfilePatch struct {
	FirstName  *string
	SecondName *string
	Birthday   *string
	AvatarURL  *string
	Address    *Address
}

// IsEmpty reports whether the patch changes nothing.
func (p *ProfilePatch) IsEmpty() bool {
	return p == nil ||
		(p.FirstName == nil && p.SecondName == nil && p.Birthday == nil &&
			p.AvatarURL == nil && p.Address == nil)
}

// Apply merges the patch into the profile in place.
func (p *ProfilePatch) Apply(profile *UserProfile) {
	if p == nil || profile == nil {
		return
	}
	if p.FirstName != nil {
		profile.FirstName = p.FirstName
	}
	if p.SecondName != nil {
		profile.SecondName = p.SecondName
	}
	if p.Birthday != nil {
		profile.Birthday = p.Birthday
	}
	if p.AvatarURL != nil {
		profile.AvatarURL = p.AvatarURL
	}
	if p.Address != nil {
		addr := *p.Address
		profile.Address = &addr
	}
}
