package in

import (
	"time"

	"users_server/core/domain"
)

// ProfileResponse is the JSON shape of a profile on HTTP and in bus replies.
type ProfileResponse struct {
	ID         string           `json:"_id"`
	Email      string           `json:"email"`
	FirstName  *string          `json:"first_name,omitempty"`
	SecondName *string          `json:"second_name,omitempty"`
	Birthday   *string          `json:"birthday,omitempty"`
	AvatarURL  *string          `json:"avatar_url,omitempty"`
	Address    *AddressResponse `json:"address,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

type AddressResponse struct {
	Index     string `json:"index"`
	City      string `json:"city"`
	Street    string `json:"street"`
	Apartment string `json:"apartment"`
}

// NewProfileResponse converts a domain profile.
func NewProfileResponse(p *domain.UserProfile) *ProfileResponse {
	if p == nil {
		return nil
	}
	resp := &ProfileResponse{
		ID:         p.ID,
		Email:      p.Email,
		FirstName:  p.FirstName,
		SecondName: p.SecondName,
		Birthday:   p.Birthday,
		AvatarURL:  p.AvatarURL,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	if p.Address != nil {
		resp.Address = &AddressResponse{
			Index:     p.Address.Index,
			City:      p.Address.City,
			Street:    p.Address.Street,
			Apartment: p.Address.Apartment,
		}
	}
	return resp
}

// NewProfileListResponse converts a slice, never returning nil.
func NewProfileListResponse(profiles []*domain.UserProfile) []*ProfileResponse {
	out := make([]*ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, NewProfileResponse(p))
	}
	return out
}
