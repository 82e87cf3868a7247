package http

import (
	"bytes"

	"users_server/core/domain"
	"users_server/pkg/apperr"
	"users_server/pkg/validate"

	"github.com/goccy/go-json"
)

const addressNotObject = "nested property address must be object with fields: {index, city, street, apartment}"

// patchSchema checks a sparse profile update. Absent and null fields are
// skipped; unknown fields (email, _id) are ignored.
var patchSchema = validate.Schema{
	{Name: domain.FieldFirstName, Optional: true, Rules: []validate.Rule{validate.IsString()}},
	{Name: domain.FieldSecondName, Optional: true, Rules: []validate.Rule{validate.IsString()}},
	{Name: domain.FieldBirthday, Optional: true, Rules: []validate.Rule{
		validate.IsString(),
		validate.IsDate("must be a valid YYYY-MM-DD date string"),
	}},
	{Name: domain.FieldAvatarURL, Optional: true, Rules: []validate.Rule{
		validate.IsString(),
		validate.IsURL(),
	}},
	{
		Name:      domain.FieldAddress,
		Optional:  true,
		NotObject: addressNotObject,
		Nested:    addressSchema(),
	},
}

func addressSchema() validate.Schema {
	schema := make(validate.Schema, 0, len(domain.AddressFields))
	for _, name := range domain.AddressFields {
		schema = append(schema, validate.Field{
			Name:  name,
			Rules: []validate.Rule{validate.IsString(), validate.NotEmpty()},
		})
	}
	return schema
}

// parsePatch decodes and validates a PATCH body. An empty body is an
// empty patch.
func parsePatch(body []byte) (*domain.ProfilePatch, error) {
	payload := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
			return nil, apperr.BadRequest("request body must be a JSON object")
		}
	}

	if violations := patchSchema.Validate(payload); len(violations) > 0 {
		return nil, apperr.Violations(violations)
	}

	return toPatch(payload), nil
}

// toPatch assumes payload passed patchSchema.
func toPatch(payload map[string]any) *domain.ProfilePatch {
	patch := &domain.ProfilePatch{
		FirstName:  stringField(payload, domain.FieldFirstName),
		SecondName: stringField(payload, domain.FieldSecondName),
		Birthday:   stringField(payload, domain.FieldBirthday),
		AvatarURL:  stringField(payload, domain.FieldAvatarURL),
	}
	if addr, ok := payload[domain.FieldAddress].(map[string]any); ok {
		patch.Address = &domain.Address{
			Index:     addr[domain.FieldAddressIndex].(string),
			City:      addr[domain.FieldAddressCity].(string),
			Street:    addr[domain.FieldAddressStreet].(string),
			Apartment: addr[domain.FieldAddressApartment].(string),
		}
	}
	return patch
}

func stringField(payload map[string]any, name string) *string {
	s, ok := payload[name].(string)
	if !ok {
		return nil
	}
	return &s
}
