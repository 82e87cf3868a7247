// Package event handles identity lifecycle events from the message bus.
package event

import (
	"context"
	"fmt"

	"users_server/core/domain"
	"users_server/core/port/in"
	"users_server/pkg/apperr"
	"users_server/pkg/validate"

	"github.com/goccy/go-json"
)

// Routing keys
const (
	RoutingKeyCreated = "user.created"
	RoutingKeyUpdated = "user.updated"
	RoutingKeyDeleted = "user.deleted"
)

// RoutingKeys lists every key the handler accepts.
var RoutingKeys = []string{RoutingKeyCreated, RoutingKeyUpdated, RoutingKeyDeleted}

// Payload fields
const (
	fieldUserID = "userId"
	fieldEmail  = "email"
)

var (
	userIDField = validate.Field{
		Name:  fieldUserID,
		Rules: []validate.Rule{validate.IsMongoID(), validate.IsString(), validate.NotEmpty()},
	}
	emailField = validate.Field{
		Name:  fieldEmail,
		Rules: []validate.Rule{validate.IsString(), validate.IsEmail(), validate.NotEmpty()},
	}

	identitySchema = validate.Schema{userIDField, emailField}
	deletedSchema  = validate.Schema{userIDField}
)

// Handler validates event payloads and applies them to the profile service.
type Handler struct {
	service in.ProfileService
}

func NewHandler(service in.ProfileService) *Handler {
	return &Handler{service: service}
}

// Dispatch handles one event. Validation failures never reach the service.
func (h *Handler) Dispatch(ctx context.Context, routingKey string, body []byte) (*domain.UserProfile, error) {
	switch routingKey {
	case RoutingKeyCreated:
		payload, err := decode(body, identitySchema)
		if err != nil {
			return nil, err
		}
		return h.service.Create(ctx, payload[fieldUserID].(string), payload[fieldEmail].(string))

	case RoutingKeyUpdated:
		payload, err := decode(body, identitySchema)
		if err != nil {
			return nil, err
		}
		return h.service.UpdateEmail(ctx, payload[fieldUserID].(string), payload[fieldEmail].(string))

	case RoutingKeyDeleted:
		payload, err := decode(body, deletedSchema)
		if err != nil {
			return nil, err
		}
		return h.service.Delete(ctx, payload[fieldUserID].(string))

	default:
		return nil, apperr.BadRequest(fmt.Sprintf("unknown routing key: %s", routingKey))
	}
}

func decode(body []byte, schema validate.Schema) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return nil, apperr.Violations([]string{"payload must be a JSON object"})
	}
	if violations := schema.Validate(payload); len(violations) > 0 {
		return nil, apperr.Violations(violations)
	}
	return payload, nil
}
