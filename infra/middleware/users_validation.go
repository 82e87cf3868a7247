package middleware

import (
	"users_server/pkg/apperr"
	"users_server/pkg/validate"

	"github.com/gofiber/fiber/v2"
)

// ValidateObjectID validates that a parameter is a 24 hex character id
func ValidateObjectID(paramName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		value := c.Params(paramName)
		if value == "" {
			return apperr.BadRequest("missing required parameter").
				WithDetail("field", paramName)
		}

		if !validate.ObjectID(value) {
			return apperr.ValidationFailed(paramName+" must be a mongodb id").
				WithDetail("field", paramName)
		}

		return c.Next()
	}
}
