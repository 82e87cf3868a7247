package http

import (
	"time"

	"users_server/infra/middleware"

	"github.com/gofiber/fiber/v2"
)

const docsPath = "/api/users/docs"

// DocsHandler serves the OpenAPI description of the profile API.
type DocsHandler struct {
	doc fiber.Map
}

func NewDocsHandler(version string) *DocsHandler {
	return &DocsHandler{doc: openAPIDocument(version)}
}

// Register mounts the document. It must be registered before the
// authenticated group so it stays public.
func (h *DocsHandler) Register(app *fiber.App) {
	app.Get(docsPath, middleware.PublicCache(time.Hour), h.Get)
}

func (h *DocsHandler) Get(c *fiber.Ctx) error {
	return c.JSON(h.doc)
}

func openAPIDocument(version string) fiber.Map {
	str := fiber.Map{"type": "string"}
	nullableStr := fiber.Map{"type": "string", "nullable": true}
	ref := func(name string) fiber.Map {
		return fiber.Map{"$ref": "#/components/schemas/" + name}
	}
	jsonBody := func(schema fiber.Map) fiber.Map {
		return fiber.Map{"application/json": fiber.Map{"schema": schema}}
	}
	respond := func(description string, schema fiber.Map) fiber.Map {
		r := fiber.Map{"description": description}
		if schema != nil {
			r["content"] = jsonBody(schema)
		}
		return r
	}
	errorResp := func(description string) fiber.Map {
		return respond(description, ref("Error"))
	}
	idParam := []fiber.Map{{
		"name":     "id",
		"in":       "path",
		"required": true,
		"schema":   fiber.Map{"type": "string", "pattern": "^[0-9a-fA-F]{24}$"},
	}}
	patchBody := fiber.Map{"required": false, "content": jsonBody(ref("ProfilePatch"))}

	address := fiber.Map{
		"type":     "object",
		"required": []string{"index", "city", "street", "apartment"},
		"properties": fiber.Map{
			"index":     str,
			"city":      str,
			"street":    str,
			"apartment": str,
		},
	}

	return fiber.Map{
		"openapi": "3.0.3",
		"info": fiber.Map{
			"title":       "Users service",
			"description": "User profile API",
			"version":     version,
		},
		"components": fiber.Map{
			"securitySchemes": fiber.Map{
				"bearer": fiber.Map{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
			"schemas": fiber.Map{
				"Address": address,
				"Profile": fiber.Map{
					"type":     "object",
					"required": []string{"_id", "email", "createdAt", "updatedAt"},
					"properties": fiber.Map{
						"_id":         str,
						"email":       fiber.Map{"type": "string", "format": "email"},
						"first_name":  nullableStr,
						"second_name": nullableStr,
						"birthday":    fiber.Map{"type": "string", "format": "date", "nullable": true},
						"avatar_url":  fiber.Map{"type": "string", "format": "uri", "nullable": true},
						"address":     ref("Address"),
						"createdAt":   fiber.Map{"type": "string", "format": "date-time"},
						"updatedAt":   fiber.Map{"type": "string", "format": "date-time"},
					},
				},
				"ProfilePatch": fiber.Map{
					"type": "object",
					"properties": fiber.Map{
						"first_name":  nullableStr,
						"second_name": nullableStr,
						"birthday":    fiber.Map{"type": "string", "format": "date", "nullable": true},
						"avatar_url":  fiber.Map{"type": "string", "format": "uri", "nullable": true},
						"address":     ref("Address"),
					},
				},
				"Error": fiber.Map{
					"type": "object",
					"properties": fiber.Map{
						"success": fiber.Map{"type": "boolean"},
						"error": fiber.Map{
							"type": "object",
							"properties": fiber.Map{
								"code":    str,
								"message": str,
								"details": fiber.Map{"type": "object"},
							},
						},
						"request_id": str,
						"timestamp":  str,
					},
				},
			},
		},
		"security": []fiber.Map{{"bearer": []string{}}},
		"paths": fiber.Map{
			"/api/users": fiber.Map{
				"get": fiber.Map{
					"summary": "List profiles (Admin, Manager)",
					"responses": fiber.Map{
						"200": respond("Profiles", fiber.Map{"type": "array", "items": ref("Profile")}),
						"401": errorResp("Unauthorized"),
						"403": errorResp("Forbidden"),
					},
				},
			},
			"/api/users/iam": fiber.Map{
				"get": fiber.Map{
					"summary": "Get own profile",
					"responses": fiber.Map{
						"200": respond("Profile", ref("Profile")),
						"401": errorResp("Unauthorized"),
						"404": errorResp("Not found"),
					},
				},
				"patch": fiber.Map{
					"summary":     "Update own profile",
					"requestBody": patchBody,
					"responses": fiber.Map{
						"200": respond("Updated profile", ref("Profile")),
						"400": errorResp("Validation failed"),
						"401": errorResp("Unauthorized"),
					},
				},
			},
			"/api/users/{id}": fiber.Map{
				"get": fiber.Map{
					"summary":    "Get profile (Admin, Manager)",
					"parameters": idParam,
					"responses": fiber.Map{
						"200": respond("Profile", ref("Profile")),
						"400": errorResp("Invalid id"),
						"401": errorResp("Unauthorized"),
						"403": errorResp("Forbidden"),
						"404": errorResp("Not found"),
					},
				},
				"patch": fiber.Map{
					"summary":     "Update profile (Admin)",
					"parameters":  idParam,
					"requestBody": patchBody,
					"responses": fiber.Map{
						"200": respond("Updated profile", ref("Profile")),
						"400": errorResp("Validation failed"),
						"401": errorResp("Unauthorized"),
						"403": errorResp("Forbidden"),
						"404": errorResp("Not found"),
					},
				},
			},
		},
	}
}
