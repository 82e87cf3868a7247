package http

import (
	"users_server/core/domain"
	"users_server/core/port/in"
	"users_server/infra/middleware"
	"users_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// patchBodyLimit bounds a profile PATCH body.
const patchBodyLimit = 16 * 1024

// ProfileHandler handles HTTP requests for user profiles
type ProfileHandler struct {
	service in.ProfileService
}

// NewProfileHandler creates a new ProfileHandler
func NewProfileHandler(service in.ProfileService) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// Register registers profile routes on the authenticated /api/users group.
// Role checks run before id validation.
func (h *ProfileHandler) Register(router fiber.Router) {
	staff := middleware.RequireRoles(domain.RoleAdmin, domain.RoleManager)
	admin := middleware.RequireRoles(domain.RoleAdmin)
	limit := middleware.MaxBodySize(patchBodyLimit)

	// Own profile
	router.Get("/iam", h.GetOwn)
	router.Patch("/iam", limit, h.PatchOwn)

	// Staff
	router.Get("/", staff, h.List)
	router.Get("/:id", staff, middleware.ValidateObjectID("id"), h.GetByID)
	router.Patch("/:id", admin, middleware.ValidateObjectID("id"), limit, h.PatchByID)
}

// =============================================================================
// Own profile
// =============================================================================

// GetOwn returns the caller's profile
// @Summary Get own profile
// @Tags Users
// @Produce json
// @Success 200 {object} in.ProfileResponse
// @Router /api/users/iam [get]
func (h *ProfileHandler) GetOwn(c *fiber.Ctx) error {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return apperr.Unauthorized("")
	}

	profile, err := h.service.GetByID(c.UserContext(), identity.ID)
	if err != nil {
		return err
	}
	return c.JSON(in.NewProfileResponse(profile))
}

// PatchOwn updates the caller's profile
// @Summary Update own profile
// @Tags Users
// @Accept json
// @Produce json
// @Success 200 {object} in.ProfileResponse
// @Router /api/users/iam [patch]
func (h *ProfileHandler) PatchOwn(c *fiber.Ctx) error {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return apperr.Unauthorized("")
	}
	return h.patch(c, identity.ID)
}

// =============================================================================
// Staff
// =============================================================================

// List returns every profile
// @Summary List profiles
// @Tags Users
// @Produce json
// @Success 200 {array} in.ProfileResponse
// @Router /api/users [get]
func (h *ProfileHandler) List(c *fiber.Ctx) error {
	profiles, err := h.service.ListAll(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(in.NewProfileListResponse(profiles))
}

// GetByID returns a profile by id
// @Summary Get profile
// @Tags Users
// @Produce json
// @Param id path string true "User id"
// @Success 200 {object} in.ProfileResponse
// @Router /api/users/{id} [get]
func (h *ProfileHandler) GetByID(c *fiber.Ctx) error {
	profile, err := h.service.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(in.NewProfileResponse(profile))
}

// PatchByID updates any profile
// @Summary Update profile
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User id"
// @Success 200 {object} in.ProfileResponse
// @Router /api/users/{id} [patch]
func (h *ProfileHandler) PatchByID(c *fiber.Ctx) error {
	return h.patch(c, c.Params("id"))
}

func (h *ProfileHandler) patch(c *fiber.Ctx, id string) error {
	patch, err := parsePatch(c.Body())
	if err != nil {
		return err
	}

	profile, err := h.service.UpdateProfile(c.UserContext(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(in.NewProfileResponse(profile))
}
