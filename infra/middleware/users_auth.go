package middleware

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"users_server/core/domain"
	"users_server/pkg/apperr"
	"users_server/pkg/logger"
	"users_server/pkg/validate"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Locals keys set by JWTAuth.
const (
	LocalIdentity = "identity"
	LocalUserID   = "user_id"
)

// identityClaims is the access token payload issued by the auth service.
type identityClaims struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks RS256 access tokens against a public key loaded once
// at startup.
type Verifier struct {
	key    *rsa.PublicKey
	parser *jwt.Parser
}

// NewVerifier parses a PEM encoded RSA public key.
func NewVerifier(publicKeyPEM []byte) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
	}
	return &Verifier{
		key: key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}, nil
}

// LoadVerifier reads the public key file at path.
func LoadVerifier(path string) (*Verifier, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public key: %w", err)
	}
	return NewVerifier(pem)
}

// Verify returns the identity carried by a valid token.
func (v *Verifier) Verify(tokenString string) (domain.Identity, error) {
	claims := &identityClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, apperr.TokenExpired()
		}
		return domain.Identity{}, apperr.InvalidToken("").WithError(err)
	}

	if !validate.ObjectID(claims.ID) {
		return domain.Identity{}, apperr.InvalidToken("token id claim is not a valid id")
	}
	role := domain.Role(claims.Role)
	if !role.Valid() {
		return domain.Identity{}, apperr.InvalidToken("token role claim is not a known role")
	}

	return domain.Identity{ID: claims.ID, Role: role}, nil
}

// JWTAuth requires a valid bearer token and stores the caller identity.
func JWTAuth(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip auth for CORS preflight requests
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return apperr.Unauthorized("missing authorization")
		}

		identity, err := v.Verify(tokenString)
		if err != nil {
			logger.WithError(err).Warn("JWT validation failed")
			return err
		}

		c.Locals(LocalIdentity, identity)
		c.Locals(LocalUserID, identity.ID)
		c.SetUserContext(logger.ContextWithUserID(c.UserContext(), identity.ID))

		return c.Next()
	}
}

// RequireRoles allows the request only when the caller's role is listed.
// Roles do not imply each other.
func RequireRoles(roles ...domain.Role) fiber.Handler {
	allowed := domain.NewRoleSet(roles...)
	return func(c *fiber.Ctx) error {
		identity, ok := GetIdentity(c)
		if !ok {
			return apperr.Unauthorized("")
		}
		if !allowed.Allows(identity.Role) {
			return apperr.Forbidden(fmt.Sprintf("role %s is not allowed", identity.Role))
		}
		return c.Next()
	}
}

// GetIdentity returns the identity stored by JWTAuth.
func GetIdentity(c *fiber.Ctx) (domain.Identity, bool) {
	identity, ok := c.Locals(LocalIdentity).(domain.Identity)
	return identity, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
