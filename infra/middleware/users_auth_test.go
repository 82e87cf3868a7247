package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"users_server/core/domain"
	"users_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callerID = "507f1f77bcf86cd799439011"

func newKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func sign(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func claimsFor(id string, role domain.Role, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"id":   id,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
}

func TestVerifier_Verify(t *testing.T) {
	key, pub := newKey(t)
	otherKey, _ := newKey(t)

	v, err := NewVerifier(pub)
	require.NoError(t, err)

	hs256, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor(callerID, domain.RoleAdmin, time.Hour)).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	noExp := claimsFor(callerID, domain.RoleUser, time.Hour)
	delete(noExp, "exp")

	tests := []struct {
		name     string
		token    string
		wantCode string
	}{
		{"wrong key", sign(t, otherKey, claimsFor(callerID, domain.RoleUser, time.Hour)), apperr.CodeInvalidToken},
		{"expired", sign(t, key, claimsFor(callerID, domain.RoleUser, -time.Minute)), apperr.CodeTokenExpired},
		{"hs256", hs256, apperr.CodeInvalidToken},
		{"missing exp", sign(t, key, noExp), apperr.CodeInvalidToken},
		{"missing role", sign(t, key, jwt.MapClaims{"id": callerID, "exp": time.Now().Add(time.Hour).Unix()}), apperr.CodeInvalidToken},
		{"unknown role", sign(t, key, claimsFor(callerID, domain.Role("Root"), time.Hour)), apperr.CodeInvalidToken},
		{"bad id", sign(t, key, claimsFor("42", domain.RoleUser, time.Hour)), apperr.CodeInvalidToken},
		{"garbage", "not.a.token", apperr.CodeInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, tt.wantCode), err.Error())
		})
	}

	identity, err := v.Verify(sign(t, key, claimsFor(callerID, domain.RoleManager, time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{ID: callerID, Role: domain.RoleManager}, identity)
}

func TestNewVerifier_BadKey(t *testing.T) {
	_, err := NewVerifier([]byte("not a key"))
	assert.Error(t, err)

	_, err = LoadVerifier("testdata/does-not-exist.pem")
	assert.Error(t, err)
}

func TestJWTAuth_RequireRoles(t *testing.T) {
	key, pub := newKey(t)
	v, err := NewVerifier(pub)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(JWTAuth(v))
	app.Get("/own", func(c *fiber.Ctx) error {
		identity, _ := GetIdentity(c)
		return c.SendString(identity.ID)
	})
	app.Get("/staff", RequireRoles(domain.RoleAdmin, domain.RoleManager), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/admin", RequireRoles(domain.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	tokens := map[domain.Role]string{
		domain.RoleUser:    sign(t, key, claimsFor(callerID, domain.RoleUser, time.Hour)),
		domain.RoleManager: sign(t, key, claimsFor(callerID, domain.RoleManager, time.Hour)),
		domain.RoleAdmin:   sign(t, key, claimsFor(callerID, domain.RoleAdmin, time.Hour)),
	}

	tests := []struct {
		name   string
		path   string
		auth   string
		status int
	}{
		{"no header", "/own", "", http.StatusUnauthorized},
		{"wrong scheme", "/own", "Basic abc", http.StatusUnauthorized},
		{"bad token", "/own", "Bearer nope", http.StatusUnauthorized},
		{"user own", "/own", "Bearer " + tokens[domain.RoleUser], http.StatusOK},
		{"user staff", "/staff", "Bearer " + tokens[domain.RoleUser], http.StatusForbidden},
		{"manager staff", "/staff", "Bearer " + tokens[domain.RoleManager], http.StatusOK},
		{"manager admin", "/admin", "Bearer " + tokens[domain.RoleManager], http.StatusForbidden},
		{"admin admin", "/admin", "Bearer " + tokens[domain.RoleAdmin], http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.auth)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestValidateObjectID(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Get("/users/:id", ValidateObjectID("id"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/users/507f1f77bcf86cd799439011", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/users/zzz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
