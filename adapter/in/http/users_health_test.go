package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler_Ready(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]CheckFunc
		status int
	}{
		{"all healthy", map[string]CheckFunc{"mongodb": ok, "redis": nil}, nethttp.StatusOK},
		{"one down", map[string]CheckFunc{"mongodb": ok, "amqp": down}, nethttp.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler()
			for name, fn := range tt.checks {
				h.WithCheck(name, fn)
			}
			app := fiber.New()
			h.Register(app)

			resp, err := app.Test(httptest.NewRequest(nethttp.MethodGet, "/ready", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			resp, err = app.Test(httptest.NewRequest(nethttp.MethodGet, "/health", nil))
			require.NoError(t, err)
			assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
		})
	}
}
