package credential

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCredentialApp(m *Manager) *fiber.App {
	app := fiber.New()
	h := NewHandler(m)
	app.Get("/v1/credential/health", h.HandleHealth)
	app.Get("/v1/credential/stats", h.HandleStats)
	app.Post("/v1/credential/refresh", h.HandleRefresh)
	return app
}

func TestHandler_HealthReflectsToken(t *testing.T) {
	m := NewManager(&scriptedSource{results: []result{{token: "tok"}}}, 0)
	app := newCredentialApp(m)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/credential/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/v1/credential/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/v1/credential/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var h Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.True(t, h.Healthy)
	assert.True(t, h.HasToken)
}

func TestHandler_RefreshFailureAndStats(t *testing.T) {
	m := NewManager(&scriptedSource{results: []result{{err: errors.New("capture failed")}}}, 0)
	app := newCredentialApp(m)

	resp, err := app.Test(httptest.NewRequest("POST", "/v1/credential/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/v1/credential/stats", nil))
	require.NoError(t, err)
	var s Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, "scripted", s.Source)
	assert.Equal(t, 1, s.FailureCount)
	assert.Equal(t, "capture failed", s.LastError)
}
