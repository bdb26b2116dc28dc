package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"quill/internal/identity"
	"quill/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAuth map[string]identity.Principal

func (a staticAuth) Authenticate(_ context.Context, token string) (identity.Principal, error) {
	p, ok := a[token]
	if !ok {
		return identity.Principal{}, models.NewUnauthenticatedError("Invalid or expired token")
	}
	return p, nil
}

func whoAmI(c *fiber.Ctx) error {
	p, ok := identity.PrincipalFromContext(c.UserContext())
	local, _ := c.Locals("userID").(string)
	return c.JSON(fiber.Map{"uid": p.UID, "authenticated": ok, "local": local})
}

func TestAuthRequired(t *testing.T) {
	auth := staticAuth{"good": {UID: "u-1", Username: "alice"}}
	app := fiber.New()
	app.Get("/test", AuthRequired(auth), whoAmI)

	tests := []struct {
		name       string
		target     string
		header     string
		wantStatus int
		wantUID    string
	}{
		{name: "bearer header", target: "/test", header: "Bearer good", wantStatus: http.StatusOK, wantUID: "u-1"},
		{name: "lowercase scheme", target: "/test", header: "bearer good", wantStatus: http.StatusOK, wantUID: "u-1"},
		{name: "query token", target: "/test?token=good", wantStatus: http.StatusOK, wantUID: "u-1"},
		{name: "missing", target: "/test", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", target: "/test?token=good", header: "Basic good", wantStatus: http.StatusUnauthorized},
		{name: "unknown token", target: "/test", header: "Bearer bad", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantStatus == http.StatusOK {
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.wantUID, body["uid"])
				assert.Equal(t, tt.wantUID, body["local"])
				return
			}
			var body models.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, models.CodeUnauthenticated, body.Code)
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	auth := staticAuth{"good": {UID: "u-2", Username: "bob"}}
	app := fiber.New()
	app.Get("/test", OptionalAuth(auth), whoAmI)

	for _, tc := range []struct {
		header string
		authed bool
	}{
		{"Bearer good", true},
		{"Bearer bad", false},
		{"", false},
	} {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		_ = resp.Body.Close()
		assert.Equal(t, tc.authed, body["authenticated"], tc.header)
	}
}
