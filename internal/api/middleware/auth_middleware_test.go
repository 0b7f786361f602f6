package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp() (*fiber.App, config.Config) {
	cfg := config.Config{JWTSecret: "test-secret", CookieName: "session"}
	app := fiber.New()
	app.Use(NewAuthMiddleware(cfg).AuthMiddleware())
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})
	return app, cfg
}

// sessionToken signs a token the way the login service does.
func sessionToken(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, utils.CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			Issuer:    "crosspost",
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	app, cfg := newTestApp()
	token := sessionToken(t, cfg.JWTSecret, "12", time.Hour)
	expired := sessionToken(t, cfg.JWTSecret, "12", -time.Hour)

	tests := []struct {
		name     string
		cookie   string
		header   string
		wantCode int
		wantBody string
	}{
		{name: "cookie", cookie: token, wantCode: fiber.StatusOK, wantBody: "12"},
		{name: "bearer", header: "Bearer " + token, wantCode: fiber.StatusOK, wantBody: "12"},
		{name: "missing", wantCode: fiber.StatusUnauthorized},
		{name: "expired", cookie: expired, wantCode: fiber.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, wantCode: fiber.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/whoami", nil)
			if tt.cookie != "" {
				req.Header.Set("Cookie", cfg.CookieName+"="+tt.cookie)
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantBody != "" {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, tt.wantBody, string(body))
			}
		})
	}
}
