package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/opcontext"
)

func testOperator() *models.Operator {
	op := &models.Operator{
		Name:  "Mohsen",
		Email: "mohsen@example.com",
		Role:  models.ROLE_ADMIN,
	}
	op.ID = 7
	return op
}

func TestIssueAndParseOperatorToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "unit-test-secret")

	token, expiresAt, err := IssueOperatorToken(testOperator())
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(tokenLifetime), expiresAt, time.Minute)

	claims, err := ParseOperatorToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.OperatorID)
	assert.Equal(t, "Mohsen", claims.Name)
	assert.Equal(t, models.ROLE_ADMIN, claims.Role)
	assert.Equal(t, "mohsen@example.com", claims.Subject)
}

func TestIssueOperatorTokenRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, _, err := IssueOperatorToken(testOperator())
	require.ErrorIs(t, err, errNoJWTSecret)
}

func TestParseOperatorTokenRejectsGarbage(t *testing.T) {
	t.Setenv("JWT_SECRET", "unit-test-secret")

	_, err := ParseOperatorToken("definitely-not-a-jwt")
	require.Error(t, err)
}

func TestParseOperatorTokenRejectsWrongSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "first-secret")
	token, _, err := IssueOperatorToken(testOperator())
	require.NoError(t, err)

	t.Setenv("JWT_SECRET", "second-secret")
	_, err = ParseOperatorToken(token)
	require.Error(t, err)
}

func TestParseOperatorTokenRejectsExpired(t *testing.T) {
	t.Setenv("JWT_SECRET", "unit-test-secret")

	claims := Claims{
		OperatorID: 7,
		Name:       "Mohsen",
		Role:       models.ROLE_ADMIN,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Subject:   "mohsen@example.com",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unit-test-secret"))
	require.NoError(t, err)

	_, err = ParseOperatorToken(token)
	require.Error(t, err)
}

func TestOperatorAuthMiddlewareRejectsMissingCredentials(t *testing.T) {
	app := fiber.New()
	app.Use(OperatorAuthMiddleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestOperatorAuthMiddlewareAcceptsBearerJWT(t *testing.T) {
	t.Setenv("JWT_SECRET", "unit-test-secret")
	token, _, err := IssueOperatorToken(testOperator())
	require.NoError(t, err)

	app := fiber.New()
	app.Use(OperatorAuthMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		ctx := opcontext.Get(c)
		assert.True(t, ctx.IsAuthenticated)
		assert.True(t, ctx.IsAdmin)
		assert.Equal(t, uint(7), ctx.OperatorID)
		assert.Equal(t, "jwt", ctx.AuthMethod)
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestOperatorAuthMiddlewareRejectsBadJWT(t *testing.T) {
	t.Setenv("JWT_SECRET", "unit-test-secret")

	app := fiber.New()
	app.Use(OperatorAuthMiddleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAdmin(t *testing.T) {
	newApp := func(ctx opcontext.OperatorContext, seed bool) *fiber.App {
		app := fiber.New()
		app.Use(func(c *fiber.Ctx) error {
			if seed {
				opcontext.Set(c, ctx)
			}
			return c.Next()
		})
		app.Get("/", RequireAdmin, func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
		return app
	}

	t.Run("unauthenticated", func(t *testing.T) {
		resp, err := newApp(opcontext.OperatorContext{}, false).Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("non-admin", func(t *testing.T) {
		ctx := opcontext.OperatorContext{OperatorID: 3, Role: models.ROLE_VIEWER, IsAuthenticated: true}
		resp, err := newApp(ctx, true).Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	})

	t.Run("admin", func(t *testing.T) {
		ctx := opcontext.OperatorContext{OperatorID: 1, Role: models.ROLE_ADMIN, IsAuthenticated: true, IsAdmin: true}
		resp, err := newApp(ctx, true).Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})
}
