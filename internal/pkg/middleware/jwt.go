package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/internal/pkg/env"
	"github.com/mohsenbt/marzsell/internal/pkg/opcontext"
)

// Claims is the JWT payload for operator logins.
type Claims struct {
	OperatorID uint   `json:"operator_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

const tokenLifetime = 12 * time.Hour

var errNoJWTSecret = errors.New("JWT_SECRET is not set")

func jwtSecret() ([]byte, error) {
	secret := env.GetEnv("JWT_SECRET", "")
	if secret == "" {
		return nil, errNoJWTSecret
	}
	return []byte(secret), nil
}

// IssueOperatorToken signs a login token for an operator. Returns the token
// and its expiry.
func IssueOperatorToken(op *models.Operator) (string, time.Time, error) {
	secret, err := jwtSecret()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := time.Now().Add(tokenLifetime)
	claims := Claims{
		OperatorID: op.ID,
		Name:       op.Name,
		Role:       op.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   op.Email,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseOperatorToken validates a token string and returns its claims.
func ParseOperatorToken(tokenString string) (*Claims, error) {
	secret, err := jwtSecret()
	if err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// authenticateJWT validates the bearer token and populates the operator
// context. The operator record is not reloaded per request; revocation works
// through token expiry.
func authenticateJWT(c *fiber.Ctx, tokenString string) error {
	claims, err := ParseOperatorToken(tokenString)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid or expired token"})
	}

	opcontext.Set(c, opcontext.OperatorContext{
		OperatorID:      claims.OperatorID,
		Name:            claims.Name,
		Role:            claims.Role,
		IsAuthenticated: true,
		IsAdmin:         claims.Role == models.ROLE_ADMIN,
		AuthMethod:      "jwt",
	})
	return c.Next()
}
