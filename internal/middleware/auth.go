package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"signage/internal/utils"
)

const operatorLocalsKey = "operator"

// OperatorClaims are carried by operator bearer tokens
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RoleOperator is the only role accepted on the admin API
const RoleOperator = "operator"

// IssueOperatorToken signs an HS256 operator token valid for ttl
func IssueOperatorToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// OperatorAuth verifies the Authorization bearer token and stores the
// operator subject in c.Locals
func OperatorAuth(secret string) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}

	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(header, "Bearer ") {
			return utils.SendUnauthorizedError(c, "missing bearer token")
		}

		var claims OperatorClaims
		_, err := parser.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), &claims, keyFunc)
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return utils.SendUnauthorizedError(c, "token expired")
		case err != nil:
			return utils.SendUnauthorizedError(c, "invalid token")
		case claims.Role != RoleOperator:
			return utils.SendUnauthorizedError(c, "operator role required")
		}

		c.Locals(operatorLocalsKey, claims.Subject)
		return c.Next()
	}
}

// GetOperator returns the authenticated operator subject
func GetOperator(c *fiber.Ctx) (string, bool) {
	subject, ok := c.Locals(operatorLocalsKey).(string)
	return subject, ok
}
