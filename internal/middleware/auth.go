package middleware

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/telio-letalle/Pronote-sub002/internal/httpx"
	"github.com/telio-letalle/Pronote-sub002/internal/models"
)

// Claims carry the identity asserted by the suite's session service. This
// subsystem never authenticates credentials itself; it trusts the signed
// token and nothing else.
type Claims struct {
	UserID      uint        `json:"user_id"`
	Role        models.Role `json:"role"`
	DisplayName string      `json:"name"`
	jwt.RegisteredClaims
}

func AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		var tokenString string
		if authHeader != "" {
			// Extract token from "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return httpx.Unauthorized(c, "invalid_authorization", "Invalid authorization format")
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Cookies("pn_access")
		}

		if tokenString == "" {
			return httpx.Unauthorized(c, "missing_access_token", "Missing access token")
		}

		// Parse and validate token
		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method == nil || token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return []byte(os.Getenv("JWT_SECRET")), nil
		})

		if err != nil || !token.Valid {
			return httpx.Unauthorized(c, "invalid_access_token", "Invalid or expired token")
		}

		claims, ok := token.Claims.(*Claims)
		if !ok {
			return httpx.Unauthorized(c, "invalid_access_token", "Invalid token")
		}
		if !claims.Role.Valid() {
			return httpx.Unauthorized(c, "invalid_access_token", "Unknown role")
		}

		c.Locals("principal", models.Principal{ID: claims.UserID, Role: claims.Role})
		c.Locals("displayName", claims.DisplayName)

		return c.Next()
	}
}
