// Package tokens issues and verifies the short-lived signed tokens that
// authorize stream sessions. Browsers cannot attach the Authorization
// header to a websocket upgrade, so the client first trades its session
// for a stream token over a normal authenticated request, then presents
// the token as a query parameter.
package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/telio-letalle/Pronote-sub002/internal/models"
)

var ErrInvalidToken = errors.New("invalid stream token")

// StreamClaims binds a token to one principal and one scope. ConversationID
// 0 means the notifications scope.
type StreamClaims struct {
	UserID         uint        `json:"uid"`
	Role           models.Role `json:"role"`
	DisplayName    string      `json:"name"`
	ConversationID uint        `json:"conv"`
	jwt.RegisteredClaims
}

// Issue signs a stream token for the principal and scope.
func Issue(secret []byte, p models.Principal, displayName string, conversationID uint, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := StreamClaims{
		UserID:         p.ID,
		Role:           p.Role,
		DisplayName:    displayName,
		ConversationID: conversationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify parses the token and checks it grants the requested scope.
func Verify(secret []byte, tokenString string, conversationID uint) (*StreamClaims, error) {
	claims := &StreamClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	if claims.ConversationID != conversationID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Principal rebuilds the token's principal.
func (c *StreamClaims) Principal() models.Principal {
	return models.Principal{ID: c.UserID, Role: c.Role}
}
