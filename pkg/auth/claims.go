package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload is the input to MintAccessToken. JTI doubles as the
// refresh session id; a random one is generated when empty.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Email  string
	JTI    string
}

// AccessTokenClaims is the JWT body issued to students.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AccessID returns the jti, which keys the refresh session.
func (c *AccessTokenClaims) AccessID() string {
	return c.ID
}
