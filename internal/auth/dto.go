package auth

import (
	"github.com/dissertia/dissertia-api/internal/users"
)

// RegisterRequest is the sign-up payload.
type RegisterRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=120"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	AcceptTerms bool   `json:"accept_terms"`
}

// LoginRequest captures the user credentials sent to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest carries the opaque refresh token; the expired access token
// travels in the Authorization header.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TokenPair is returned by refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SessionResponse is returned by register and login.
type SessionResponse struct {
	TokenPair
	User *users.UserDTO `json:"user"`
}
