package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest creates a new portal profile.
type RegisterRequest struct {
	Email       string   `json:"email" validate:"required,email"`
	Password    string   `json:"password" validate:"required,min=6"`
	DisplayName string   `json:"displayName" validate:"required"`
	Role        UserRole `json:"role" validate:"required"`
	Department  string   `json:"department"`
	InviteCode  string   `json:"inviteCode"`
	Anonymous   bool     `json:"anonymous"`
}

// LoginResponse returns the issued session token and profile.
type LoginResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresIn   int64     `json:"expiresIn"`
	User        *User     `json:"user"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// JWTClaims represents the session token payload.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	jwt.RegisteredClaims
}
