package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the access token payload issued by the account system.
// UserCode is the external student identifier used to match roster rows.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	UserCode string   `json:"user_code,omitempty"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
