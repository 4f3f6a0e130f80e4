package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/thesis-registration-api/internal/models"
)

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func testClaims(role models.UserRole, expires time.Time) models.JWTClaims {
	return models.JWTClaims{
		UserID:   "user-1",
		UserCode: "B20DCCN001",
		Role:     role,
		Email:    "an@example.edu",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "accounts",
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
}

func TestTokenServiceValidateToken(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "accounts"})

	token := signToken(t, "secret", jwt.SigningMethodHS256, testClaims(models.RoleStudent, time.Now().Add(time.Hour)))
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "B20DCCN001", claims.UserCode)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestTokenServiceRejectsInvalidTokens(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "accounts"})

	cases := map[string]string{
		"wrong secret":  signToken(t, "other", jwt.SigningMethodHS256, testClaims(models.RoleStudent, time.Now().Add(time.Hour))),
		"expired":       signToken(t, "secret", jwt.SigningMethodHS256, testClaims(models.RoleStudent, time.Now().Add(-time.Hour))),
		"wrong method":  signToken(t, "secret", jwt.SigningMethodHS512, testClaims(models.RoleStudent, time.Now().Add(time.Hour))),
		"unknown role":  signToken(t, "secret", jwt.SigningMethodHS256, testClaims(models.UserRole("GUEST"), time.Now().Add(time.Hour))),
		"garbage token": "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
		})
	}
}
