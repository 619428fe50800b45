package services

import (
	"testing"

	"omnibox/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTripCarriesCompanyScope(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	as := &AuthService{}
	token, err := as.generateJWT(models.User{
		ID:        7,
		CompanyID: 3,
		Username:  "maria",
		Email:     "maria@example.com",
		Role:      "agent",
	})
	require.NoError(t, err)

	claims, err := as.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, uint(3), claims.CompanyID)
	assert.Equal(t, "agent", claims.Role)
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	as := &AuthService{}
	token, err := as.generateJWT(models.User{ID: 7, CompanyID: 3})
	require.NoError(t, err)

	_, err = as.ValidateToken(token + "x")
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "other-secret")
	_, err = as.ValidateToken(token)
	assert.Error(t, err)
}
