package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bxt-team/sevencycles/pkg/models"
)

func newTestAuth() *AuthService {
	return NewAuthService("test-secret-key-for-tests-only", time.Hour, 24*time.Hour)
}

func TestHashAndCheckPassword(t *testing.T) {
	svc := newTestAuth()

	hash, err := svc.HashPassword("Sommer2026!")
	require.NoError(t, err)
	assert.NotEqual(t, "Sommer2026!", hash)

	require.NoError(t, svc.CheckPassword("Sommer2026!", hash))
	assert.ErrorIs(t, svc.CheckPassword("wrong", hash), ErrInvalidCredentials)
}

func TestGenerateAndValidateTokens(t *testing.T) {
	svc := newTestAuth()
	user := &models.User{ID: 7, Email: "anna@example.com"}

	pair, err := svc.GenerateTokens(user)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := svc.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "anna@example.com", claims.Email)
	assert.Equal(t, "sevencycles", claims.Issuer)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	svc := newTestAuth()
	other := NewAuthService("different-secret", time.Hour, 24*time.Hour)

	pair, err := svc.GenerateTokens(&models.User{ID: 1, Email: "a@b.c"})
	require.NoError(t, err)

	_, err = other.ValidateToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenExpired(t *testing.T) {
	svc := NewAuthService("test-secret", -time.Hour, 24*time.Hour)
	// Negative expiry falls back to the default, force it directly.
	svc.tokenExpiry = -time.Minute

	pair, err := svc.GenerateTokens(&models.User{ID: 1, Email: "a@b.c"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateTokenGarbage(t *testing.T) {
	svc := newTestAuth()
	_, err := svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshTokens(t *testing.T) {
	svc := newTestAuth()
	user := &models.User{ID: 3, Email: "ben@example.com"}

	pair, err := svc.GenerateTokens(user)
	require.NoError(t, err)

	refreshed, err := svc.RefreshTokens(pair.RefreshToken, user)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	svc := newTestAuth()
	user := &models.User{ID: 3, Email: "ben@example.com"}

	pair, err := svc.GenerateTokens(user)
	require.NoError(t, err)

	_, err = svc.RefreshTokens(pair.AccessToken, user)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshRejectsOtherUser(t *testing.T) {
	svc := newTestAuth()

	pair, err := svc.GenerateTokens(&models.User{ID: 3, Email: "ben@example.com"})
	require.NoError(t, err)

	_, err = svc.RefreshTokens(pair.RefreshToken, &models.User{ID: 4, Email: "eve@example.com"})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractUserFromToken(t *testing.T) {
	svc := newTestAuth()

	pair, err := svc.GenerateTokens(&models.User{ID: 11, Email: "c@d.e"})
	require.NoError(t, err)

	userID, err := svc.ExtractUserFromToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(11), userID)
}

func TestPasswordStrengthCheck(t *testing.T) {
	svc := newTestAuth()

	ok, issues := svc.PasswordStrengthCheck("Sommer2026")
	assert.True(t, ok)
	assert.Empty(t, issues)

	ok, issues = svc.PasswordStrengthCheck("kurz")
	assert.False(t, ok)
	assert.NotEmpty(t, issues)

	ok, _ = svc.PasswordStrengthCheck("alllowercase1")
	assert.False(t, ok)
}
