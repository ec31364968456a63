package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService("test-secret", time.Hour)
}

func TestAddUserRejectsDuplicateUsername(t *testing.T) {
	svc := newTestService()
	require.NoError(t, svc.AddUser("1", "installer", "pass", RoleInstaller, "First"))

	err := svc.AddUser("2", "installer", "other", RoleInstaller, "Second")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService()
	require.NoError(t, svc.AddUser("1", "installer", "pass123", RoleInstaller, "Installer"))

	user, err := svc.Authenticate("installer", "pass123")
	require.NoError(t, err)
	assert.Equal(t, "1", user.ID)
	assert.Equal(t, RoleInstaller, user.Role)

	_, err = svc.Authenticate("installer", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate("nobody", "pass123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestService()
	require.NoError(t, svc.AddUser("1", "admin", "pass", RoleAdmin, "Admin User"))
	user, _ := svc.GetUser("admin")

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "Admin User", claims.Name)
	assert.Equal(t, "1", claims.Subject)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	svc := newTestService()
	_, err := svc.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewService("secret-a", time.Hour)
	require.NoError(t, issuer.AddUser("1", "admin", "pass", RoleAdmin, "Admin"))
	user, _ := issuer.GetUser("admin")
	token, err := issuer.GenerateToken(user)
	require.NoError(t, err)

	verifier := NewService("secret-b", time.Hour)
	_, err = verifier.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	svc := newTestService()
	require.NoError(t, svc.AddUser("1", "admin", "pass", RoleAdmin, "Admin"))
	user, _ := svc.GetUser("admin")

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGetUser(t *testing.T) {
	svc := newTestService()
	require.NoError(t, svc.AddUser("1", "installer", "pass", RoleInstaller, "Installer"))

	user, ok := svc.GetUser("installer")
	require.True(t, ok)
	assert.Equal(t, "installer", user.Username)

	_, ok = svc.GetUser("nobody")
	assert.False(t, ok)
}
