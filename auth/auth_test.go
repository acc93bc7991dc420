package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/earnings-engine/auth"
)

func TestPassword_HashAndVerify(t *testing.T) {
	u, err := auth.NewUser("alice", "s3cret", auth.RoleEmployee)
	require.NoError(t, err)

	assert.NotEqual(t, "s3cret", u.PasswordHash)
	assert.True(t, u.VerifyPassword("s3cret"))
	assert.False(t, u.VerifyPassword("wrong"))
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	u, err := auth.NewUser("admin", "pw", auth.RoleAdmin)
	require.NoError(t, err)

	issuer := auth.NewTokenIssuer("test-secret", 15*time.Minute)
	raw, err := issuer.Issue(u)
	require.NoError(t, err)

	claims, err := issuer.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestTokenIssuer_RejectsWrongSecret(t *testing.T) {
	u, err := auth.NewUser("admin", "pw", auth.RoleAdmin)
	require.NoError(t, err)

	raw, err := auth.NewTokenIssuer("secret-a", time.Minute).Issue(u)
	require.NoError(t, err)

	_, err = auth.NewTokenIssuer("secret-b", time.Minute).Parse(raw)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	u, err := auth.NewUser("admin", "pw", auth.RoleAdmin)
	require.NoError(t, err)

	issuer := auth.NewTokenIssuer("test-secret", -time.Minute)
	raw, err := issuer.Issue(u)
	require.NoError(t, err)

	_, err = issuer.Parse(raw)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRefreshToken_Lifecycle(t *testing.T) {
	u, err := auth.NewUser("bob", "pw", auth.RoleEmployee)
	require.NoError(t, err)

	rt, err := auth.NewRefreshToken(u.ID, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, rt.Token, 128, "64 random bytes hex-encoded")
	assert.True(t, rt.Valid())

	rt.Revoked = true
	assert.False(t, rt.Valid())

	expired, err := auth.NewRefreshToken(u.ID, -time.Hour)
	require.NoError(t, err)
	assert.False(t, expired.Valid())
}
