package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_AccessToken(t *testing.T) {
	m := NewJWTManager("secret", time.Minute, time.Hour)
	uid := uuid.New()

	token, err := m.GenerateAccessToken(uid, RoleResearcher)
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, uid, claims.UserID)
	assert.Equal(t, RoleResearcher, claims.Role)
}

func TestJWTManager_RejectsRefreshAndForeignTokens(t *testing.T) {
	m := NewJWTManager("secret", time.Minute, time.Hour)
	refresh, err := m.GenerateRefreshToken(uuid.New(), RoleStudent)
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewJWTManager("other", time.Minute, time.Hour)
	foreign, err := other.GenerateAccessToken(uuid.New(), RoleStudent)
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager("secret", -time.Minute, time.Hour)
	token, err := m.GenerateAccessToken(uuid.New(), RoleStudent)
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
