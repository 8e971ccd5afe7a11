package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret")
	tok, err := svc.Issue(12, RoleStudent, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, Actor{ID: 12, Role: RoleStudent}, claims.Actor())
}

func TestTokenRejections(t *testing.T) {
	svc := NewTokenService("secret")

	other, err := NewTokenService("other").Issue(1, RoleStudent, time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(other)
	assert.Error(t, err)

	expired, err := svc.Issue(1, RoleStudent, -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.Error(t, err)

	badRole, err := svc.Issue(1, "janitor", time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(badRole)
	assert.Error(t, err)
}
