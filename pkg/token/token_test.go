package token_test

import (
	"testing"
	"time"

	"github.com/nlesc/mdstudio/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_SignVerifyRoundTrip(t *testing.T) {
	svc := token.NewService()

	signed, err := svc.Sign(map[string]any{"session_id": "abc123"}, "auth")
	require.NoError(t, err)

	claims, err := svc.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "auth", claims.Username)
	assert.True(t, claims.HasGroup("mdstudio"))
	assert.Equal(t, "abc123", claims.SessionID)
	assert.WithinDuration(t, time.Now().Add(token.Lifetime), claims.ExpiresAt, 5*time.Second)
}

func TestService_SignRejectsNonInternalRole(t *testing.T) {
	svc := token.NewService()
	_, err := svc.Sign(map[string]any{}, "researcher")
	assert.ErrorIs(t, err, token.ErrForbiddenSigner)
}

func TestService_RotateInvalidatesOldTokens(t *testing.T) {
	svc := token.NewService()
	signed, err := svc.Sign(map[string]any{}, "db")
	require.NoError(t, err)

	svc.Rotate()

	_, err = svc.Verify(signed)
	assert.ErrorIs(t, err, token.ErrInvalid)
}
