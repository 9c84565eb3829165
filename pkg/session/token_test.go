package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_MintAndValidateRoundTrip(t *testing.T) {
	i := NewTokenIssuer("test-secret", time.Minute)

	raw, err := i.Mint("sess_1", "room_1")
	require.NoError(t, err)

	claims, err := i.Validate(raw)
	require.NoError(t, err)
	require.Equal(t, "sess_1", claims.SessionID)
	require.Equal(t, "room_1", claims.RoomID)
}

func TestTokenIssuer_RejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer("secret-a", time.Minute)
	other := NewTokenIssuer("secret-b", time.Minute)

	raw, err := issuer.Mint("sess_1", "room_1")
	require.NoError(t, err)

	_, err = other.Validate(raw)
	require.Error(t, err)
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	base := time.Now()
	i := NewTokenIssuer("test-secret", time.Millisecond)
	i.now = func() time.Time { return base }

	raw, err := i.Mint("sess_1", "room_1")
	require.NoError(t, err)

	i.now = func() time.Time { return base.Add(time.Hour) }
	_, err = i.Validate(raw)
	require.Error(t, err)
}
