package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasAccessTokenFragment(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     bool
	}{
		{"magic link landing", "access_token=abc&refresh_token=def&expires_in=3600", true},
		{"no token", "error=access_denied&error_description=denied", false},
		{"empty", "", false},
		{"empty token value", "access_token=", false},
		{"malformed", "a;b=%zz", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasAccessTokenFragment(tt.fragment))
		})
	}
}

func TestSessionFromFragment(t *testing.T) {
	session := SessionFromFragment("access_token=abc&token_type=bearer&refresh_token=def&expires_in=3600")
	require.NotNil(t, session)

	assert.Equal(t, "abc", session.AccessToken())
	assert.Equal(t, "bearer", session.Token.TokenType)
	assert.Equal(t, "def", session.Token.RefreshToken)
	assert.False(t, session.Token.Expiry.IsZero())
}

func TestSessionFromFragmentWithoutToken(t *testing.T) {
	assert.Nil(t, SessionFromFragment("refresh_token=def"))
	assert.Nil(t, SessionFromFragment(""))
}

func TestSessionAccessTokenNilSafety(t *testing.T) {
	var session *Session
	assert.Equal(t, "", session.AccessToken())
	assert.Equal(t, "", (&Session{}).AccessToken())
}
