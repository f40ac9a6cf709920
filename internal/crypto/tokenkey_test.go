package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTokenKey(t *testing.T) {
	key := DeriveTokenKey("eyJhbGciOiJIUzI1NiJ9.some.token")

	assert.Len(t, key, TokenKeyLength)
	assert.Equal(t, key, DeriveTokenKey("eyJhbGciOiJIUzI1NiJ9.some.token"), "same token must yield same key")
	assert.NotEqual(t, key, DeriveTokenKey("eyJhbGciOiJIUzI1NiJ9.other.token"))
}

func TestDeriveTokenKeyDoesNotLeakTokenMaterial(t *testing.T) {
	token := "super-secret-access-token"
	key := DeriveTokenKey(token)

	assert.NotContains(t, token, key)
}
