package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken()
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	token2, err := GenerateSecureToken()
	assert.NoError(t, err)
	assert.NotEqual(t, token, token2, "tokens should be unique")
}
