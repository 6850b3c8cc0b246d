package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken()
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	// Each call generates a unique token
	token2, err := GenerateSecureToken()
	assert.NoError(t, err)
	assert.NotEqual(t, token, token2)

	// base64 encoding of 32 bytes should be at least 40 chars
	assert.GreaterOrEqual(t, len(token), 40)
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey(16)
	require.NoError(t, err)
	assert.Len(t, key, 16)
}

func TestSignData(t *testing.T) {
	key := []byte("signing-key")
	sig := SignData("payload", key)

	assert.True(t, ValidateSignedData("payload", sig, key))
	assert.False(t, ValidateSignedData("payload2", sig, key))
	assert.False(t, ValidateSignedData("payload", sig, []byte("other-key")))
	assert.False(t, ValidateSignedData("payload", "", key))
}
