package models_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/models"
)

func TestGenerateAPIKey(t *testing.T) {
	key, err := models.GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "gk_"), "key must start with gk_")
	assert.Len(t, key, 47, "gk_ (3) + 44 base64url chars = 47")

	other, err := models.GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestHashAPIKey(t *testing.T) {
	hash1 := models.HashAPIKey("gk_abc123")
	hash2 := models.HashAPIKey("gk_abc123")
	hash3 := models.HashAPIKey("gk_different")
	assert.Equal(t, hash1, hash2, "same input must produce same hash")
	assert.NotEqual(t, hash1, hash3, "different inputs must produce different hashes")
	assert.Len(t, hash1, 64, "SHA-256 hex is 64 characters")
}

func TestAdminKey_Matches(t *testing.T) {
	key := models.NewAdminKey("ops", "gk_abc123")

	assert.Equal(t, "ops", key.Name)
	assert.NotEqual(t, "gk_abc123", key.KeyHash, "raw key is never stored")
	assert.True(t, key.Matches("gk_abc123"))
	assert.False(t, key.Matches("gk_abc124"))
	assert.False(t, key.Matches(""))
}
