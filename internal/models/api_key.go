package models

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// AdminKey authorizes calls to the admin API. The raw key value is never
// stored; only its SHA-256 hex hash is kept in configuration.
type AdminKey struct {
	Name    string `yaml:"name" json:"name"`
	KeyHash string `yaml:"key_hash" json:"key_hash"`
}

// NewAdminKey creates an AdminKey from a raw key string.
func NewAdminKey(name, rawKey string) AdminKey {
	return AdminKey{
		Name:    name,
		KeyHash: HashAPIKey(rawKey),
	}
}

// Matches reports whether rawKey hashes to the stored digest.
func (k AdminKey) Matches(rawKey string) bool {
	return subtle.ConstantTimeCompare([]byte(HashAPIKey(rawKey)), []byte(k.KeyHash)) == 1
}

// GenerateAPIKey produces a new random key in the format gk_<44 url-safe base64 chars>.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 33) // 33 bytes → 44 base64url chars
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "gk_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey computes the SHA-256 hex digest of a raw API key.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
