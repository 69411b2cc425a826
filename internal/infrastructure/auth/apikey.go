package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// APIKeyPrefix marks gateway-issued keys so they are recognisable in logs and scanners.
const APIKeyPrefix = "gwk_"

// ErrEmptyAPIKey is returned when hashing an empty key.
var ErrEmptyAPIKey = errors.New("api key is empty")

// KeyHasher turns a clear API key into the lookup hash stored in the database.
type KeyHasher struct {
	pepper []byte
}

// NewKeyHasher builds a keyed BLAKE2b-256 hasher. Peppers longer than the
// 64-byte BLAKE2b key limit are first reduced with an unkeyed BLAKE2b-512.
func NewKeyHasher(pepper string) *KeyHasher {
	key := []byte(pepper)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &KeyHasher{pepper: key}
}

// Hash returns the hex encoded keyed hash of key.
func (h *KeyHasher) Hash(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyAPIKey
	}
	mac, err := blake2b.New256(h.pepper)
	if err != nil {
		return "", err
	}
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// GenerateAPIKey returns a new random key with APIKeyPrefix.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
