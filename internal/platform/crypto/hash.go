package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hasher produces stable one-way digests of sensitive identifier values.
// The core stores and compares digests only, never plaintext.
type Hasher struct {
	key []byte
}

// NewHasher creates a Hasher keyed with the given secret. The key must
// be at least 16 bytes so digests are not feasibly reversible by
// dictionary attack on short identifiers.
func NewHasher(key []byte) (*Hasher, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("hasher: key must be at least 16 bytes, got %d", len(key))
	}
	return &Hasher{key: key}, nil
}

// Digest returns a hex-encoded HMAC-SHA256 of the normalized value.
// Normalization strips surrounding whitespace and upper-cases, so the
// same identifier submitted with cosmetic differences hashes equally.
func (h *Hasher) Digest(value string) string {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}
