package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Hasher is the keyed hash service described by C3: a deterministic keyed
// PRF used to index API-key plaintexts so login-by-key is a single indexed
// lookup rather than a table scan of decrypts.
type Hasher struct {
	key [32]byte
}

// NewHasher builds a Hasher from the key file's hash_key.
func NewHasher(hashKey [32]byte) *Hasher {
	return &Hasher{key: hashKey}
}

// Hash returns the hex-encoded HMAC-SHA256 of plaintext under the hash key.
func (h *Hasher) Hash(plaintext string) string {
	mac := hmac.New(sha256.New, h.key[:])
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal reports whether plaintext hashes to the given indexed hash, using
// the same constant-time comparison HMAC verification relies on.
func (h *Hasher) Equal(plaintext, hash string) bool {
	mac := hmac.New(sha256.New, h.key[:])
	mac.Write([]byte(plaintext))
	expected := mac.Sum(nil)
	decoded, err := hex.DecodeString(hash)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, decoded)
}
