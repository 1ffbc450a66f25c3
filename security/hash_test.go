package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasher_HashIsDeterministic(t *testing.T) {
	hasher := NewHasher(randomKey(t))
	a := hasher.Hash("my-api-key")
	b := hasher.Hash("my-api-key")
	assert.Equal(t, a, b)
}

func TestHasher_DifferentPlaintextsDiffer(t *testing.T) {
	hasher := NewHasher(randomKey(t))
	assert.NotEqual(t, hasher.Hash("key-one"), hasher.Hash("key-two"))
}

func TestHasher_DifferentKeysDiffer(t *testing.T) {
	a := NewHasher(randomKey(t))
	b := NewHasher(randomKey(t))
	assert.NotEqual(t, a.Hash("same"), b.Hash("same"))
}

func TestHasher_Equal(t *testing.T) {
	hasher := NewHasher(randomKey(t))
	hash := hasher.Hash("token-123")
	assert.True(t, hasher.Equal("token-123", hash))
	assert.False(t, hasher.Equal("token-124", hash))
	assert.False(t, hasher.Equal("token-123", "not-hex!!"))
}
