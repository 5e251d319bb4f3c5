package crypto

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/fathima-sithara/chat-platform/internal/cache"
)

// Argon2id parameters for tenant key derivation. Changing them changes every
// derived key, so they are fixed constants rather than config.
const (
	kdfMemoryKiB = 64 * 1024
	kdfPasses    = 3
	kdfLanes     = 1
	kdfKeyLen    = 32
)

// DeriveKey turns a tenant secret and salt into a 32-byte symmetric key.
// Deterministic and expensive: roughly 64 MiB and three passes per call.
func DeriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, kdfPasses, kdfMemoryKiB, kdfLanes, kdfKeyLen)
}

// KeyCache memoizes derived keys. Derivation is deterministic per
// (secret, salt), so a long TTL is safe.
type KeyCache struct {
	cache cache.TTLCache
	ttl   time.Duration
}

func NewKeyCache(c cache.TTLCache, ttl time.Duration) *KeyCache {
	return &KeyCache{cache: c, ttl: ttl}
}

func (kc *KeyCache) DeriveKey(ctx context.Context, password, salt []byte) []byte {
	digest := keyDigest(password, salt)
	if key, ok, err := kc.cache.Get(ctx, cache.KeyDigestKey(digest)); err == nil && ok && len(key) == kdfKeyLen {
		return key
	}
	key := DeriveKey(password, salt)
	_ = kc.cache.Set(ctx, cache.KeyDigestKey(digest), key, kc.ttl)
	return key
}

func keyDigest(password, salt []byte) string {
	h := sha256.New()
	h.Write(password)
	h.Write([]byte{0})
	h.Write(salt)
	return hex.EncodeToString(h.Sum(nil))
}
