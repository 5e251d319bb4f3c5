package cache

import (
	"context"
	"fmt"
	"time"
)

// TTLCache holds decrypted field values and derived keys. Keys encode the
// content version, so entries are superseded rather than invalidated.
type TTLCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// FieldKey builds the cache key for a decrypted document field. lastModified
// is part of the key: any mutation of the document produces a fresh key and
// leaves the stale entry to expire on its own.
func FieldKey(tenantID, module, docID, field string, lastModified time.Time) string {
	return fmt.Sprintf("dec:%s:%s:%s:%s:%d", tenantID, module, docID, field, lastModified.UnixNano())
}

// KeyDigestKey builds the cache key for a derived tenant key.
func KeyDigestKey(digest string) string {
	return "kdf:" + digest
}
