package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/fathima-sithara/chat-platform/internal/cache"
	"github.com/fathima-sithara/chat-platform/internal/crypto"
	"github.com/fathima-sithara/chat-platform/internal/models"
)

// fieldCodec applies tenant field encryption around the store. A nil cipher
// means no tenant context: fields pass through untouched so maintenance paths
// keep working.
type fieldCodec struct {
	tenantID string
	cipher   *crypto.Cipher
	cache    cache.TTLCache
	ttl      time.Duration
}

func (c *fieldCodec) encrypt(plaintext string) string {
	if c.cipher == nil || plaintext == "" {
		return plaintext
	}
	return c.cipher.EncryptField(plaintext)
}

// decryptField decrypts one document field, consulting the decrypted-value
// cache. The cache key embeds lastModified, so a mutated document never hits
// a stale entry.
func (c *fieldCodec) decryptField(ctx context.Context, module, docID, field, value string, lastModified time.Time) (string, error) {
	if c.cipher == nil || value == "" {
		return value, nil
	}
	key := cache.FieldKey(c.tenantID, module, docID, field, lastModified)
	if c.cache != nil {
		if b, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			return string(b), nil
		}
	}
	pt, err := c.cipher.DecryptField(value)
	if err != nil {
		return "", err
	}
	if c.cache != nil {
		_ = c.cache.Set(ctx, key, []byte(pt), c.ttl)
	}
	return pt, nil
}

// sensitive update operators whose values carry encryptable fields.
var updateOps = []string{"$set", "$push", "$addToSet"}

// encryptUpdate rewrites the designated fields of an update document with
// ciphertext, covering top-level assignments, $set/$push/$addToSet entries
// and their $each batched array forms.
func (c *fieldCodec) encryptUpdate(update bson.M, fields ...string) bson.M {
	if c.cipher == nil {
		return update
	}
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	c.encryptDoc(update, set)
	for _, op := range updateOps {
		if sub, ok := update[op].(bson.M); ok {
			c.encryptDoc(sub, set)
		}
	}
	return update
}

func (c *fieldCodec) encryptDoc(doc bson.M, fields map[string]bool) {
	for k, v := range doc {
		if !fields[k] {
			continue
		}
		switch val := v.(type) {
		case string:
			doc[k] = c.encrypt(val)
		case bson.M:
			if each, ok := val["$each"]; ok {
				val["$each"] = c.encryptSlice(each)
			}
		}
	}
}

func (c *fieldCodec) encryptSlice(v interface{}) interface{} {
	switch vals := v.(type) {
	case []string:
		out := make([]string, len(vals))
		for i, s := range vals {
			out[i] = c.encrypt(s)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vals))
		for i, e := range vals {
			if s, ok := e.(string); ok {
				out[i] = c.encrypt(s)
			} else {
				out[i] = e
			}
		}
		return out
	default:
		return v
	}
}

func (c *fieldCodec) decryptMessage(ctx context.Context, m *models.Message) error {
	pt, err := c.decryptField(ctx, "messages", m.ID, "content", m.Content, m.UpdatedAt)
	if err != nil {
		return err
	}
	m.Content = pt
	return nil
}

func (c *fieldCodec) decryptChat(ctx context.Context, ch *models.Chat) error {
	pt, err := c.decryptField(ctx, "chats", ch.ID, "name", ch.Name, ch.UpdatedAt)
	if err != nil {
		return err
	}
	ch.Name = pt
	if ch.LastMessage != nil {
		if err := c.decryptMessage(ctx, ch.LastMessage); err != nil {
			ch.LastMessage.Content = ""
			ch.LastMessage.ContentError = decryptErrorMarker
		}
	}
	return nil
}

const decryptErrorMarker = "decryption failed"
