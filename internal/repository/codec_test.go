package repository

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/fathima-sithara/chat-platform/internal/cache"
	"github.com/fathima-sithara/chat-platform/internal/crypto"
	"github.com/fathima-sithara/chat-platform/internal/models"
)

func testCodec(t *testing.T) *fieldCodec {
	t.Helper()
	cipher, err := crypto.NewCipher(bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, crypto.NonceSize))
	require.NoError(t, err)
	return &fieldCodec{tenantID: "acme", cipher: cipher, cache: cache.NewMemory(), ttl: time.Minute}
}

func TestEncryptUpdateSet(t *testing.T) {
	c := testCodec(t)
	update := c.encryptUpdate(bson.M{"$set": bson.M{"content": "hello", "edited": true}}, "content")

	got := update["$set"].(bson.M)["content"].(string)
	assert.NotEqual(t, "hello", got)
	pt, err := c.cipher.DecryptField(got)
	require.NoError(t, err)
	assert.Equal(t, "hello", pt)
	assert.Equal(t, true, update["$set"].(bson.M)["edited"], "non-sensitive fields untouched")
}

func TestEncryptUpdatePushEach(t *testing.T) {
	c := testCodec(t)
	update := c.encryptUpdate(bson.M{
		"$push": bson.M{"content": bson.M{"$each": []string{"a", "b"}}},
	}, "content")

	each := update["$push"].(bson.M)["content"].(bson.M)["$each"].([]string)
	require.Len(t, each, 2)
	for i, want := range []string{"a", "b"} {
		pt, err := c.cipher.DecryptField(each[i])
		require.NoError(t, err)
		assert.Equal(t, want, pt)
	}
}

func TestEncryptUpdateAddToSetEachInterface(t *testing.T) {
	c := testCodec(t)
	update := c.encryptUpdate(bson.M{
		"$addToSet": bson.M{"name": bson.M{"$each": []interface{}{"x", 7}}},
	}, "name")

	each := update["$addToSet"].(bson.M)["name"].(bson.M)["$each"].([]interface{})
	pt, err := c.cipher.DecryptField(each[0].(string))
	require.NoError(t, err)
	assert.Equal(t, "x", pt)
	assert.Equal(t, 7, each[1], "non-string elements pass through")
}

func TestEncryptUpdateTopLevel(t *testing.T) {
	c := testCodec(t)
	update := c.encryptUpdate(bson.M{"name": "room", "type": "group"}, "name")

	pt, err := c.cipher.DecryptField(update["name"].(string))
	require.NoError(t, err)
	assert.Equal(t, "room", pt)
	assert.Equal(t, "group", update["type"])
}

func TestNilCipherPassthrough(t *testing.T) {
	c := &fieldCodec{tenantID: "acme"}
	assert.Equal(t, "plain", c.encrypt("plain"))

	update := c.encryptUpdate(bson.M{"$set": bson.M{"content": "plain"}}, "content")
	assert.Equal(t, "plain", update["$set"].(bson.M)["content"])

	got, err := c.decryptField(context.Background(), "messages", "m1", "content", "plain", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
}

func TestDecryptFieldUsesCache(t *testing.T) {
	c := testCodec(t)
	ctx := context.Background()
	mod := time.Now()

	ct := c.cipher.EncryptField("body")
	got, err := c.decryptField(ctx, "messages", "m1", "content", ct, mod)
	require.NoError(t, err)
	assert.Equal(t, "body", got)

	// poison the cache entry: a hit must come from the cache, not the cipher
	key := cache.FieldKey("acme", "messages", "m1", "content", mod)
	require.NoError(t, c.cache.Set(ctx, key, []byte("cached"), time.Minute))
	got, err = c.decryptField(ctx, "messages", "m1", "content", ct, mod)
	require.NoError(t, err)
	assert.Equal(t, "cached", got)

	// a new lastModified misses the poisoned entry
	got, err = c.decryptField(ctx, "messages", "m1", "content", ct, mod.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "body", got)
}

func TestDecryptMessageFailure(t *testing.T) {
	c := testCodec(t)
	m := &models.Message{ID: "m1", Content: "deadbeef", UpdatedAt: time.Now()}
	err := c.decryptMessage(context.Background(), m)
	assert.Error(t, err)
}

func TestDecryptChatMarksFailedLastMessage(t *testing.T) {
	c := testCodec(t)
	ch := &models.Chat{
		ID:          "c1",
		Name:        c.cipher.EncryptField("general"),
		UpdatedAt:   time.Now(),
		LastMessage: &models.Message{ID: "m1", Content: "deadbeef", UpdatedAt: time.Now()},
	}
	err := c.decryptChat(context.Background(), ch)
	require.NoError(t, err, "chat name decrypts fine")
	assert.Equal(t, "general", ch.Name)
	assert.Equal(t, decryptErrorMarker, ch.LastMessage.ContentError)
	assert.Empty(t, ch.LastMessage.Content)
}

func TestPairKeyCanonical(t *testing.T) {
	assert.Equal(t, PairKey("b", "a"), PairKey("a", "b"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

// Created-chat detection compares the stored CreatedAt against the timestamp
// written on insert; the comparison must survive BSON's millisecond precision.
func TestCreationTimestampSurvivesStorage(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	ch := models.Chat{
		ID:           "c1",
		Type:         models.ChatDirect,
		Participants: []string{"a", "b"},
		PairKey:      PairKey("a", "b"),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	b, err := bson.Marshal(ch)
	require.NoError(t, err)
	var got models.Chat
	require.NoError(t, bson.Unmarshal(b, &got))
	assert.True(t, got.CreatedAt.Equal(now), "round-tripped CreatedAt matches the insert timestamp")

	// an untruncated timestamp with sub-millisecond digits would not
	nano := now.Add(123 * time.Microsecond)
	ch.CreatedAt = nano
	b, err = bson.Marshal(ch)
	require.NoError(t, err)
	require.NoError(t, bson.Unmarshal(b, &got))
	assert.False(t, got.CreatedAt.Equal(nano))
}
