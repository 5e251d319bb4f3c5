package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-platform/internal/cache"
	"github.com/fathima-sithara/chat-platform/internal/crypto"
)

// Set bundles the tenant-scoped repositories bound to one store connection.
type Set struct {
	Chats        *ChatRepository
	Messages     *MessageRepository
	Participants *ParticipantRepository
}

// Bind wires the repositories over a tenant database. cipher may be nil for
// tenant-less maintenance access; fields then pass through unencrypted.
func Bind(db *mongo.Database, tenantID string, cipher *crypto.Cipher, valueCache cache.TTLCache, decryptedTTL time.Duration) *Set {
	codec := &fieldCodec{tenantID: tenantID, cipher: cipher, cache: valueCache, ttl: decryptedTTL}
	return &Set{
		Chats:        &ChatRepository{col: db.Collection("chats"), codec: codec},
		Messages:     &MessageRepository{col: db.Collection("messages"), codec: codec},
		Participants: &ParticipantRepository{col: db.Collection("participants")},
	}
}

// EnsureIndexes creates the indexes the repositories rely on. Idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("chats").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "type", Value: 1}, {Key: "pair_key", Value: 1}},
		Options: options.Index().SetUnique(true).SetPartialFilterExpression(
			bson.M{"type": "direct"}),
	})
	if err != nil {
		return err
	}
	_, err = db.Collection("messages").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "viewers", Value: 1}}},
	})
	return err
}
