package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-platform/internal/apperr"
	"github.com/fathima-sithara/chat-platform/internal/models"
)

type ChatRepository struct {
	col   *mongo.Collection
	codec *fieldCodec
}

// PairKey is the canonical identity of a direct chat: the unordered
// participant pair, sorted.
func PairKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return strings.Join(p, ":")
}

// CreateDirect returns the direct chat between the two participants, creating
// it if absent. The upsert keyed on the canonical pair keeps at most one
// direct chat per unordered pair.
func (r *ChatRepository) CreateDirect(ctx context.Context, a, b string) (*models.Chat, bool, error) {
	// BSON stores times at millisecond precision; truncate so the document
	// returned by the upsert compares equal and creation detection is exact.
	now := time.Now().UTC().Truncate(time.Millisecond)
	pairKey := PairKey(a, b)
	res := r.col.FindOneAndUpdate(ctx,
		bson.M{"type": models.ChatDirect, "pair_key": pairKey},
		bson.M{"$setOnInsert": &models.Chat{
			ID:           primitive.NewObjectID().Hex(),
			Type:         models.ChatDirect,
			Participants: []string{a, b},
			PairKey:      pairKey,
			CreatedAt:    now,
			UpdatedAt:    now,
		}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After))
	var ch models.Chat
	if err := res.Decode(&ch); err != nil {
		return nil, false, fmt.Errorf("create direct chat: %w", err)
	}
	if err := r.codec.decryptChat(ctx, &ch); err != nil {
		return nil, false, err
	}
	created := ch.CreatedAt.Equal(now)
	return &ch, created, nil
}

// Create inserts a group or team chat. The display name is encrypted at rest.
func (r *ChatRepository) Create(ctx context.Context, ch *models.Chat) error {
	if len(ch.Participants) < 2 {
		return fmt.Errorf("chat requires at least two participants")
	}
	now := time.Now().UTC()
	if ch.ID == "" {
		ch.ID = primitive.NewObjectID().Hex()
	}
	ch.CreatedAt = now
	ch.UpdatedAt = now

	stored := *ch
	stored.Name = r.codec.encrypt(ch.Name)
	if _, err := r.col.InsertOne(ctx, &stored); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (r *ChatRepository) Get(ctx context.Context, id string) (*models.Chat, error) {
	var ch models.Chat
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&ch)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: chat %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.codec.decryptChat(ctx, &ch); err != nil {
		ch.Name = ""
		ch.NameError = decryptErrorMarker
	}
	return &ch, nil
}

// SetLastMessage updates the chat's last-message pointer. The embedded body
// is stored as ciphertext like the message document itself. A nil message
// clears the pointer.
func (r *ChatRepository) SetLastMessage(ctx context.Context, chatID string, m *models.Message) error {
	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{"updated_at": now}}
	if m == nil {
		update["$unset"] = bson.M{"last_message": ""}
	} else {
		stored := *m
		stored.Content = r.codec.encrypt(m.Content)
		stored.ContentError = ""
		update["$set"].(bson.M)["last_message"] = &stored
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": chatID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: chat %s", apperr.ErrNotFound, chatID)
	}
	return nil
}

// Rename sets the encrypted display name through the update-operator codec.
func (r *ChatRepository) Rename(ctx context.Context, chatID, name string) error {
	update := r.codec.encryptUpdate(bson.M{
		"$set": bson.M{"name": name, "updated_at": time.Now().UTC()},
	}, "name")
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": chatID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: chat %s", apperr.ErrNotFound, chatID)
	}
	return nil
}

// ListForParticipant returns every chat the participant belongs to, newest
// activity first.
func (r *ChatRepository) ListForParticipant(ctx context.Context, participantID string) ([]*models.Chat, error) {
	cur, err := r.col.Find(ctx,
		bson.M{"participants": participantID},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.Chat
	for cur.Next(ctx) {
		var ch models.Chat
		if err := cur.Decode(&ch); err != nil {
			return nil, err
		}
		if err := r.codec.decryptChat(ctx, &ch); err != nil {
			ch.Name = ""
			ch.NameError = decryptErrorMarker
		}
		out = append(out, &ch)
	}
	return out, cur.Err()
}
