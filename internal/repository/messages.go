package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-platform/internal/apperr"
	"github.com/fathima-sithara/chat-platform/internal/models"
)

type MessageRepository struct {
	col   *mongo.Collection
	codec *fieldCodec
}

func (r *MessageRepository) Insert(ctx context.Context, m *models.Message) error {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = primitive.NewObjectID().Hex()
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Viewers == nil {
		m.Viewers = []string{}
	}

	stored := *m
	stored.Content = r.codec.encrypt(m.Content)
	if _, err := r.col.InsertOne(ctx, &stored); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepository) Get(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: message %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.codec.decryptMessage(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// History returns one page of a chat in chronological order, excluding
// messages hidden for the viewer. A decryption failure on one message marks
// that message's content as failed without aborting the page.
func (r *MessageRepository) History(ctx context.Context, chatID, viewerID string, page, limit int64) ([]*models.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	filter := bson.M{
		"chat_id":               chatID,
		"hidden.participant_id": bson.M{"$ne": viewerID},
	}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	skip := (page - 1) * limit
	cur, err := r.col.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit))
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var out []*models.Message
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, 0, err
		}
		if err := r.codec.decryptMessage(ctx, &m); err != nil {
			m.Content = ""
			m.ContentError = decryptErrorMarker
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, 0, err
	}
	// chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, total, nil
}

// AddViewer adds the participant to the viewer set. Membership is re-checked
// as part of the same write, so racing calls converge on one persisted entry;
// the bool reports whether this call made the net-new addition.
func (r *MessageRepository) AddViewer(ctx context.Context, messageID, participantID string) (bool, error) {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": messageID, "viewers": bson.M{"$ne": participantID}},
		bson.M{
			"$addToSet": bson.M{"viewers": participantID},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// MarkAllRead adds the participant as viewer on every unread message of the
// chat and returns the affected message ids.
func (r *MessageRepository) MarkAllRead(ctx context.Context, chatID, participantID string) ([]string, error) {
	filter := unreadFilter(chatID, participantID)
	cur, err := r.col.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			cur.Close(ctx)
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	cur.Close(ctx)
	if len(ids) == 0 {
		return nil, nil
	}
	_, err = r.col.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{
			"$addToSet": bson.M{"viewers": participantID},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// SetReaction records the participant's reaction, last write wins: any prior
// entry from the same participant is pulled before the new one is pushed.
func (r *MessageRepository) SetReaction(ctx context.Context, messageID, participantID, emoji string) (*models.Reaction, error) {
	if _, err := r.col.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$pull": bson.M{"reactions": bson.M{"participant_id": participantID}}}); err != nil {
		return nil, err
	}
	reaction := &models.Reaction{ParticipantID: participantID, Emoji: emoji, ReactedAt: time.Now().UTC()}
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{
			"$push": bson.M{"reactions": reaction},
			"$set":  bson.M{"updated_at": reaction.ReactedAt},
		})
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, fmt.Errorf("%w: message %s", apperr.ErrNotFound, messageID)
	}
	return reaction, nil
}

// RemoveReaction drops the participant's reaction without replacing it.
func (r *MessageRepository) RemoveReaction(ctx context.Context, messageID, participantID string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{
			"$pull": bson.M{"reactions": bson.M{"participant_id": participantID}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
	return err
}

// HideFor upserts the participant's visibility cursor on the message.
func (r *MessageRepository) HideFor(ctx context.Context, messageID, participantID string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": messageID, "hidden.participant_id": bson.M{"$ne": participantID}},
		bson.M{"$push": bson.M{"hidden": models.VisibilityCursor{
			ParticipantID: participantID,
			DeletedAt:     time.Now().UTC(),
		}}})
	return err
}

func (r *MessageRepository) Delete(ctx context.Context, messageID string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": messageID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: message %s", apperr.ErrNotFound, messageID)
	}
	return nil
}

// UnreadCount counts messages in the chat that the participant did not send,
// has not viewed, and has not hidden.
func (r *MessageRepository) UnreadCount(ctx context.Context, chatID, participantID string) (int64, error) {
	return r.col.CountDocuments(ctx, unreadFilter(chatID, participantID))
}

// LastVisible returns the most recent message of the chat not hidden for the
// participant, or nil when the chat has none left.
func (r *MessageRepository) LastVisible(ctx context.Context, chatID, participantID string) (*models.Message, error) {
	var m models.Message
	err := r.col.FindOne(ctx,
		bson.M{"chat_id": chatID, "hidden.participant_id": bson.M{"$ne": participantID}},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.codec.decryptMessage(ctx, &m); err != nil {
		m.Content = ""
		m.ContentError = decryptErrorMarker
	}
	return &m, nil
}

// SetContent re-encrypts an edited body in place.
func (r *MessageRepository) SetContent(ctx context.Context, messageID, content string) error {
	update := r.codec.encryptUpdate(bson.M{
		"$set": bson.M{
			"content":    content,
			"edited":     true,
			"updated_at": time.Now().UTC(),
		},
	}, "content")
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": messageID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: message %s", apperr.ErrNotFound, messageID)
	}
	return nil
}

func unreadFilter(chatID, participantID string) bson.M {
	return bson.M{
		"chat_id":               chatID,
		"sender_id":             bson.M{"$ne": participantID},
		"viewers":               bson.M{"$ne": participantID},
		"hidden.participant_id": bson.M{"$ne": participantID},
	}
}
