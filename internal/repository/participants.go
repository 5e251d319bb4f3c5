package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-platform/internal/apperr"
	"github.com/fathima-sithara/chat-platform/internal/models"
)

// Participant documents carry no sensitive text, so the repository runs
// without the field codec.
type ParticipantRepository struct {
	col *mongo.Collection
}

func (r *ParticipantRepository) Upsert(ctx context.Context, p *models.Participant) error {
	now := time.Now().UTC()
	p.UpdatedAt = now
	update := bson.M{
		"$set": bson.M{
			"active":       p.Active,
			"last_seen_at": p.LastSeenAt,
			"updated_at":   now,
		},
		"$setOnInsert": bson.M{"status": models.PresenceOnline},
	}
	if p.Status != "" {
		update["$set"].(bson.M)["status"] = p.Status
		delete(update, "$setOnInsert")
	}
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": p.ID}, update, options.Update().SetUpsert(true))
	return err
}

func (r *ParticipantRepository) Get(ctx context.Context, id string) (*models.Participant, error) {
	var p models.Participant
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: participant %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ParticipantRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"active":       active,
		"last_seen_at": time.Now().UTC(),
		"updated_at":   time.Now().UTC(),
	}})
	return err
}

func (r *ParticipantRepository) SetStatus(ctx context.Context, id string, status models.Presence) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}})
	return err
}

func (r *ParticipantRepository) AddPushToken(ctx context.Context, id, token string) error {
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$addToSet": bson.M{"push_tokens": token},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}, options.Update().SetUpsert(true))
	return err
}
