package engine

import (
	"context"

	"github.com/fathima-sithara/chat-platform/internal/models"
	"github.com/fathima-sithara/chat-platform/internal/tenant"
)

// ChatStore, MessageStore and ParticipantStore are the slices of the
// tenant-scoped repositories the engine consumes; fakes stand in for them in
// tests.
type ChatStore interface {
	CreateDirect(ctx context.Context, a, b string) (*models.Chat, bool, error)
	Create(ctx context.Context, ch *models.Chat) error
	Get(ctx context.Context, id string) (*models.Chat, error)
	SetLastMessage(ctx context.Context, chatID string, m *models.Message) error
	Rename(ctx context.Context, chatID, name string) error
	ListForParticipant(ctx context.Context, participantID string) ([]*models.Chat, error)
}

type MessageStore interface {
	Insert(ctx context.Context, m *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	History(ctx context.Context, chatID, viewerID string, page, limit int64) ([]*models.Message, int64, error)
	AddViewer(ctx context.Context, messageID, participantID string) (bool, error)
	MarkAllRead(ctx context.Context, chatID, participantID string) ([]string, error)
	SetReaction(ctx context.Context, messageID, participantID, emoji string) (*models.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, participantID string) error
	HideFor(ctx context.Context, messageID, participantID string) error
	Delete(ctx context.Context, messageID string) error
	UnreadCount(ctx context.Context, chatID, participantID string) (int64, error)
	LastVisible(ctx context.Context, chatID, participantID string) (*models.Message, error)
	SetContent(ctx context.Context, messageID, content string) error
}

type ParticipantStore interface {
	Upsert(ctx context.Context, p *models.Participant) error
	Get(ctx context.Context, id string) (*models.Participant, error)
	SetActive(ctx context.Context, id string, active bool) error
	SetStatus(ctx context.Context, id string, status models.Presence) error
	AddPushToken(ctx context.Context, id, token string) error
}

type Stores struct {
	Chats        ChatStore
	Messages     MessageStore
	Participants ParticipantStore
}

// StoreResolver hands the engine tenant-scoped stores.
type StoreResolver interface {
	Stores(ctx context.Context, tenantID string) (*Stores, error)
}

// RouterStores adapts the tenant connection router to the engine's resolver.
type RouterStores struct {
	Router *tenant.Router
}

func (r *RouterStores) Stores(ctx context.Context, tenantID string) (*Stores, error) {
	conn, err := r.Router.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Chats:        conn.Repos.Chats,
		Messages:     conn.Repos.Messages,
		Participants: conn.Repos.Participants,
	}, nil
}
