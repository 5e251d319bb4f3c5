package models

import "time"

type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
	ChatTeam   ChatType = "team"
)

type MessageType string

const (
	MessageText      MessageType = "text"
	MessageImage     MessageType = "image"
	MessageFile      MessageType = "file"
	MessageRecording MessageType = "recording"
	MessageSystem    MessageType = "system"
)

type Presence string

const (
	PresenceOnline Presence = "online"
	PresenceAway   Presence = "away"
	PresenceBusy   Presence = "busy"
)

// VisibilityCursor hides data from one participant's view without deleting it
// for the others.
type VisibilityCursor struct {
	ParticipantID string    `bson:"participant_id" json:"participant_id"`
	DeletedAt     time.Time `bson:"deleted_at" json:"deleted_at"`
}

type Reaction struct {
	ParticipantID string    `bson:"participant_id" json:"participant_id"`
	Emoji         string    `bson:"emoji" json:"emoji"`
	ReactedAt     time.Time `bson:"reacted_at" json:"reacted_at"`
}

// UserRef carries identity-service display data merged in after repository
// load. Never persisted.
type UserRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type Chat struct {
	ID           string             `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name,omitempty" json:"name,omitempty"`
	NameError    string             `bson:"-" json:"name_error,omitempty"`
	Type         ChatType           `bson:"type" json:"type"`
	Participants []string           `bson:"participants" json:"participants"`
	// PairKey is the canonical sorted participant pair for direct chats; a
	// unique index on it keeps one direct chat per pair per tenant.
	PairKey     string             `bson:"pair_key,omitempty" json:"-"`
	LastMessage *Message           `bson:"last_message,omitempty" json:"last_message,omitempty"`
	Hidden      []VisibilityCursor `bson:"hidden,omitempty" json:"-"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}

type Message struct {
	ID           string             `bson:"_id,omitempty" json:"id"`
	ChatID       string             `bson:"chat_id" json:"chat_id"`
	SenderID     string             `bson:"sender_id" json:"sender_id"`
	Sender       *UserRef           `bson:"-" json:"sender,omitempty"`
	Content      string             `bson:"content" json:"content"`
	ContentError string             `bson:"-" json:"content_error,omitempty"`
	Type         MessageType        `bson:"type" json:"type"`
	Attachments  []string           `bson:"attachments,omitempty" json:"attachments,omitempty"`
	ReplyTo      string             `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	Reactions    []Reaction         `bson:"reactions,omitempty" json:"reactions,omitempty"`
	Viewers      []string           `bson:"viewers" json:"viewers"`
	Hidden       []VisibilityCursor `bson:"hidden,omitempty" json:"-"`
	Edited       bool               `bson:"edited" json:"edited"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// HiddenFor reports whether the message is soft-deleted from the given
// participant's view.
func (m *Message) HiddenFor(participantID string) bool {
	for _, h := range m.Hidden {
		if h.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// ViewedBy reports viewer-set membership.
func (m *Message) ViewedBy(participantID string) bool {
	for _, v := range m.Viewers {
		if v == participantID {
			return true
		}
	}
	return false
}

type Participant struct {
	ID         string    `bson:"_id" json:"id"`
	Active     bool      `bson:"active" json:"active"`
	Status     Presence  `bson:"status" json:"status"`
	PushTokens []string  `bson:"push_tokens,omitempty" json:"-"`
	LastSeenAt time.Time `bson:"last_seen_at" json:"last_seen_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}
